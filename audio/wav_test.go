package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 3200)
	out, err := EncodeWAV(pcm, DefaultFormat)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(out) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", out[:44])
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(out[40:44]); size != 3200 {
		t.Errorf("data size = %d", size)
	}

	data, err := readWAVData(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("readWAVData: %v", err)
	}
	if data.Format != DefaultFormat || data.Offset != wavHeaderSize || data.Size != 3200 {
		t.Errorf("parsed %+v", data)
	}
}

func TestEncodeWAVRejects(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		f    Format
	}{
		{"empty", nil, DefaultFormat},
		{"odd length", make([]byte, 3), DefaultFormat},
		{"bad rate", make([]byte, 4), Format{SampleRate: 1000, Channels: 1}},
		{"bad channels", make([]byte, 4), Format{SampleRate: 16000, Channels: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.f); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadWAVDataSkipsExtraChunks(t *testing.T) {
	wav, _ := EncodeWAV(make([]byte, 8), DefaultFormat)

	// Insert a LIST chunk between fmt and data.
	var buf bytes.Buffer
	buf.Write(wav[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write([]byte{1, 2, 3, 4, 5, 0}) // odd size is padded
	buf.Write(wav[36:])

	data, err := readWAVData(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readWAVData: %v", err)
	}
	if data.Size != 8 || data.Offset != int64(36+8+6+8) {
		t.Errorf("parsed %+v", data)
	}

	if _, err := readWAVData(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Error("expected error for non-wav input")
	}
}

func TestWAVFileSource(t *testing.T) {
	pcm := make([]byte, 16000) // half a second at 16 kHz mono
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav, err := EncodeWAV(pcm, DefaultFormat)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewWAVFileSource(path, false)
	if err != nil {
		t.Fatalf("NewWAVFileSource: %v", err)
	}
	if src.Format() != DefaultFormat {
		t.Errorf("format = %+v", src.Format())
	}
	if src.Duration() != 500*time.Millisecond {
		t.Errorf("duration = %s", src.Duration())
	}

	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("read %d bytes, want the %d PCM bytes", len(got), len(pcm))
	}
}

func TestWAVFileSourcePacedCloseUnblocks(t *testing.T) {
	wav, _ := EncodeWAV(make([]byte, 32000), DefaultFormat)
	path := filepath.Join(t.TempDir(), "paced.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := NewWAVFileSource(path, true)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(rc)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	rc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("paced read did not unblock on Close")
	}
}

func TestNewWAVFileSourceMissingFile(t *testing.T) {
	if _, err := NewWAVFileSource(filepath.Join(t.TempDir(), "nope.wav"), false); err == nil {
		t.Error("expected error")
	}
}
