package audio

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a WAV container so each
// fragment can be decoded on its own.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("cannot encode empty audio")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%f.FrameSize() != 0 {
		return nil, errors.Errorf("pcm length %d is not a multiple of frame size %d", len(pcm), f.FrameSize())
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    uint16(f.FrameSize()),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, errors.Wrap(err, "write wav header")
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// wavData locates the PCM data chunk of a WAV stream. It walks the chunk
// list, so files with LIST/fact chunks before "data" are accepted.
type wavData struct {
	Format Format
	Offset int64
	Size   int64
}

func readWAVData(r io.ReadSeeker) (wavData, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return wavData{}, errors.Wrap(err, "read riff header")
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return wavData{}, errors.New("not a RIFF/WAVE file")
	}

	var (
		out     wavData
		haveFmt bool
		pos     int64 = 12
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return wavData{}, errors.Wrap(err, "missing data chunk")
		}
		pos += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return wavData{}, errors.Errorf("fmt chunk too short: %d", size)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return wavData{}, errors.Wrap(err, "read fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 {
				return wavData{}, errors.Errorf("unsupported audio format %d (only PCM)", audioFormat)
			}
			if bits != bitsPerSample {
				return wavData{}, errors.Errorf("unsupported bit depth %d (only 16-bit)", bits)
			}
			out.Format = Format{SampleRate: int(rate), Channels: int(channels)}
			haveFmt = true
			if _, err := r.Seek(pos+size+size%2, io.SeekStart); err != nil {
				return wavData{}, errors.Wrap(err, "skip fmt chunk")
			}
		case "data":
			if !haveFmt {
				return wavData{}, errors.New("data chunk before fmt chunk")
			}
			out.Offset = pos
			out.Size = size
			return out, out.Format.Validate()
		default:
			if _, err := r.Seek(pos+size+size%2, io.SeekStart); err != nil {
				return wavData{}, errors.Wrapf(err, "skip %q chunk", id)
			}
		}
		pos += size + size%2
	}
}
