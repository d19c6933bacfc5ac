package workers

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newWorker(t *testing.T, tr stt.Transcriber, out chan model.TranscriptionResult, opts WorkerOptions) *TranscriptionWorker {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = func() time.Time { return fixedNow }
	w, err := NewTranscriptionWorker(tr, out, opts)
	if err != nil {
		t.Fatalf("NewTranscriptionWorker: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func receive(t *testing.T, out <-chan model.TranscriptionResult) model.TranscriptionResult {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
		return model.TranscriptionResult{}
	}
}

func TestNewTranscriptionWorkerValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	out := make(chan model.TranscriptionResult)

	if _, err := NewTranscriptionWorker(nil, out, WorkerOptions{}); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := NewTranscriptionWorker(stt.NewMockTranscriber(ctrl), nil, WorkerOptions{}); err == nil {
		t.Error("expected error for nil output")
	}
	if _, err := NewTranscriptionWorker(stt.NewMockTranscriber(ctrl), out, WorkerOptions{MaxPending: -1}); err == nil {
		t.Error("expected error for negative backlog")
	}
}

func TestResultsFollowSubmissionOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult, 8)

	gomock.InOrder(
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("one")).Return(" first ", nil),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("two")).Return("second", nil),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("three")).Return("third", nil),
	)

	w := newWorker(t, mockTr, out, WorkerOptions{})
	w.Submit(model.AudioFragment{Sequence: 1, Speaker: "You", Payload: []byte("one")})
	w.Submit(model.AudioFragment{Sequence: 2, Speaker: "", Payload: []byte("two")})
	w.Submit(model.AudioFragment{Sequence: 3, Speaker: "Ana", Payload: []byte("three")})
	w.Start()

	want := []model.TranscriptionResult{
		{Speaker: "You", Text: "first", Timestamp: fixedNow, Sequence: 1},
		{Speaker: model.DefaultSpeaker, Text: "second", Timestamp: fixedNow, Sequence: 2},
		{Speaker: "Ana", Text: "third", Timestamp: fixedNow, Sequence: 3},
	}
	for i, wr := range want {
		if got := receive(t, out); got != wr {
			t.Errorf("result %d = %+v, want %+v", i, got, wr)
		}
	}
}

func TestFailuresAndBlankTextProduceNoResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult, 8)

	gomock.InOrder(
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("a")).Return("alpha", nil),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("b")).Return("", errors.New("backend 500")),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("c")).Return("   ", nil),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("d")).Return("delta", nil),
	)

	w := newWorker(t, mockTr, out, WorkerOptions{})
	w.Start()
	for i, p := range []string{"a", "b", "c", "d"} {
		w.Submit(model.AudioFragment{Sequence: uint64(i + 1), Speaker: "You", Payload: []byte(p)})
	}

	if r := receive(t, out); r.Text != "alpha" || r.Sequence != 1 {
		t.Errorf("first result = %+v", r)
	}
	if r := receive(t, out); r.Text != "delta" || r.Sequence != 4 {
		t.Errorf("second result = %+v; failed and blank fragments must be skipped", r)
	}
}

func TestTimeoutSkipsFragment(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult, 8)

	gomock.InOrder(
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("slow")).DoAndReturn(
			func(ctx context.Context, _ []byte) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("fast")).Return("quick", nil),
	)

	w := newWorker(t, mockTr, out, WorkerOptions{Timeout: 20 * time.Millisecond})
	w.Start()
	w.Submit(model.AudioFragment{Sequence: 1, Payload: []byte("slow")})
	w.Submit(model.AudioFragment{Sequence: 2, Payload: []byte("fast")})

	if r := receive(t, out); r.Sequence != 2 || r.Text != "quick" {
		t.Errorf("result = %+v", r)
	}
}

func TestOneCallAtATime(t *testing.T) {
	var inFlight, maxInFlight int32
	tr := stt.TranscriberFunc(func(ctx context.Context, p []byte) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return string(p), nil
	})
	out := make(chan model.TranscriptionResult, 32)
	w := newWorker(t, tr, out, WorkerOptions{})
	w.Start()

	for i := 1; i <= 10; i++ {
		w.Submit(model.AudioFragment{Sequence: uint64(i), Payload: []byte{byte('a' + i)}})
	}
	for i := 1; i <= 10; i++ {
		if r := receive(t, out); r.Sequence != uint64(i) {
			t.Fatalf("result %d has sequence %d", i, r.Sequence)
		}
	}
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent calls = %d", got)
	}
}

func TestBacklogLimitDropsExcess(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult, 8)

	w := newWorker(t, mockTr, out, WorkerOptions{MaxPending: 2})
	// Not started, so nothing drains the queue.
	if !w.Submit(model.AudioFragment{Sequence: 1}) || !w.Submit(model.AudioFragment{Sequence: 2}) {
		t.Fatal("submissions within the backlog were refused")
	}
	if w.Submit(model.AudioFragment{Sequence: 3}) {
		t.Error("submission beyond the backlog was accepted")
	}
	if w.Pending() != 2 {
		t.Errorf("pending = %d", w.Pending())
	}
}

func TestStopCancelsInFlightCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult, 1)
	entered := make(chan struct{})

	mockTr.EXPECT().Transcribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ []byte) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})

	w := newWorker(t, mockTr, out, WorkerOptions{Timeout: time.Hour})
	w.Start()
	w.Submit(model.AudioFragment{Sequence: 1, Payload: []byte("x")})
	<-entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight call")
	}
	if w.Submit(model.AudioFragment{Sequence: 2}) {
		t.Error("Submit accepted after Stop")
	}
	select {
	case r := <-out:
		t.Errorf("result after Stop: %+v", r)
	default:
	}
}
