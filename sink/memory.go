package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

// MemoryStore keeps everything in process. Used with --no-store and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]model.TranscriptionResult
	notes   map[string]model.StoredNote
	nextID  int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]model.TranscriptionResult),
		notes:   make(map[string]model.StoredNote),
		now:     time.Now,
	}
}

func (m *MemoryStore) AppendTranscript(_ context.Context, sessionID string, r model.TranscriptionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], r)
	return nil
}

func (m *MemoryStore) FinalizeTranscript(_ context.Context, sessionID string, t model.Transcript) (model.StoredNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID + 1
	if prev, ok := m.notes[sessionID]; ok {
		id = prev.ID
	} else {
		m.nextID = id
	}
	note := model.StoredNote{
		ID:          id,
		SessionID:   sessionID,
		Entries:     len(t.Entries),
		Text:        t.Text(),
		StartedAt:   t.StartedAt,
		FinalizedAt: m.now(),
		Duration:    t.Duration,
	}
	m.notes[sessionID] = note
	return note, nil
}

func (m *MemoryStore) Entries(_ context.Context, sessionID string) ([]model.TranscriptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TranscriptionResult(nil), m.entries[sessionID]...), nil
}

func (m *MemoryStore) Note(_ context.Context, sessionID string) (model.StoredNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[sessionID]
	if !ok {
		return model.StoredNote{}, errors.Wrapf(ErrNotFound, "note for session %s", sessionID)
	}
	return n, nil
}

func (m *MemoryStore) Notes(_ context.Context, limit int) ([]model.StoredNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.StoredNote, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinalizedAt.Equal(out[j].FinalizedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].FinalizedAt.After(out[j].FinalizedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
