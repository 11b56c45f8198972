package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/kairoscore/agentgraph/pkg/models"
)

// HistoryStore persists the user-visible message history and title for a
// thread, on behalf of whatever host application embeds the orchestrator.
// This module does not ship a production implementation: the host owns its
// own chat-history persistence and is expected to provide one.
type HistoryStore interface {
	AppendMessage(ctx context.Context, threadID string, msg models.Message) error
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	UpdateTitle(ctx context.Context, threadID, title string) error
	Delete(ctx context.Context, threadID string) error
}

// MemoryHistoryStore is a trivial in-process HistoryStore kept for tests and
// local experimentation. It is not durable and not suitable for production
// use; a real host persists history in its own store.
type MemoryHistoryStore struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	titles   map[string]string
}

// NewMemoryHistoryStore constructs an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		messages: make(map[string][]models.Message),
		titles:   make(map[string]string),
	}
}

func (s *MemoryHistoryStore) AppendMessage(_ context.Context, threadID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[threadID] = append(s.messages[threadID], msg)
	return nil
}

func (s *MemoryHistoryStore) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[threadID]))
	copy(out, s.messages[threadID])
	return out, nil
}

func (s *MemoryHistoryStore) UpdateTitle(_ context.Context, threadID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[threadID] = title
	return nil
}

func (s *MemoryHistoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, threadID)
	delete(s.titles, threadID)
	return nil
}
