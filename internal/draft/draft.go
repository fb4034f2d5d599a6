// Package draft persists in-progress compose text so it survives
// reloads, without writing on every keystroke.
package draft

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"domofon/internal/models"
)

const DefaultDebounce = 2 * time.Second

// Storage is the durable table the store writes to.
type Storage interface {
	UpsertDraft(draft models.Draft) error
	GetDraft(key models.DraftKey) (models.Draft, error)
	DeleteDraft(key models.DraftKey) error
}

type Config struct {
	Key      models.DraftKey
	Debounce time.Duration // default 2s
	Metadata map[string]string
}

// Store debounces draft writes for one (user, conversation, draft-kind)
// triple. At most one timer is pending at any time: every content
// change cancels the previous one, so a save can never carry content
// older than the change that scheduled it.
type Store struct {
	storage  Storage
	key      models.DraftKey
	debounce time.Duration
	metadata map[string]string
	now      func() time.Time

	mu             sync.Mutex
	timer          *time.Timer
	pendingContent string
	pendingSubject string
	lastSaved      string
	lastSavedSet   bool
	closed         bool
}

func NewStore(storage Storage, cfg Config) *Store {
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Store{
		storage:  storage,
		key:      cfg.Key,
		debounce: cfg.Debounce,
		metadata: cfg.Metadata,
		now:      time.Now,
	}
}

// Update records a content change and re-arms the save timer. Content
// identical to what was last persisted is ignored.
func (s *Store) Update(content, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.lastSavedSet && content == s.lastSaved {
		return
	}

	s.pendingContent = content
	s.pendingSubject = subject
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.save)
}

// Load returns the persisted draft for the key, or nil when there is
// none. Absence is a normal outcome, not an error.
func (s *Store) Load() (*models.Draft, error) {
	draft, err := s.storage.GetDraft(s.key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// Discard removes the draft, e.g. after a successful send, and resets
// the last-saved marker so a fresh compose cycle with the same text is
// not mistaken for already-saved content.
func (s *Store) Discard() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.lastSaved = ""
	s.lastSavedSet = false
	s.mu.Unlock()

	if err := s.storage.DeleteDraft(s.key); err != nil {
		slog.Error("draft delete failed", "user_id", s.key.UserID,
			"conversation_id", s.key.ConversationID, "error", err)
	}
}

// Flush persists any pending change immediately instead of waiting for
// the timer. Intended for teardown.
func (s *Store) Flush() {
	s.mu.Lock()
	pending := s.timer != nil
	if pending {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if pending {
		s.save()
	}
}

// Close cancels any pending timer without persisting.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) save() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	content := s.pendingContent
	subject := s.pendingSubject
	s.mu.Unlock()

	// Persistence failures are recovered locally: the content still
	// lives in the input, so log and move on.
	if strings.TrimSpace(content) == "" {
		if err := s.storage.DeleteDraft(s.key); err != nil {
			slog.Error("draft delete failed", "user_id", s.key.UserID,
				"conversation_id", s.key.ConversationID, "error", err)
			return
		}
	} else {
		err := s.storage.UpsertDraft(models.Draft{
			UserID:         s.key.UserID,
			ConversationID: s.key.ConversationID,
			Content:        content,
			Subject:        subject,
			DraftType:      s.key.DraftType,
			Metadata:       s.metadata,
			UpdatedAt:      s.now().Unix(),
		})
		if err != nil {
			slog.Error("draft save failed", "user_id", s.key.UserID,
				"conversation_id", s.key.ConversationID, "error", err)
			return
		}
	}

	s.mu.Lock()
	s.lastSaved = content
	s.lastSavedSet = true
	s.mu.Unlock()
}
