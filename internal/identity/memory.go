package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used for
// tests and for running the service without a database.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[string]*Identity
	byEmail  map[string]string
	topics   map[string][]BlockedTopic // identity id -> topics
	sessions map[string]*Session       // session id -> session
	byHash   map[string]string         // token hash -> session id
	configs  map[string]*SafetyConfig
	messages []Message
	events   []AuditEvent
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[string]*Identity),
		byEmail:  make(map[string]string),
		topics:   make(map[string][]BlockedTopic),
		sessions: make(map[string]*Session),
		byHash:   make(map[string]string),
		configs:  make(map[string]*SafetyConfig),
	}
}

func (s *InMemory) Identities(ctx context.Context) IdentityStore       { return (*memIdentities)(s) }
func (s *InMemory) Sessions(ctx context.Context) SessionStore          { return (*memSessions)(s) }
func (s *InMemory) Messages(ctx context.Context) MessageStore          { return (*memMessages)(s) }
func (s *InMemory) SafetyConfigs(ctx context.Context) SafetyConfigStore { return (*memConfigs)(s) }
func (s *InMemory) Audit(ctx context.Context) AuditStore               { return (*memAudit)(s) }

type memIdentities InMemory

func (m *memIdentities) Create(ctx context.Context, id *Identity) error {
	if id == nil || strings.TrimSpace(id.ID) == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id.ID]; ok {
		return ErrAlreadyExists
	}
	email := normalizeEmail(id.Email)
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return ErrAlreadyExists
		}
	}
	if id.GuardianID != "" {
		guardian := s.byID[id.GuardianID]
		if err := ValidateGuardianLink(id, guardian); err != nil {
			return err
		}
	}
	cp := *id
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	cp.SafetyConfig = nil
	cp.BlockedTopics = nil
	s.byID[cp.ID] = &cp
	if email != "" {
		s.byEmail[email] = cp.ID
	}
	return nil
}

func (m *memIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	s := (*InMemory)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.loadLocked(rec), nil
}

func (m *memIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s := (*InMemory)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.loadLocked(s.byID[id]), nil
}

func (m *memIdentities) AddBlockedTopic(ctx context.Context, topic *BlockedTopic) error {
	if topic == nil || topic.IdentityID == "" || strings.TrimSpace(topic.Keyword) == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[topic.IdentityID]; !ok {
		return ErrNotFound
	}
	cp := *topic
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.topics[cp.IdentityID] = append(s.topics[cp.IdentityID], cp)
	return nil
}

// loadLocked returns a copy with relations attached. Caller holds at least a
// read lock.
func (s *InMemory) loadLocked(rec *Identity) *Identity {
	out := *rec
	if cfg, ok := s.configs[rec.ID]; ok {
		cp := *cfg
		out.SafetyConfig = &cp
	}
	if topics := s.topics[rec.ID]; len(topics) > 0 {
		out.BlockedTopics = append([]BlockedTopic(nil), topics...)
	}
	return &out
}

type memSessions InMemory

func (m *memSessions) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.TokenHash == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byHash[cp.TokenHash] = cp.ID
	return nil
}

func (m *memSessions) FindByTokenHash(ctx context.Context, hash string) (*Session, error) {
	s := (*InMemory)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (m *memSessions) Revoke(ctx context.Context, id string) error {
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Active = false
	return nil
}

type memMessages InMemory

func (m *memMessages) Append(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

type memConfigs InMemory

func (m *memConfigs) Find(ctx context.Context, identityID string) (*SafetyConfig, error) {
	s := (*InMemory)(m)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *memConfigs) Upsert(ctx context.Context, cfg *SafetyConfig) error {
	if cfg == nil || cfg.IdentityID == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[cfg.IdentityID]; !ok {
		return ErrNotFound
	}
	cp := *cfg
	cp.UpdatedAt = time.Now().UTC()
	s.configs[cp.IdentityID] = &cp
	return nil
}

type memAudit InMemory

func (m *memAudit) Append(ctx context.Context, ev *AuditEvent) error {
	if ev == nil || ev.Type == "" {
		return ErrInvalidInput
	}
	s := (*InMemory)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

// Events returns a snapshot of recorded audit events. Test helper.
func (s *InMemory) Events() []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEvent(nil), s.events...)
}

// StoredMessages returns a snapshot of appended messages. Test helper.
func (s *InMemory) StoredMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
