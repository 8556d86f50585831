package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/flowbot/core/domain"
)

type userKey struct {
	botID  string
	chatID int64
}

// Memory is a process-local Store used in tests and single-node development.
// Every read returns a copy, so callers never share state with the map.
type Memory struct {
	mu       sync.RWMutex
	bots     map[string]domain.Bot
	users    map[userKey]*domain.User
	flows    []domain.Flow
	messages []domain.MessageRecord
	nextUser int64
	nextFlow int64
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bots:  make(map[string]domain.Bot),
		users: make(map[userKey]*domain.User),
		now:   time.Now,
	}
}

func (m *Memory) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *Memory) ListBots(_ context.Context) ([]domain.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Bot, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateBot(_ context.Context, b *domain.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bots[b.ID]; exists {
		return ErrConflict
	}
	for _, other := range m.bots {
		if other.Token == b.Token {
			return ErrConflict
		}
	}
	now := m.now()
	b.CreatedAt, b.UpdatedAt = now, now
	m.bots[b.ID] = *b
	return nil
}

func (m *Memory) SetWebhook(_ context.Context, id string, set bool, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	b.IsWebhookSet, b.WebhookURL, b.UpdatedAt = set, url, m.now()
	m.bots[id] = b
	return nil
}

func (m *Memory) IncrementRequests(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	b.RequestCount++
	m.bots[id] = b
	return nil
}

func (m *Memory) Stats(_ context.Context, id string) (domain.BotStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return domain.BotStats{}, ErrNotFound
	}
	st := domain.BotStats{UserCount: b.UserCount, RequestCount: b.RequestCount}
	for _, msg := range m.messages {
		if msg.BotID != id {
			continue
		}
		st.TotalMessages++
		if msg.Direction == domain.Incoming {
			st.IncomingMessages++
		} else {
			st.OutgoingMessages++
		}
	}
	return st, nil
}

func (m *Memory) GetOrCreateUser(_ context.Context, botID string, chatID int64, p domain.Profile) (*domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey{botID, chatID}
	if u, ok := m.users[key]; ok {
		return u.Clone(), false, nil
	}
	b, ok := m.bots[botID]
	if !ok {
		return nil, false, ErrNotFound
	}
	m.nextUser++
	u := domain.NewUser(botID, chatID, p, m.now())
	u.ID = m.nextUser
	m.users[key] = u
	b.UserCount++
	m.bots[botID] = b
	return u.Clone(), true, nil
}

func (m *Memory) SaveUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userKey{u.BotID, u.ChatID}
	cur, ok := m.users[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != u.Version {
		return ErrConflict
	}
	u.Version++
	u.LastInteraction = m.now()
	m.users[key] = u.Clone()
	return nil
}

func (m *Memory) GetUser(_ context.Context, botID string, chatID int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userKey{botID, chatID}]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) DefaultFlow(_ context.Context, botID string) (*domain.Flow, error) {
	return m.findFlow(func(f domain.Flow) bool { return f.BotID == botID && f.IsDefault })
}

func (m *Memory) FlowByTrigger(_ context.Context, botID, trigger string) (*domain.Flow, error) {
	if trigger == "" {
		return nil, ErrNotFound
	}
	return m.findFlow(func(f domain.Flow) bool { return f.BotID == botID && f.Trigger == trigger })
}

func (m *Memory) findFlow(match func(domain.Flow) bool) (*domain.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.flows {
		if f.IsActive && match(f) {
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateFlow(_ context.Context, f *domain.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[f.BotID]; !ok {
		return ErrNotFound
	}
	if f.IsDefault && f.IsActive {
		for _, other := range m.flows {
			if other.BotID == f.BotID && other.IsDefault && other.IsActive {
				return ErrConflict
			}
		}
	}
	m.nextFlow++
	now := m.now()
	f.ID, f.CreatedAt, f.UpdatedAt = m.nextFlow, now, now
	m.flows = append(m.flows, *f)
	return nil
}

func (m *Memory) ListFlows(_ context.Context, botID string) ([]domain.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Flow
	for _, f := range m.flows {
		if f.BotID == botID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	msg.CreatedAt = m.now()
	m.messages = append(m.messages, *msg)
	return nil
}

// Messages returns a copy of the audit trail of a bot, oldest first.
func (m *Memory) Messages(botID string) []domain.MessageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MessageRecord
	for _, msg := range m.messages {
		if msg.BotID == botID {
			out = append(out, msg)
		}
	}
	return out
}
