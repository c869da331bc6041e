package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]User
	sessions map[string]Session
	chats    map[int64]Chat
	msgs     map[int64]Msg

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]User),
		sessions: make(map[string]Session),
		chats:    make(map[int64]Chat),
		msgs:     make(map[int64]Msg),
		now:      time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateUser(ctx context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := User{ID: m.id(), Email: email, CreatedAt: m.now()}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) CreateSession(ctx context.Context, userID int64, ttl time.Duration) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return Session{}, ErrNotFound
	}
	s := Session{Token: uuid.NewString(), UserID: userID, ExpiresAt: m.now().Add(ttl)}
	m.sessions[s.Token] = s
	return s, nil
}

func (m *Memory) ValidateSession(ctx context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, token)
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

func (m *Memory) CreateChat(ctx context.Context, userID int64) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return Chat{}, ErrNotFound
	}
	now := m.now()
	c := Chat{ID: m.id(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.chats[c.ID] = c
	return c, nil
}

func (m *Memory) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) UserChats(ctx context.Context, userID int64) ([]Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Chat
	for _, c := range m.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Memory) RenameChat(ctx context.Context, chatID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	m.chats[chatID] = c
	return nil
}

func (m *Memory) DeleteChat(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(m.chats, chatID)
	for id, msg := range m.msgs {
		if msg.ChatID == chatID {
			delete(m.msgs, id)
		}
	}
	return nil
}

func (m *Memory) AppendMessage(ctx context.Context, chatID int64, sender, body string) (Msg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return Msg{}, ErrNotFound
	}
	msg := Msg{
		ID:        m.id(),
		ChatID:    chatID,
		Body:      body,
		Sender:    sender,
		UserID:    c.UserID,
		ParentID:  c.HeadMsg,
		CreatedAt: m.now(),
	}
	m.msgs[msg.ID] = msg
	c.HeadMsg = msg.ID
	c.UpdatedAt = msg.CreatedAt
	m.chats[chatID] = c
	return msg, nil
}

func (m *Memory) MessageChain(ctx context.Context, chatID int64) ([]Msg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	var chain []Msg
	for id := c.HeadMsg; id != 0; {
		msg, ok := m.msgs[id]
		if !ok {
			break
		}
		chain = append(chain, msg)
		id = msg.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
