package store

import (
	"strings"
	"sync"
)

// MemoryBackend keeps every session's storage in-process (single instance only).
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewMemoryBackend initializes an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]map[string]string)}
}

// Session returns the storage bound to sessionID.
func (m *MemoryBackend) Session(sessionID string) (Storage, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	return &memorySession{backend: m, id: sessionID}, nil
}

// Drop forgets all keys of a session.
func (m *MemoryBackend) Drop(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

type memorySession struct {
	backend *MemoryBackend
	id      string
}

func (s *memorySession) Get(key string) (string, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	v, ok := s.backend.sessions[s.id][key]
	return v, ok, nil
}

func (s *memorySession) Set(key, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	kv, ok := s.backend.sessions[s.id]
	if !ok {
		kv = make(map[string]string)
		s.backend.sessions[s.id] = kv
	}
	kv[key] = value
	return nil
}

func (s *memorySession) Remove(keys ...string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	kv, ok := s.backend.sessions[s.id]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(kv, k)
	}
	return nil
}

// MemoryStorage is a standalone Storage, handy for tests and CLI use.
type MemoryStorage struct {
	mu sync.RWMutex
	kv map[string]string
}

// NewMemoryStorage builds an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{kv: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *MemoryStorage) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
	}
	return nil
}
