// Package storage is the durable key-value contract backing credentials,
// tokens and settings. A value survives power loss once Put returns nil.
package storage

import "sync"

// Namespaces. Erase is namespace-granular so a factory reset can clear
// credentials and tokens without touching settings.
const (
	NSCredentials = "pod_creds"
	NSAuth        = "pod_auth"
	NSSettings    = "pod_settings"
	NSLights      = "pod_lights"
)

type Store interface {
	Get(ns, key string) (value string, ok bool, err error)
	Put(ns, key, value string) error
	Erase(ns string) error
}

// Memory is a Store for tests and for RAM staging on targets without a
// filesystem. Not durable.
type Memory struct {
	mu sync.RWMutex
	m  map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]map[string]string)}
}

func (s *Memory) Get(ns, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[ns][key]
	return v, ok, nil
}

func (s *Memory) Put(ns, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[ns] == nil {
		s.m[ns] = make(map[string]string)
	}
	s.m[ns][key] = value
	return nil
}

func (s *Memory) Erase(ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, ns)
	return nil
}
