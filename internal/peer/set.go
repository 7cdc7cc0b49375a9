package peer

import (
	"sort"
	"strings"
	"sync"
)

// Set is a concurrency-safe set of peer base addresses.
type Set struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

func NewSet(addrs ...string) *Set {
	s := &Set{addrs: make(map[string]struct{})}
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Normalize trims whitespace and trailing slashes from an address.
func Normalize(addr string) string {
	return strings.TrimRight(strings.TrimSpace(addr), "/")
}

// Add inserts addr and reports whether it was new. Empty addresses are ignored.
func (s *Set) Add(addr string) bool {
	addr = Normalize(addr)
	if addr == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addrs[addr]; ok {
		return false
	}
	s.addrs[addr] = struct{}{}
	return true
}

// List returns the addresses in sorted order.
func (s *Set) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.addrs))
	for a := range s.addrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addrs)
}
