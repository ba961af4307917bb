package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"concierge/pkg/logging"
)

// SeenSet is the durable set of conversation identifiers that have
// ever made contact, used to gate the one-time welcome message. It
// only grows; the backing file is rewritten wholesale on each new
// addition.
type SeenSet struct {
	mu     sync.Mutex
	path   string
	seen   map[string]struct{}
	order  []string
	logger logging.Logger
}

// NewSeenSet loads the identifier file at path. Missing or corrupt
// files start an empty set.
func NewSeenSet(path string, logger logging.Logger) *SeenSet {
	s := &SeenSet{
		path:   path,
		seen:   make(map[string]struct{}),
		logger: logger,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read seen users file, starting empty")
		}
		return s
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Seen users file is corrupt, starting empty")
		return s
	}
	for _, id := range ids {
		if _, ok := s.seen[id]; !ok {
			s.seen[id] = struct{}{}
			s.order = append(s.order, id)
		}
	}
	return s
}

// Contains reports whether the identifier has made contact before.
func (s *SeenSet) Contains(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[conversationID]
	return ok
}

// MarkSeen records a first contact and persists the set. Returns true
// when the identifier was new. Persistence failures are logged; the
// in-memory set still advances so the welcome stays one-time within
// the process.
func (s *SeenSet) MarkSeen(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[conversationID]; ok {
		return false
	}
	s.seen[conversationID] = struct{}{}
	s.order = append(s.order, conversationID)
	if err := s.persistLocked(); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Error("Failed to persist seen users file")
	}
	return true
}

// Size returns the number of known identifiers.
func (s *SeenSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *SeenSet) persistLocked() error {
	data, err := json.MarshalIndent(s.order, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".seen_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
