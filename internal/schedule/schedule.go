package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"concierge/pkg/logging"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "schedule",
		Name:      "mutations_total",
		Help:      "Schedule store mutations by operation and status",
	}, []string{"operation", "status"})

	postsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "concierge",
		Subsystem: "schedule",
		Name:      "posts",
		Help:      "Number of scheduled posts currently stored",
	})
)

// StatusPending is the default lifecycle status for new posts.
const StatusPending = "pending"

// PostRecord is one scheduled post. Older data files spell the time
// field "upload_time"; both spellings are accepted on read and the
// canonical "time" is always written.
type PostRecord struct {
	VideoPath string   `json:"video_path"`
	Caption   string   `json:"caption"`
	Time      string   `json:"time"`
	Status    string   `json:"status"`
	Hashtags  []string `json:"hashtags,omitempty"`
}

func (p *PostRecord) UnmarshalJSON(data []byte) error {
	type alias PostRecord
	aux := struct {
		*alias
		UploadTime string `json:"upload_time"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.Time == "" && aux.UploadTime != "" {
		p.Time = aux.UploadTime
	}
	return nil
}

// WriteError reports a failed persistence attempt for the data file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write schedule file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// bucket holds the posts for one date. legacy marks buckets loaded from
// the old single-object file shape, which delete treats as one unit.
type bucket struct {
	posts  []PostRecord
	legacy bool
}

// Store is the date-keyed schedule backed by a single JSON file. All
// mutations rewrite the whole file atomically.
type Store struct {
	mu      sync.Mutex
	path    string
	buckets map[string]bucket
	logger  logging.Logger
}

// NewStore loads the schedule file at path. A missing file starts an
// empty store; an unreadable or corrupt file is logged and also starts
// empty rather than failing startup.
func NewStore(path string, logger logging.Logger) *Store {
	s := &Store{
		path:    path,
		buckets: make(map[string]bucket),
		logger:  logger,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read schedule file, starting empty")
		}
		return s
	}
	if err := s.parse(data); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Schedule file is corrupt, starting empty")
		s.buckets = make(map[string]bucket)
	}
	s.updateGauge()
	return s
}

func (s *Store) parse(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for date, msg := range raw {
		var posts []PostRecord
		if err := json.Unmarshal(msg, &posts); err == nil {
			s.buckets[date] = bucket{posts: posts}
			continue
		}
		var single PostRecord
		if err := json.Unmarshal(msg, &single); err != nil {
			return fmt.Errorf("invalid entry for date %s: %w", date, err)
		}
		s.buckets[date] = bucket{posts: []PostRecord{single}, legacy: true}
	}
	return nil
}

// AddPost appends a post to the given date and persists the file. A
// legacy bucket is normalized to a list before the append. On write
// failure the in-memory state is rolled back and a *WriteError returned.
func (s *Store) AddPost(date string, post PostRecord) error {
	if post.Status == "" {
		post.Status = StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.buckets[date]
	next := bucket{posts: append(append([]PostRecord{}, prev.posts...), post)}
	s.buckets[date] = next

	if err := s.persistLocked(); err != nil {
		if existed {
			s.buckets[date] = prev
		} else {
			delete(s.buckets, date)
		}
		mutationsTotal.WithLabelValues("add", "error").Inc()
		return err
	}
	mutationsTotal.WithLabelValues("add", "success").Inc()
	s.updateGauge()
	return nil
}

// DeletePost removes the post at index for the given date. Legacy
// buckets are removed as a whole regardless of index. An unknown date or
// out-of-range index is a no-op reported via the returned bool. A bucket
// emptied by the delete is dropped from the file.
func (s *Store) DeletePost(date string, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.buckets[date]
	if !ok {
		return false, nil
	}

	if prev.legacy {
		delete(s.buckets, date)
	} else {
		if index < 0 || index >= len(prev.posts) {
			return false, nil
		}
		remaining := append(append([]PostRecord{}, prev.posts[:index]...), prev.posts[index+1:]...)
		if len(remaining) == 0 {
			delete(s.buckets, date)
		} else {
			s.buckets[date] = bucket{posts: remaining}
		}
	}

	if err := s.persistLocked(); err != nil {
		s.buckets[date] = prev
		mutationsTotal.WithLabelValues("delete", "error").Inc()
		return false, err
	}
	mutationsTotal.WithLabelValues("delete", "success").Inc()
	s.updateGauge()
	return true, nil
}

// Posts returns a copy of the normalized posts for one date.
func (s *Store) Posts(date string) []PostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[date]
	if !ok {
		return nil
	}
	out := make([]PostRecord, len(b.posts))
	copy(out, b.posts)
	return out
}

// ListAll returns normalized copies of every bucket, keyed by date.
func (s *Store) ListAll() map[string][]PostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]PostRecord, len(s.buckets))
	for date, b := range s.buckets {
		posts := make([]PostRecord, len(b.posts))
		copy(posts, b.posts)
		out[date] = posts
	}
	return out
}

// Dates returns the stored dates in ascending order.
func (s *Store) Dates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates := make([]string, 0, len(s.buckets))
	for date := range s.buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

func (s *Store) persistLocked() error {
	normalized := make(map[string][]PostRecord, len(s.buckets))
	for date, b := range s.buckets {
		normalized[date] = b.posts
	}
	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".schedule_*.json")
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: s.path, Err: err}
	}

	// Written buckets are canonical lists, so a surviving legacy flag
	// would no longer match the file.
	for date, b := range s.buckets {
		if b.legacy {
			s.buckets[date] = bucket{posts: b.posts}
		}
	}
	return nil
}

func (s *Store) updateGauge() {
	total := 0
	for _, b := range s.buckets {
		total += len(b.posts)
	}
	postsGauge.Set(float64(total))
}
