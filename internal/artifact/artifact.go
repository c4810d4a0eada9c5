// Package artifact holds downloadable results (podcast audio, saved
// transcripts) in memory for a limited time.
package artifact

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcast/internal/observe"
)

// Default limits.
const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 256
)

// ErrNotFound is returned for unknown or expired artifacts.
var ErrNotFound = errors.New("artifact: not found")

// Well-known artifact names and content types.
const (
	PodcastName        = "podcast.wav"
	PodcastContentType = "audio/wav"

	TranscriptName        = "transcript.txt"
	TranscriptContentType = "text/plain; charset=utf-8"
)

// Artifact is one downloadable file.
type Artifact struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets how long artifacts stay downloadable.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithMaxEntries caps the number of artifacts held. When full, the oldest
// artifact is evicted.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is an in-memory artifact store keyed by random UUIDs. It is safe for
// concurrent use.
type Store struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    *observe.Metrics

	mu    sync.Mutex
	items map[string]Artifact
	order []string // insertion order, oldest first
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		items:      make(map[string]Artifact),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Put stores a copy of data under a new ID.
func (s *Store) Put(ctx context.Context, name, contentType string, data []byte) Artifact {
	a := Artifact{
		ID:          uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		CreatedAt:   s.now(),
	}

	s.mu.Lock()
	evicted := s.expireLocked()
	for s.maxEntries > 0 && len(s.items) >= s.maxEntries {
		s.removeLocked(s.order[0])
		evicted++
	}
	s.items[a.ID] = a
	s.order = append(s.order, a.ID)
	s.mu.Unlock()

	s.metrics.StoredArtifacts.Add(ctx, int64(1-evicted))
	observe.Logger(ctx).Debug("artifact stored", "id", a.ID, "name", name, "bytes", len(data))
	return a
}

// Get returns the artifact with the given ID, or [ErrNotFound] when it is
// unknown or expired.
func (s *Store) Get(id string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok || s.expired(a) {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

// Len returns the number of artifacts currently held, including expired
// ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep drops expired artifacts and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) int {
	s.mu.Lock()
	n := s.expireLocked()
	s.mu.Unlock()
	if n > 0 {
		s.metrics.StoredArtifacts.Add(ctx, int64(-n))
		slog.Debug("expired artifacts swept", "count", n)
	}
	return n
}

// Run sweeps expired artifacts every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Store) expired(a Artifact) bool {
	return s.ttl > 0 && s.now().Sub(a.CreatedAt) >= s.ttl
}

// expireLocked removes expired artifacts from the front of the insertion
// order. Must be called with mu held.
func (s *Store) expireLocked() int {
	n := 0
	for len(s.order) > 0 {
		a, ok := s.items[s.order[0]]
		if ok && !s.expired(a) {
			break
		}
		s.removeLocked(s.order[0])
		n++
	}
	return n
}

func (s *Store) removeLocked(id string) {
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
