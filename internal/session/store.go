package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Backend is a TTL-capable key/value store. Implementations must treat
// an expired or missing key as absent, not as an error.
type Backend interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value and refreshes its TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}

// Options configures a Store.
type Options struct {
	// MaxItems bounds the stored history length after every write.
	MaxItems int

	// TTL is refreshed on every write.
	TTL time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate applies defaults.
func (o *Options) Validate() error {
	if o.MaxItems == 0 {
		o.MaxItems = 50
	}
	if o.TTL == 0 {
		o.TTL = 7 * 24 * time.Hour
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Store persists bounded conversation histories. All operations are
// fail-open: backend unavailability degrades to empty history on read
// and a skipped write, never an error in the conversation flow.
type Store struct {
	backend  Backend
	maxItems int
	ttl      time.Duration
	logger   *slog.Logger
}

// NewStore creates a Store on top of a backend.
func NewStore(backend Backend, opts Options) *Store {
	_ = opts.Validate()
	return &Store{
		backend:  backend,
		maxItems: opts.MaxItems,
		ttl:      opts.TTL,
		logger:   opts.Logger.With("component", "session"),
	}
}

// TTL returns the configured write TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// Load returns the persisted history for a thread, or an empty slice
// if the key is absent, expired, corrupt, or the backend is down.
func (s *Store) Load(ctx context.Context, key ThreadKey) []Item {
	raw, ok, err := s.backend.Get(ctx, key.String())
	if err != nil {
		s.logger.Error("failed to load session", "key", key.String(), "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Error("discarding undecodable session", "key", key.String(), "error", err)
		return nil
	}
	return items
}

// Append merges new items into the stored history, applies the filter
// policy, then the trim policy, and writes the result back with a
// refreshed TTL. Filter runs before trim so the bound counts only
// items that will actually be used as model input. The store owns
// sequence numbering: Seq is reassigned contiguously from zero after
// filtering and trimming, so callers never set it. Write failures are
// logged and swallowed.
func (s *Store) Append(ctx context.Context, key ThreadKey, newItems []Item) {
	existing := s.Load(ctx, key)
	merged := append(existing, newItems...)
	merged = Trim(Filter(merged), s.maxItems)
	for i := range merged {
		merged[i].Seq = i
	}

	s.save(ctx, key, merged)
}

// Rebind copies a thread's history to a new key with a refreshed TTL.
// The Telegram front-end uses this to re-anchor history on the bot's
// reply message so that replying to it continues the thread.
func (s *Store) Rebind(ctx context.Context, from, to ThreadKey) {
	items := s.Load(ctx, from)
	if len(items) == 0 {
		return
	}
	s.save(ctx, to, items)
}

// Clear removes a thread's history.
func (s *Store) Clear(ctx context.Context, key ThreadKey) {
	if err := s.backend.Delete(ctx, key.String()); err != nil {
		s.logger.Error("failed to clear session", "key", key.String(), "error", err)
	}
}

func (s *Store) save(ctx context.Context, key ThreadKey, items []Item) {
	raw, err := json.Marshal(items)
	if err != nil {
		s.logger.Error("failed to encode session", "key", key.String(), "error", err)
		return
	}
	if err := s.backend.Set(ctx, key.String(), raw, s.ttl); err != nil {
		s.logger.Error("failed to save session", "key", key.String(), "error", err)
		return
	}
	s.logger.Debug("saved session", "key", key.String(), "items", len(items), "ttl", s.ttl)
}
