// Package history fetches and caches the user's past analyses. History
// is best-effort: a failed load keeps whatever is already held (cached
// or previously fetched) and never blocks the primary workflow.
package history

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/allergyguard/allergyguard/internal/api"
)

// Entry is one past analysis, normalized for display and caching.
type Entry struct {
	FoodName    string
	SafeToEat   bool
	AnalyzedAt  time.Time
	Thumbnail   []byte
	Ingredients []string
	Allergens   []string
}

func entryFromAPI(e api.HistoryEntry) Entry {
	thumb, err := base64.StdEncoding.DecodeString(e.ImageBase64)
	if err != nil {
		thumb = nil
	}
	return Entry{
		FoodName:    e.FoodName,
		SafeToEat:   e.SafeToEat,
		AnalyzedAt:  e.Time(),
		Thumbnail:   thumb,
		Ingredients: e.Ingredients,
		Allergens:   e.AllergensDetected,
	}
}

// Loader holds the current history snapshot. Loads replace it wholesale;
// there is no incremental merge.
type Loader struct {
	client *api.Client
	cache  *Cache // may be nil
	shown  int
	logger *slog.Logger

	mu      sync.Mutex
	entries []Entry
}

// NewLoader creates a loader. cache may be nil to run without
// persistence; shown bounds how many entries Recent returns.
func NewLoader(client *api.Client, cache *Cache, shown int, logger *slog.Logger) *Loader {
	return &Loader{client: client, cache: cache, shown: shown, logger: logger}
}

// Prime fills the snapshot from the local cache so the main view has
// something to show before the first fetch completes. Cache misses and
// errors are logged and ignored.
func (l *Loader) Prime(ctx context.Context, userID string) {
	if l.cache == nil {
		return
	}
	entries, err := l.cache.Load(ctx, userID)
	if err != nil {
		l.logger.Warn("loading history cache", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	l.logger.Debug("history primed from cache", "entries", len(entries))
}

// Load fetches the user's history. On success the snapshot (and cache)
// are replaced wholesale, preserving the backend's order. On failure the
// existing snapshot stays in place and the error is logged; the caller
// may ignore it.
func (l *Loader) Load(ctx context.Context, userID string) error {
	fetched, err := l.client.History(ctx, userID)
	if err != nil {
		l.logger.Warn("loading history", "user_id", userID, "error", err)
		return err
	}

	entries := make([]Entry, 0, len(fetched))
	for _, e := range fetched {
		entries = append(entries, entryFromAPI(e))
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.Replace(ctx, userID, entries); err != nil {
			l.logger.Warn("writing history cache", "error", err)
		}
	}

	l.logger.Debug("history loaded", "entries", len(entries))
	return nil
}

// Recent returns up to the configured number of entries, in backend
// order.
func (l *Loader) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if n > l.shown {
		n = l.shown
	}
	out := make([]Entry, n)
	copy(out, l.entries[:n])
	return out
}

// Len returns the size of the full snapshot.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops the in-memory snapshot (on logout). The on-disk cache is
// left alone; it is keyed by user and reloaded on the next login.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
