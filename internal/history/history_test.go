package history

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allergyguard/allergyguard/internal/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func newAPIClient(t *testing.T, handler http.Handler) *api.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return api.New(srv.URL, 5*time.Second, 5*time.Second, discardLogger())
}

const historyBody = `{"history":[
	{"food_name":"Cookie","safe_to_eat":false,"analyzed_at":"2025-01-06T10:00:00Z","image_base64":"aGk=","ingredients":["flour","nuts"],"allergens_detected":["Nuts"]},
	{"food_name":"Salad","safe_to_eat":true,"analyzed_at":"2025-01-05T09:00:00Z","image_base64":"","ingredients":["lettuce"],"allergens_detected":[]},
	{"food_name":"Toast","safe_to_eat":true,"analyzed_at":"2025-01-04T08:00:00Z","image_base64":"","ingredients":["bread"],"allergens_detected":[]},
	{"food_name":"Curry","safe_to_eat":false,"analyzed_at":"2025-01-03T19:00:00Z","image_base64":"","ingredients":["peanut"],"allergens_detected":["Nuts"]},
	{"food_name":"Soup","safe_to_eat":true,"analyzed_at":"2025-01-02T12:00:00Z","image_base64":"","ingredients":["tomato"],"allergens_detected":[]},
	{"food_name":"Pasta","safe_to_eat":true,"analyzed_at":"2025-01-01T13:00:00Z","image_base64":"","ingredients":["wheat"],"allergens_detected":[]}
]}`

func TestLoadReplacesWholesale(t *testing.T) {
	client := newAPIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyBody)
	}))
	loader := NewLoader(client, nil, 5, discardLogger())

	require.NoError(t, loader.Load(context.Background(), "u1"))
	assert.Equal(t, 6, loader.Len())

	recent := loader.Recent()
	require.Len(t, recent, 5, "only the most recent entries are surfaced")
	assert.Equal(t, "Cookie", recent[0].FoodName, "backend order is preserved")
	assert.Equal(t, "Soup", recent[4].FoodName)
	assert.False(t, recent[0].SafeToEat)
	assert.Equal(t, []byte("hi"), recent[0].Thumbnail)
	assert.Equal(t, 2025, recent[0].AnalyzedAt.Year())
}

func TestLoadFailureKeepsExistingEntries(t *testing.T) {
	fail := false
	client := newAPIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, historyBody)
	}))
	loader := NewLoader(client, nil, 5, discardLogger())

	require.NoError(t, loader.Load(context.Background(), "u1"))
	require.Equal(t, 6, loader.Len())

	fail = true
	err := loader.Load(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, 6, loader.Len(), "failed load must leave the snapshot in place")
	assert.Equal(t, "Cookie", loader.Recent()[0].FoodName)
}

func TestClear(t *testing.T) {
	client := newAPIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyBody)
	}))
	loader := NewLoader(client, nil, 5, discardLogger())
	require.NoError(t, loader.Load(context.Background(), "u1"))

	loader.Clear()
	assert.Zero(t, loader.Len())
	assert.Empty(t, loader.Recent())
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	entries := []Entry{
		{FoodName: "Cookie", SafeToEat: false, AnalyzedAt: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
			Thumbnail: []byte{0x01}, Ingredients: []string{"flour", "nuts"}, Allergens: []string{"Nuts"}},
		{FoodName: "Salad", SafeToEat: true, AnalyzedAt: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC),
			Ingredients: []string{"lettuce"}, Allergens: []string{}},
	}
	require.NoError(t, cache.Replace(ctx, "u1", entries))

	got, err := cache.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Cookie", got[0].FoodName)
	assert.False(t, got[0].SafeToEat)
	assert.Equal(t, entries[0].AnalyzedAt, got[0].AnalyzedAt)
	assert.Equal(t, []string{"flour", "nuts"}, got[0].Ingredients)
	assert.Equal(t, []string{"Nuts"}, got[0].Allergens)
	assert.Equal(t, "Salad", got[1].FoodName)

	// Replace swaps wholesale, not merges.
	require.NoError(t, cache.Replace(ctx, "u1", entries[:1]))
	got, err = cache.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Other users' snapshots are untouched.
	other, err := cache.Load(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPrimeFromCache(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Replace(ctx, "u1", []Entry{
		{FoodName: "Cached Curry", SafeToEat: false, AnalyzedAt: time.Now().UTC().Truncate(time.Second),
			Ingredients: []string{"peanut"}, Allergens: []string{"Nuts"}},
	}))

	loader := NewLoader(nil, cache, 5, discardLogger())
	loader.Prime(ctx, "u1")
	require.Equal(t, 1, loader.Len())
	assert.Equal(t, "Cached Curry", loader.Recent()[0].FoodName)

	// Priming an unknown user leaves the snapshot alone.
	loader2 := NewLoader(nil, cache, 5, discardLogger())
	loader2.Prime(ctx, "u2")
	assert.Zero(t, loader2.Len())
}

func TestLoadWritesCache(t *testing.T) {
	cache := newTestCache(t)
	client := newAPIClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, historyBody)
	}))

	loader := NewLoader(client, cache, 5, discardLogger())
	require.NoError(t, loader.Load(context.Background(), "u1"))

	cached, err := cache.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cached, 6)
	assert.Equal(t, "Cookie", cached[0].FoodName)
}
