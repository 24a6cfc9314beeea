package workflow

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allergyguard/allergyguard/internal/api"
	"github.com/allergyguard/allergyguard/internal/capture"
	"github.com/allergyguard/allergyguard/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeSessions(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore(nil, discardLogger())
	store.Establish(&api.User{UserID: "u1", Email: "a@b.com", Allergies: []string{"Nuts"}})
	return store
}

func testImage(name string) *capture.Image {
	return &capture.Image{Data: []byte(name), Source: capture.SourceUpload, Name: name}
}

func TestBeginRequiresImageAndSession(t *testing.T) {
	// No image.
	wf := New(nil, activeSessions(t), discardLogger())
	_, ok := wf.Begin()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, wf.State())

	// Image but no session.
	wf = New(nil, session.NewStore(nil, discardLogger()), discardLogger())
	wf.SetImage(testImage("a.jpg"))
	_, ok = wf.Begin()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, wf.State())
}

func TestSingleInFlightSubmission(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())
	wf.SetImage(testImage("a.jpg"))

	token, ok := wf.Begin()
	require.True(t, ok)
	assert.Equal(t, StateSubmitting, wf.State())

	// A second invocation while submitting is a no-op.
	_, ok = wf.Begin()
	assert.False(t, ok)

	wf.finish(token, &api.Analysis{FoodName: "Salad", SafeToEat: true}, nil)
	assert.Equal(t, StateSucceeded, wf.State())
}

func TestStaleResponseRejected(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())

	// Image A is submitted.
	wf.SetImage(testImage("a.jpg"))
	tokenA, ok := wf.Begin()
	require.True(t, ok)

	// Image B supersedes A and is submitted before A's response lands.
	wf.SetImage(testImage("b.jpg"))
	tokenB, ok := wf.Begin()
	require.True(t, ok)
	require.NotEqual(t, tokenA, tokenB)

	// A's late response must be discarded...
	wf.finish(tokenA, &api.Analysis{FoodName: "Stale Cookie"}, nil)
	assert.Equal(t, StateSubmitting, wf.State())
	assert.Nil(t, wf.Result())

	// ...and B's response applied.
	wf.finish(tokenB, &api.Analysis{FoodName: "Fresh Salad", SafeToEat: true}, nil)
	require.Equal(t, StateSucceeded, wf.State())
	assert.Equal(t, "Fresh Salad", wf.Result().FoodName)
}

func TestSelectionClearsResult(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())
	wf.SetImage(testImage("a.jpg"))
	token, _ := wf.Begin()
	wf.finish(token, &api.Analysis{FoodName: "Cookie"}, nil)
	require.NotNil(t, wf.Result())

	wf.SetImage(testImage("b.jpg"))
	assert.Nil(t, wf.Result(), "selecting a new image must remove any prior result")
	assert.Equal(t, StateIdle, wf.State())
	assert.Empty(t, wf.ErrorMessage())
}

func TestFailurePreservesImageForRetry(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())
	img := testImage("a.jpg")
	wf.SetImage(img)

	token, _ := wf.Begin()
	wf.finish(token, nil, &api.Error{Status: http.StatusInternalServerError})

	assert.Equal(t, StateFailed, wf.State())
	assert.Same(t, img, wf.Image(), "failed submission must leave the image intact")
	assert.NotEmpty(t, wf.ErrorMessage())

	// Retry without re-selecting.
	retryToken, ok := wf.Begin()
	require.True(t, ok)
	wf.finish(retryToken, &api.Analysis{FoodName: "Cookie"}, nil)
	assert.Equal(t, StateSucceeded, wf.State())
}

func TestFailureMessages(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())

	// Server detail surfaced verbatim.
	wf.SetImage(testImage("a.jpg"))
	token, _ := wf.Begin()
	wf.finish(token, nil, &api.Error{Status: 400, Detail: "Image too blurry"})
	assert.Equal(t, "Image too blurry", wf.ErrorMessage())

	// Plain network error gets the generic message.
	wf.SetImage(testImage("b.jpg"))
	token, _ = wf.Begin()
	wf.finish(token, nil, context.DeadlineExceeded)
	assert.Equal(t, genericFailure, wf.ErrorMessage())
}

func TestResetReturnsToIdle(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())
	wf.SetImage(testImage("a.jpg"))
	token, _ := wf.Begin()
	wf.finish(token, &api.Analysis{FoodName: "Cookie"}, nil)

	wf.Reset()
	assert.Equal(t, StateIdle, wf.State())
	assert.Nil(t, wf.Image())
	assert.Nil(t, wf.Result())
}

func TestRunAgainstBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/analyze-food", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "u1", r.FormValue("user_id"))
		io.WriteString(w, `{"food_name":"Cookie","confidence":0.92,"ingredients":["flour","nuts"],"allergens_detected":["Nuts"],"safe_to_eat":false,"warning_message":"contains Nuts"}`)
	}))
	t.Cleanup(srv.Close)

	client := api.New(srv.URL, 5*time.Second, 5*time.Second, discardLogger())
	wf := New(client, activeSessions(t), discardLogger())
	wf.SetImage(testImage("cookie.jpg"))

	token, ok := wf.Begin()
	require.True(t, ok)
	wf.Run(context.Background(), token)

	require.Equal(t, StateSucceeded, wf.State())
	result := wf.Result()
	require.NotNil(t, result)
	assert.Equal(t, "Cookie", result.FoodName)
	assert.False(t, result.SafeToEat)
	assert.Equal(t, []string{"Nuts"}, result.AllergensDetected)
}

func TestRunStaleTokenIsNoop(t *testing.T) {
	wf := New(nil, activeSessions(t), discardLogger())
	wf.SetImage(testImage("a.jpg"))
	token, _ := wf.Begin()

	// Selection changes while the request would be in flight; Run with
	// the old token must not even dispatch (client is nil, so a dispatch
	// would panic).
	wf.SetImage(testImage("b.jpg"))
	wf.Run(context.Background(), token)
	assert.Equal(t, StateIdle, wf.State())
}
