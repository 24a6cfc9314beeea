// Package workflow tracks the analyze-and-render lifecycle for the
// currently selected image: idle, submitting, succeeded, or failed.
// Every submission is tagged with a monotonic token tied to the image
// that produced it; a response whose token no longer matches the current
// image is discarded, so a stale response can never overwrite the result
// of a later selection.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/allergyguard/allergyguard/internal/api"
	"github.com/allergyguard/allergyguard/internal/capture"
	"github.com/allergyguard/allergyguard/internal/session"
)

// State is the workflow's position for the current image.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// genericFailure is shown when a failure carries no server detail.
const genericFailure = "Analysis failed. Please try again."

// Workflow is the analysis state machine. All mutation goes through its
// methods; the UI only reads.
type Workflow struct {
	client   *api.Client
	sessions *session.Store
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	token    uint64 // identity of the current image selection
	image    *capture.Image
	result   *api.Analysis
	errorMsg string
}

// New creates a workflow bound to the session store.
func New(client *api.Client, sessions *session.Store, logger *slog.Logger) *Workflow {
	return &Workflow{client: client, sessions: sessions, logger: logger}
}

// SetImage records a new image selection. Any prior result or failure is
// discarded and the machine returns to idle; a response still in flight
// for the previous image will be rejected by its stale token.
func (w *Workflow) SetImage(img *capture.Image) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.token++
	w.image = img
	w.result = nil
	w.errorMsg = ""
	w.state = StateIdle
}

// Reset discards the image, result, and failure state.
func (w *Workflow) Reset() {
	w.SetImage(nil)
}

// Begin attempts to start a submission. It is a no-op (ok=false) without
// a selected image and an active session, or while a submission for this
// image is already in flight.
func (w *Workflow) Begin() (token uint64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.image == nil || !w.sessions.Active() {
		return 0, false
	}
	if w.state == StateSubmitting {
		return 0, false
	}

	w.state = StateSubmitting
	w.errorMsg = ""
	return w.token, true
}

// Run performs the analysis request begun with the given token and
// applies the outcome. Safe to call from a background goroutine; the
// outcome is dropped if the selection changed while the request was in
// flight.
func (w *Workflow) Run(ctx context.Context, token uint64) {
	w.mu.Lock()
	if token != w.token || w.image == nil {
		w.mu.Unlock()
		return
	}
	image := w.image.Data
	w.mu.Unlock()

	sess := w.sessions.Current()
	if sess == nil {
		w.finish(token, nil, errors.New("session ended"))
		return
	}

	result, err := w.client.AnalyzeFood(ctx, sess.UserID, image)
	w.finish(token, result, err)
}

// finish applies a submission outcome. Outcomes carrying a token other
// than the current selection's are stale and are discarded.
func (w *Workflow) finish(token uint64, result *api.Analysis, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if token != w.token {
		w.logger.Debug("discarding stale analysis response", "token", token, "current", w.token)
		return
	}
	if w.state != StateSubmitting {
		return
	}

	if err != nil {
		w.state = StateFailed
		w.errorMsg = failureMessage(err)
		// The selected image stays intact so the user can retry
		// without re-selecting it.
		w.logger.Warn("analysis failed", "error", err)
		return
	}

	w.state = StateSucceeded
	w.result = result
	w.logger.Info("analysis succeeded", "food", result.FoodName, "safe", result.SafeToEat)
}

// failureMessage surfaces the server detail verbatim when present,
// otherwise a generic message.
func failureMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return genericFailure
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Image returns the image the machine is keyed to, or nil.
func (w *Workflow) Image() *capture.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.image
}

// Result returns the analysis for the current image, or nil.
func (w *Workflow) Result() *api.Analysis {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// ErrorMessage returns the failure text for the current image, empty
// when the last submission did not fail.
func (w *Workflow) ErrorMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorMsg
}
