// Package ui is the terminal front end: a bubbletea program whose root
// model routes between the login, register, main, and profile views.
// Only login and register may render without an active session; if the
// session disappears while an authenticated view is showing, the router
// falls back to login and releases the camera.
package ui

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/allergyguard/allergyguard/internal/api"
	"github.com/allergyguard/allergyguard/internal/capture"
	"github.com/allergyguard/allergyguard/internal/config"
	"github.com/allergyguard/allergyguard/internal/history"
	"github.com/allergyguard/allergyguard/internal/session"
	"github.com/allergyguard/allergyguard/internal/storage"
	"github.com/allergyguard/allergyguard/internal/workflow"
)

// view identifies the active screen.
type view int

const (
	viewLogin view = iota
	viewRegister
	viewMain
	viewProfile
)

// networkFailure is shown when a request never reached the backend.
const networkFailure = "Could not reach the server. Please try again."

// Messages delivered by background commands.
type (
	// authResultMsg ends a login or register submission.
	authResultMsg struct {
		sess   *session.Session
		errMsg string
	}
	// historyLoadedMsg ends a history refresh; failures are non-blocking.
	historyLoadedMsg struct{ err error }
	// analysisDoneMsg signals that the workflow applied an outcome (or
	// discarded a stale one); the UI re-reads workflow state.
	analysisDoneMsg struct{}
	// cameraReadyMsg ends a camera acquisition attempt.
	cameraReadyMsg struct{ errMsg string }
	// photoCapturedMsg ends a capture; the stream is already released.
	photoCapturedMsg struct {
		img    *capture.Image
		errMsg string
	}
	// profileLoadedMsg ends a profile refresh.
	profileLoadedMsg struct {
		user   *api.User
		errMsg string
	}
	// allergiesSavedMsg ends a profile save.
	allergiesSavedMsg struct {
		allergies []string
		errMsg    string
	}
	// healthMsg reports the startup backend ping; logged only.
	healthMsg struct{ err error }
)

// App is the root model. Collaborators are shared by pointer; the model
// itself is copied by value through Update as usual.
type App struct {
	cfg      *config.Config
	client   *api.Client
	sessions *session.Store
	capture  *capture.Controller
	analysis *workflow.Workflow
	history  *history.Loader
	remember *storage.LastLogin
	logger   *slog.Logger

	view     view
	login    loginModel
	register registerModel
	main     mainModel
	profile  profileModel

	width  int
	height int
}

// NewApp wires the root model. remember may be nil, in which case the
// login form starts empty and sign-ins are not recorded.
func NewApp(cfg *config.Config, client *api.Client, sessions *session.Store,
	captureCtrl *capture.Controller, analysis *workflow.Workflow,
	loader *history.Loader, remember *storage.LastLogin, logger *slog.Logger) App {
	login := newLoginModel()
	if remember != nil {
		if email := remember.Read(); email != "" {
			login = login.prefill(email)
		}
	}
	return App{
		cfg:      cfg,
		client:   client,
		sessions: sessions,
		capture:  captureCtrl,
		analysis: analysis,
		history:  loader,
		remember: remember,
		logger:   logger,
		view:     viewLogin,
		login:    login,
		register: newRegisterModel(),
		main:     newMainModel(),
		profile:  newProfileModel(),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.login.focusCmd(), a.healthCmd())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.main = a.main.resize(msg)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// The camera must never outlive the capture surface, and
			// certainly not the process.
			a.capture.StopCamera()
			return a, tea.Quit
		}

	case authResultMsg:
		return a.handleAuthResult(msg)

	case historyLoadedMsg:
		// The loader already kept or replaced its snapshot; a failure
		// degrades silently.
		return a, nil

	case analysisDoneMsg:
		return a, nil

	case healthMsg:
		if msg.err != nil {
			a.logger.Warn("backend health check failed", "error", msg.err)
		} else {
			a.logger.Debug("backend healthy")
		}
		return a, nil
	}

	// Session gating: authenticated views may not render without a
	// session.
	if (a.view == viewMain || a.view == viewProfile) && !a.sessions.Active() {
		a.capture.StopCamera()
		a.view = viewLogin
	}

	var cmd tea.Cmd
	switch a.view {
	case viewLogin:
		a, cmd = a.updateLogin(msg)
	case viewRegister:
		a, cmd = a.updateRegister(msg)
	case viewMain:
		a, cmd = a.updateMain(msg)
	case viewProfile:
		a, cmd = a.updateProfile(msg)
	}
	return a, cmd
}

func (a App) View() string {
	switch a.view {
	case viewLogin:
		return a.login.view()
	case viewRegister:
		return a.register.view()
	case viewMain:
		return a.main.view(a.sessions, a.analysis, a.capture, a.history)
	case viewProfile:
		return a.profile.view(a.sessions)
	default:
		return ""
	}
}

// handleAuthResult applies a finished login/register submission: on
// success both forms are reset (credentials must not linger), the router
// moves to main, and a history refresh starts.
func (a App) handleAuthResult(msg authResultMsg) (tea.Model, tea.Cmd) {
	if msg.errMsg != "" {
		switch a.view {
		case viewLogin:
			a.login = a.login.failed(msg.errMsg)
		case viewRegister:
			a.register = a.register.failed(msg.errMsg)
		}
		return a, nil
	}

	if a.remember != nil && msg.sess != nil {
		if err := a.remember.Write(msg.sess.Email); err != nil {
			a.logger.Warn("failed to record last sign-in", "error", err)
		}
	}

	a.login = newLoginModel()
	a.register = newRegisterModel()
	a.view = viewMain
	return a, tea.Batch(a.loadHistoryCmd(true), a.login.focusCmd())
}

// enterMain moves the router to the main view and triggers the history
// refresh that entry demands. If a submission is still in flight the
// spinner tick chain is restarted; ticks delivered while another view
// was showing were dropped.
func (a App) enterMain() (App, tea.Cmd) {
	a.view = viewMain
	return a, tea.Batch(a.loadHistoryCmd(false), a.spinnerResumeCmd())
}

// spinnerResumeCmd restarts the spinner while the analysis workflow is
// submitting, and is nil otherwise.
func (a App) spinnerResumeCmd() tea.Cmd {
	if a.analysis.State() == workflow.StateSubmitting {
		return a.main.spinner.Tick
	}
	return nil
}

// logout clears everything tied to the authenticated window: session,
// camera, selected image, analysis result, history, and form state.
func (a App) logout() (App, tea.Cmd) {
	a.capture.StopCamera()
	a.sessions.Logout()
	a.capture.Reset()
	a.analysis.Reset()
	a.history.Clear()
	a.main = newMainModel().resize(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	a.profile = newProfileModel()
	a.login = newLoginModel()
	if a.remember != nil {
		if email := a.remember.Read(); email != "" {
			a.login = a.login.prefill(email)
		}
	}
	a.register = newRegisterModel()
	a.view = viewLogin
	return a, a.login.focusCmd()
}

// resetAnalysis clears the selected image and any result together,
// returning the main view to its empty choose-image state.
func (a *App) resetAnalysis() {
	a.capture.Reset()
	a.analysis.Reset()
	a.main.status = ""
}

// userMessage converts a request error into the text shown to the user:
// the server-supplied detail verbatim when present, otherwise a generic
// message.
func userMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return networkFailure
}

// Commands.

func (a App) healthCmd() tea.Cmd {
	client := a.client
	return func() tea.Msg {
		return healthMsg{err: client.Health(context.Background())}
	}
}

func (a App) loginCmd(creds api.Credentials) tea.Cmd {
	sessions := a.sessions
	return func() tea.Msg {
		sess, err := sessions.Login(context.Background(), creds)
		if err != nil {
			return authResultMsg{errMsg: userMessage(err)}
		}
		return authResultMsg{sess: sess}
	}
}

func (a App) registerCmd(draft *session.Draft) tea.Cmd {
	sessions := a.sessions
	return func() tea.Msg {
		sess, err := sessions.Register(context.Background(), draft)
		if err != nil {
			return authResultMsg{errMsg: userMessage(err)}
		}
		return authResultMsg{sess: sess}
	}
}

// loadHistoryCmd refreshes history for the active session; prime first
// fills the snapshot from the local cache (used on login so the view is
// not empty while the fetch runs).
func (a App) loadHistoryCmd(prime bool) tea.Cmd {
	sessions, loader := a.sessions, a.history
	return func() tea.Msg {
		sess := sessions.Current()
		if sess == nil {
			return historyLoadedMsg{}
		}
		ctx := context.Background()
		if prime {
			loader.Prime(ctx, sess.UserID)
		}
		return historyLoadedMsg{err: loader.Load(ctx, sess.UserID)}
	}
}

func (a App) analyzeCmd(token uint64) tea.Cmd {
	analysis := a.analysis
	return func() tea.Msg {
		analysis.Run(context.Background(), token)
		return analysisDoneMsg{}
	}
}

func (a App) startCameraCmd() tea.Cmd {
	captureCtrl := a.capture
	return func() tea.Msg {
		if err := captureCtrl.StartCamera(context.Background()); err != nil {
			return cameraReadyMsg{errMsg: err.Error()}
		}
		return cameraReadyMsg{}
	}
}

func (a App) capturePhotoCmd() tea.Cmd {
	captureCtrl := a.capture
	return func() tea.Msg {
		img, err := captureCtrl.CapturePhoto(context.Background())
		if err != nil {
			return photoCapturedMsg{errMsg: err.Error()}
		}
		return photoCapturedMsg{img: img}
	}
}

func (a App) loadProfileCmd() tea.Cmd {
	sessions, client := a.sessions, a.client
	return func() tea.Msg {
		sess := sessions.Current()
		if sess == nil {
			return profileLoadedMsg{}
		}
		user, err := client.GetUser(context.Background(), sess.UserID)
		if err != nil {
			return profileLoadedMsg{errMsg: userMessage(err)}
		}
		return profileLoadedMsg{user: user}
	}
}

func (a App) saveAllergiesCmd(allergies []string) tea.Cmd {
	sessions, client := a.sessions, a.client
	return func() tea.Msg {
		sess := sessions.Current()
		if sess == nil {
			return allergiesSavedMsg{errMsg: "Not signed in."}
		}
		if err := client.UpdateAllergies(context.Background(), sess.UserID, allergies); err != nil {
			return allergiesSavedMsg{errMsg: userMessage(err)}
		}
		return allergiesSavedMsg{allergies: allergies}
	}
}
