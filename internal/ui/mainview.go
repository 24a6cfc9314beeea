package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/allergyguard/allergyguard/internal/capture"
	"github.com/allergyguard/allergyguard/internal/history"
	"github.com/allergyguard/allergyguard/internal/session"
	"github.com/allergyguard/allergyguard/internal/workflow"
)

// mainModel is the screening view: image acquisition, the analysis
// verdict, and recent history. The camera surface and the file picker
// are sub-states of this view.
type mainModel struct {
	spinner    spinner.Model
	confidence progress.Model
	picker     filepicker.Model

	picking        bool
	cameraOpen     bool
	cameraStarting bool
	capturing      bool   // a CapturePhoto command is in flight
	status         string // transient device/selection error
}

func newMainModel() mainModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = focusedStyle

	conf := progress.New(progress.WithDefaultGradient())
	conf.Width = 30

	fp := filepicker.New()
	fp.AllowedTypes = []string{".jpg", ".jpeg", ".png"}
	if home, err := os.UserHomeDir(); err == nil {
		fp.CurrentDirectory = home
	}

	return mainModel{spinner: sp, confidence: conf, picker: fp}
}

func (m mainModel) resize(msg tea.WindowSizeMsg) mainModel {
	h := msg.Height - 8
	if h < 3 {
		h = 3
	}
	m.picker.Height = h
	return m
}

func (a App) updateMain(msg tea.Msg) (App, tea.Cmd) {
	m := a.main

	switch msg := msg.(type) {
	case cameraReadyMsg:
		m.cameraStarting = false
		if msg.errMsg != "" {
			// Device error: surface it and leave the capture surface
			// closed.
			m.cameraOpen = false
			m.status = msg.errMsg
		} else {
			m.cameraOpen = true
			m.status = ""
		}
		a.main = m
		return a, nil

	case photoCapturedMsg:
		// Either way the controller already released the stream.
		m.cameraOpen = false
		m.capturing = false
		if msg.errMsg != "" {
			m.status = msg.errMsg
		} else {
			m.status = ""
			a.analysis.SetImage(msg.img)
		}
		a.main = m
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		a.main = m
		return a, cmd
	}

	if m.picking {
		return a.updateFilePicker(msg)
	}
	if m.cameraOpen || m.cameraStarting {
		return a.updateCameraSurface(msg)
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "q":
			a.capture.StopCamera()
			return a, tea.Quit

		case "l":
			return a.logout()

		case "p":
			a.view = viewProfile
			a.profile = a.profile.loading()
			return a, a.loadProfileCmd()

		case "c":
			m.cameraStarting = true
			m.status = ""
			a.main = m
			return a, a.startCameraCmd()

		case "u":
			m.picking = true
			m.status = ""
			a.main = m
			return a, m.picker.Init()

		case "a":
			token, ok := a.analysis.Begin()
			if !ok {
				// Missing image/session or already submitting.
				return a, nil
			}
			a.main = m
			return a, tea.Batch(a.analyzeCmd(token), m.spinner.Tick)

		case "r":
			a.resetAnalysis()
			return a, nil
		}
	}

	return a, nil
}

// updateFilePicker drives the upload path. A picked file becomes the
// selected image; any prior analysis result is discarded with the old
// selection.
func (a App) updateFilePicker(msg tea.Msg) (App, tea.Cmd) {
	m := a.main

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.picking = false
		a.main = m
		return a, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if didSelect, path := m.picker.DidSelectFile(msg); didSelect {
		m.picking = false
		img, err := a.capture.SelectFile(path)
		if err != nil {
			m.status = "Could not read that file."
			a.main = m
			return a, cmd
		}
		m.status = ""
		a.analysis.SetImage(img)
	}

	a.main = m
	return a, cmd
}

// updateCameraSurface drives the live-camera sub-state. Every exit path
// (capture, cancel, logout) releases the stream.
func (a App) updateCameraSurface(msg tea.Msg) (App, tea.Cmd) {
	m := a.main

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}

	switch key.String() {
	case "enter", " ":
		if !m.cameraOpen || m.capturing {
			return a, nil // still acquiring, or a capture is in flight
		}
		// CapturePhoto stops the stream itself.
		m.capturing = true
		a.main = m
		return a, a.capturePhotoCmd()

	case "esc":
		a.capture.StopCamera()
		m.cameraOpen = false
		m.cameraStarting = false
		m.capturing = false
		a.main = m
		return a, nil

	case "l":
		return a.logout()
	}

	return a, nil
}

func (m mainModel) view(sessions *session.Store, analysis *workflow.Workflow,
	captureCtrl *capture.Controller, loader *history.Loader) string {

	if m.picking {
		return titleStyle.Render("Choose a food photo") + "\n" +
			m.picker.View() + "\n" +
			helpStyle.Render("enter: select • esc: cancel")
	}

	if m.cameraStarting {
		return titleStyle.Render("Camera") + "\n" +
			statusStyle.Render("Acquiring camera...") + "\n" +
			helpStyle.Render("esc: cancel")
	}

	if m.cameraOpen {
		if m.capturing {
			return titleStyle.Render("Camera") + "\n" +
				statusStyle.Render("Capturing...")
		}
		return titleStyle.Render("Camera") + "\n" +
			statusStyle.Render("● Camera live") + "\n\n" +
			"Frame your food and take the shot.\n" +
			helpStyle.Render("enter/space: capture • esc: cancel")
	}

	var b strings.Builder
	sess := sessions.Current()
	b.WriteString(titleStyle.Render("AllergyGuard") + "\n")
	if sess != nil {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("%s • allergic to: %s",
			sess.Email, formatList(sess.Allergies()))) + "\n\n")
	}

	b.WriteString(m.renderAnalysis(analysis, captureCtrl))

	if m.status != "" {
		b.WriteString("\n" + errorStyle.Render(m.status) + "\n")
	}

	b.WriteString("\n" + renderHistory(loader))
	b.WriteString("\n" + helpStyle.Render(
		"c: camera • u: upload • a: analyze • r: reset • p: profile • l: log out • q: quit"))
	return b.String()
}

func (m mainModel) renderAnalysis(analysis *workflow.Workflow, captureCtrl *capture.Controller) string {
	img := captureCtrl.Selected()
	if img == nil {
		return panelStyle.Render("No image selected.\nPress c to use the camera or u to upload a photo.") + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Selected image: %s (%s, %d KB)\n", img.Name, img.Source, len(img.Data)/1024)

	switch analysis.State() {
	case workflow.StateIdle:
		b.WriteString(subtitleStyle.Render("Press a to analyze.") + "\n")

	case workflow.StateSubmitting:
		b.WriteString(m.spinner.View() + " Analyzing...\n")

	case workflow.StateFailed:
		b.WriteString(errorStyle.Render(analysis.ErrorMessage()) + "\n")
		b.WriteString(subtitleStyle.Render("Press a to retry with the same image.") + "\n")

	case workflow.StateSucceeded:
		b.WriteString(m.renderResult(analysis))
	}

	return panelStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func (m mainModel) renderResult(analysis *workflow.Workflow) string {
	res := analysis.Result()
	if res == nil {
		return ""
	}

	var b strings.Builder
	if res.SafeToEat {
		b.WriteString(safeBannerStyle.Render("SAFE TO EAT") + "\n\n")
	} else {
		warning := res.WarningMessage
		if warning == "" {
			warning = "This food contains allergens from your profile."
		}
		b.WriteString(dangerBannerStyle.Render("NOT SAFE") + "\n")
		b.WriteString(errorStyle.Render(warning) + "\n\n")
	}

	fmt.Fprintf(&b, "%s\n", res.FoodName)
	fmt.Fprintf(&b, "Confidence %3.0f%% %s\n", res.Confidence*100, m.confidence.ViewAs(res.Confidence))

	if len(res.Ingredients) > 0 {
		fmt.Fprintf(&b, "Ingredients: %s\n", formatList(res.Ingredients))
	}
	if len(res.AllergensDetected) > 0 {
		b.WriteString("Allergens: ")
		for _, allergen := range res.AllergensDetected {
			b.WriteString(chipStyle.Render(allergen))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderHistory(loader *history.Loader) string {
	recent := loader.Recent()
	if len(recent) == 0 {
		return subtitleStyle.Render("No past analyses yet.")
	}

	var b strings.Builder
	b.WriteString("Recent analyses\n")
	for _, e := range recent {
		mark := safeMarkStyle.Render("✓")
		if !e.SafeToEat {
			mark = dangerMarkStyle.Render("✗")
		}
		when := ""
		if !e.AnalyzedAt.IsZero() {
			when = subtitleStyle.Render(" • " + e.AnalyzedAt.Format("Jan 2 15:04"))
		}
		fmt.Fprintf(&b, "  %s %s%s\n", mark, e.FoodName, when)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
