package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/allergyguard/allergyguard/internal/session"
)

// profileModel shows the account and lets the user edit their declared
// allergies. Edits are a working copy; the session profile only changes
// after the backend accepts the save.
type profileModel struct {
	refreshing bool
	saving     bool
	cursor     int
	selected   map[string]struct{}
	errMsg     string
	status     string
}

func newProfileModel() profileModel {
	return profileModel{selected: make(map[string]struct{})}
}

// loading marks the profile as refreshing while the identity is
// re-fetched on entry.
func (m profileModel) loading() profileModel {
	m.refreshing = true
	m.errMsg = ""
	m.status = ""
	return m
}

func (m profileModel) withAllergies(allergies []string) profileModel {
	m.selected = make(map[string]struct{}, len(allergies))
	for _, a := range allergies {
		m.selected[a] = struct{}{}
	}
	return m
}

func (m profileModel) has(name string) bool {
	_, ok := m.selected[name]
	return ok
}

func (m profileModel) allergyList() []string {
	out := make([]string, 0, len(m.selected))
	for _, name := range session.CommonAllergens {
		if m.has(name) {
			out = append(out, name)
		}
	}
	return out
}

func (a App) updateProfile(msg tea.Msg) (App, tea.Cmd) {
	m := a.profile

	switch msg := msg.(type) {
	case profileLoadedMsg:
		m.refreshing = false
		if msg.errMsg != "" {
			// Refresh failed: fall back to the profile already held in
			// the session.
			m.errMsg = msg.errMsg
			if sess := a.sessions.Current(); sess != nil {
				m = m.withAllergies(sess.Allergies())
			}
		} else if msg.user != nil {
			a.sessions.UpdateAllergies(msg.user.Allergies)
			m = m.withAllergies(msg.user.Allergies)
		}
		a.profile = m
		return a, nil

	case allergiesSavedMsg:
		m.saving = false
		if msg.errMsg != "" {
			m.errMsg = msg.errMsg
		} else {
			a.sessions.UpdateAllergies(msg.allergies)
			m.status = "Profile saved."
			m.errMsg = ""
		}
		a.profile = m
		return a, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc", "p":
			a.profile = newProfileModel()
			return a.enterMain()

		case "l":
			return a.logout()

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			a.profile = m
			return a, nil

		case "down", "j":
			if m.cursor < len(session.CommonAllergens)-1 {
				m.cursor++
			}
			a.profile = m
			return a, nil

		case " ":
			name := session.CommonAllergens[m.cursor]
			if m.has(name) {
				delete(m.selected, name)
			} else {
				m.selected[name] = struct{}{}
			}
			m.status = ""
			a.profile = m
			return a, nil

		case "s":
			if m.saving {
				return a, nil
			}
			m.saving = true
			m.errMsg = ""
			m.status = ""
			a.profile = m
			return a, a.saveAllergiesCmd(m.allergyList())
		}
	}

	return a, nil
}

func (m profileModel) view(sessions *session.Store) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Profile") + "\n")

	if sess := sessions.Current(); sess != nil {
		fmt.Fprintf(&b, "Signed in as %s\n\n", sess.Email)
	}

	if m.refreshing {
		b.WriteString(statusStyle.Render("Refreshing profile...") + "\n")
	}

	b.WriteString("Allergies\n")
	b.WriteString(renderAllergenChecklist(m.cursor, true, m.has))

	switch {
	case m.saving:
		b.WriteString("\n" + statusStyle.Render("Saving..."))
	case m.errMsg != "":
		b.WriteString("\n" + errorStyle.Render(m.errMsg))
	case m.status != "":
		b.WriteString("\n" + statusStyle.Render(m.status))
	}

	b.WriteString("\n" + helpStyle.Render("space: toggle • s: save • esc: back • l: log out"))
	return b.String()
}
