package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/allergyguard/allergyguard/internal/session"
)

// Focus zones within the registration form.
const (
	regFocusEmail = iota
	regFocusPassword
	regFocusAllergens
)

// registerModel is the account-creation form: credentials plus an
// allergen checklist toggled by membership flip. The draft is discarded
// once registration (and its auto-login) succeeds.
type registerModel struct {
	email      textinput.Model
	password   textinput.Model
	draft      *session.Draft
	focus      int
	cursor     int
	submitting bool
	errMsg     string
}

func newRegisterModel() registerModel {
	email := textinput.New()
	email.Placeholder = "email"
	email.CharLimit = 128
	email.Width = 36
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128
	password.Width = 36

	return registerModel{email: email, password: password, draft: session.NewDraft()}
}

func (m registerModel) focusCmd() tea.Cmd {
	return textinput.Blink
}

func (m registerModel) failed(errMsg string) registerModel {
	m.submitting = false
	m.errMsg = errMsg
	m.password.SetValue("")
	return m
}

func (m registerModel) setFocus(zone int) registerModel {
	m.focus = zone
	m.email.Blur()
	m.password.Blur()
	switch zone {
	case regFocusEmail:
		m.email.Focus()
	case regFocusPassword:
		m.password.Focus()
	}
	return m
}

func (a App) updateRegister(msg tea.Msg) (App, tea.Cmd) {
	m := a.register

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			a.view = viewLogin
			return a, a.login.focusCmd()

		case "tab":
			a.register = m.setFocus((m.focus + 1) % 3)
			return a, nil

		case "shift+tab":
			a.register = m.setFocus((m.focus + 2) % 3)
			return a, nil

		case "enter":
			if m.submitting {
				return a, nil
			}
			email := strings.TrimSpace(m.email.Value())
			password := m.password.Value()
			if email == "" || password == "" {
				m.errMsg = "Enter both email and password."
				a.register = m
				return a, nil
			}
			m.draft.Email = email
			m.draft.Password = password
			m.submitting = true
			m.errMsg = ""
			a.register = m
			return a, a.registerCmd(m.draft)
		}

		if m.focus == regFocusAllergens {
			switch key.String() {
			case "up", "k":
				if m.cursor > 0 {
					m.cursor--
				}
				a.register = m
				return a, nil
			case "down", "j":
				if m.cursor < len(session.CommonAllergens)-1 {
					m.cursor++
				}
				a.register = m
				return a, nil
			case " ":
				m.draft.Toggle(session.CommonAllergens[m.cursor])
				a.register = m
				return a, nil
			}
		}
	}

	var cmds [2]tea.Cmd
	m.email, cmds[0] = m.email.Update(msg)
	m.password, cmds[1] = m.password.Update(msg)
	a.register = m
	return a, tea.Batch(cmds[0], cmds[1])
}

func (m registerModel) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Create account") + "\n")
	b.WriteString(m.email.View() + "\n")
	b.WriteString(m.password.View() + "\n\n")

	label := "Your allergies"
	if m.focus == regFocusAllergens {
		label = focusedStyle.Render(label)
	}
	b.WriteString(label + "\n")
	b.WriteString(renderAllergenChecklist(m.cursor, m.focus == regFocusAllergens, m.draft.Has))

	switch {
	case m.submitting:
		b.WriteString("\n" + statusStyle.Render("Creating account..."))
	case m.errMsg != "":
		b.WriteString("\n" + errorStyle.Render(m.errMsg))
	}

	b.WriteString("\n" + helpStyle.Render("tab: next field • space: toggle allergy • enter: register • esc: back to sign in"))
	return b.String()
}

// renderAllergenChecklist draws the common-allergen toggle list shared by
// the register and profile views.
func renderAllergenChecklist(cursor int, focused bool, has func(string) bool) string {
	var b strings.Builder
	for i, name := range session.CommonAllergens {
		mark := "[ ]"
		if has(name) {
			mark = "[x]"
		}
		pointer := "  "
		if focused && i == cursor {
			pointer = focusedStyle.Render("> ")
		}
		fmt.Fprintf(&b, "%s%s %s\n", pointer, mark, name)
	}
	return b.String()
}
