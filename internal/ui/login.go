package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/allergyguard/allergyguard/internal/api"
)

// loginModel is the sign-in form. Credentials exist only while the form
// is being edited: success resets the whole form, and failure discards
// the entered password.
type loginModel struct {
	email      textinput.Model
	password   textinput.Model
	focus      int
	submitting bool
	errMsg     string
}

func newLoginModel() loginModel {
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

	return loginModel{email: email, password: password}
}

func (m loginModel) focusCmd() tea.Cmd {
	return textinput.Blink
}

// prefill fills in a remembered email and moves focus to the password
// field.
func (m loginModel) prefill(email string) loginModel {
	m.email.SetValue(email)
	return m.setFocus(1)
}

// failed records a rejected submission. The password is cleared so it is
// not retained in the form.
func (m loginModel) failed(errMsg string) loginModel {
	m.submitting = false
	m.errMsg = errMsg
	m.password.SetValue("")
	return m
}

func (m loginModel) setFocus(i int) loginModel {
	m.focus = i
	if i == 0 {
		m.email.Focus()
		m.password.Blur()
	} else {
		m.email.Blur()
		m.password.Focus()
	}
	return m
}

func (a App) updateLogin(msg tea.Msg) (App, tea.Cmd) {
	m := a.login

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+r":
			// Switch to the registration form.
			a.register = newRegisterModel()
			a.view = viewRegister
			return a, a.register.focusCmd()

		case "tab", "down":
			a.login = m.setFocus((m.focus + 1) % 2)
			return a, nil

		case "shift+tab", "up":
			a.login = m.setFocus((m.focus + 1) % 2)
			return a, nil

		case "enter":
			if m.submitting {
				return a, nil
			}
			email := strings.TrimSpace(m.email.Value())
			password := m.password.Value()
			if email == "" || password == "" {
				m.errMsg = "Enter both email and password."
				a.login = m
				return a, nil
			}
			m.submitting = true
			m.errMsg = ""
			a.login = m
			return a, a.loginCmd(api.Credentials{Email: email, Password: password})
		}
	}

	var cmds [2]tea.Cmd
	m.email, cmds[0] = m.email.Update(msg)
	m.password, cmds[1] = m.password.Update(msg)
	a.login = m
	return a, tea.Batch(cmds[0], cmds[1])
}

func (m loginModel) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AllergyGuard") + "\n")
	b.WriteString(subtitleStyle.Render("Sign in to screen your food") + "\n\n")
	b.WriteString(m.email.View() + "\n")
	b.WriteString(m.password.View() + "\n")

	switch {
	case m.submitting:
		b.WriteString("\n" + statusStyle.Render("Signing in..."))
	case m.errMsg != "":
		b.WriteString("\n" + errorStyle.Render(m.errMsg))
	}

	b.WriteString("\n" + helpStyle.Render("enter: sign in • ctrl+r: create account • ctrl+c: quit"))
	return b.String()
}
