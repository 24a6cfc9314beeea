package storage

import (
	"os"
	"strings"
)

// LastLogin remembers the most recently signed-in email so the login
// form can be prefilled on the next launch. It never stores passwords
// and every operation is best effort.
type LastLogin struct {
	path string
}

// NewLastLogin returns a record backed by the given file path.
func NewLastLogin(path string) *LastLogin {
	return &LastLogin{path: path}
}

// Read returns the remembered email, or "" when there is none or the
// record cannot be read.
func (l *LastLogin) Read() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Write records email as the most recent sign-in.
func (l *LastLogin) Write(email string) error {
	return AtomicWriteFile(l.path, []byte(email+"\n"), 0o600)
}
