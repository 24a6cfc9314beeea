// Package session owns the authenticated identity and its allergy
// profile. The store is the single writer: login and register establish
// a session, logout tears it down, and everything else only reads.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/allergyguard/allergyguard/internal/api"
)

// CommonAllergens is the canonical choice list offered when registering
// or editing a profile. It matches the allergen set the analysis backend
// is tuned to detect.
var CommonAllergens = []string{
	"Nuts",
	"Dairy",
	"Gluten",
	"Shellfish",
	"Eggs",
	"Soy",
	"Fish",
	"Sesame",
}

// Session is the authenticated user's identity and allergy profile, held
// for the lifetime of the authenticated window.
type Session struct {
	UserID    string
	Email     string
	allergies map[string]struct{}
}

func newSession(u *api.User) *Session {
	s := &Session{
		UserID:    u.UserID,
		Email:     u.Email,
		allergies: make(map[string]struct{}, len(u.Allergies)),
	}
	for _, a := range u.Allergies {
		s.allergies[a] = struct{}{}
	}
	return s
}

// HasAllergy reports whether the profile declares the given allergen.
func (s *Session) HasAllergy(name string) bool {
	_, ok := s.allergies[name]
	return ok
}

// Allergies returns the declared allergens, sorted for stable display.
func (s *Session) Allergies() []string {
	out := make([]string, 0, len(s.allergies))
	for a := range s.allergies {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Draft is an in-progress registration form. Allergies are a set toggled
// by membership flip. The draft is discarded after a successful
// registration.
type Draft struct {
	Email     string
	Password  string
	allergies map[string]struct{}
}

// NewDraft creates an empty registration draft.
func NewDraft() *Draft {
	return &Draft{allergies: make(map[string]struct{})}
}

// Toggle flips membership of the given allergen: added if absent,
// removed if present.
func (d *Draft) Toggle(name string) {
	if _, ok := d.allergies[name]; ok {
		delete(d.allergies, name)
	} else {
		d.allergies[name] = struct{}{}
	}
}

// Has reports whether the draft currently includes the allergen.
func (d *Draft) Has(name string) bool {
	_, ok := d.allergies[name]
	return ok
}

// Allergies returns the draft's allergens, sorted.
func (d *Draft) Allergies() []string {
	out := make([]string, 0, len(d.allergies))
	for a := range d.allergies {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Store holds at most one active session and performs the auth flows
// against the backend.
type Store struct {
	client *api.Client
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewStore creates a session store backed by the given client.
func NewStore(client *api.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Login authenticates and, on success, establishes the session.
func (s *Store) Login(ctx context.Context, creds api.Credentials) (*Session, error) {
	user, err := s.client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	sess := s.Establish(user)
	s.logger.Info("logged in", "user_id", sess.UserID)
	return sess, nil
}

// Register creates the account and immediately logs in with the same
// credentials. Registration alone does not establish a session, so a
// failure at either step leaves the store unauthenticated.
func (s *Store) Register(ctx context.Context, draft *Draft) (*Session, error) {
	if err := s.client.Register(ctx, draft.Email, draft.Password, draft.Allergies()); err != nil {
		return nil, err
	}
	return s.Login(ctx, api.Credentials{Email: draft.Email, Password: draft.Password})
}

// Establish stores the given identity as the active session.
func (s *Store) Establish(u *api.User) *Session {
	sess := newSession(u)
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	return sess
}

// UpdateAllergies replaces the active session's allergy profile. No-op
// without a session.
func (s *Store) UpdateAllergies(allergies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	set := make(map[string]struct{}, len(allergies))
	for _, a := range allergies {
		set[a] = struct{}{}
	}
	s.current.allergies = set
}

// Current returns the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Active reports whether a session is established.
func (s *Store) Active() bool {
	return s.Current() != nil
}

// Logout clears the session. It is synchronous and makes no network
// call; the caller is responsible for clearing dependent state (selected
// image, analysis result, history).
func (s *Store) Logout() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()
	if had {
		s.logger.Info("logged out")
	}
}
