package api

import "time"

// Credentials is a login form payload. It exists only for the duration
// of a submission and is never persisted.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the identity and allergy profile returned by the login and
// get-user endpoints.
type User struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	Allergies []string `json:"allergies"`
}

// Analysis is the normalized verdict for one submitted food image. The
// server's safe_to_eat is authoritative; the client renders it as given
// and does not recompute safety from the allergen list.
type Analysis struct {
	FoodName          string   `json:"food_name"`
	Ingredients       []string `json:"ingredients"`
	AllergensDetected []string `json:"allergens_detected"`
	SafeToEat         bool     `json:"safe_to_eat"`
	Confidence        float64  `json:"confidence"`
	WarningMessage    string   `json:"warning_message,omitempty"`
}

// HistoryEntry is one past analysis as stored by the backend. AnalyzedAt
// is kept as the raw server string; Time parses it on demand.
type HistoryEntry struct {
	FoodName          string   `json:"food_name"`
	Ingredients       []string `json:"ingredients"`
	AllergensDetected []string `json:"allergens_detected"`
	SafeToEat         bool     `json:"safe_to_eat"`
	AnalyzedAt        string   `json:"analyzed_at"`
	ImageBase64       string   `json:"image_base64"`
}

// Time parses the entry's analyzed_at timestamp. A zero time is returned
// for values the server sent in an unexpected format.
func (e *HistoryEntry) Time() time.Time {
	t, err := time.Parse(time.RFC3339, e.AnalyzedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
