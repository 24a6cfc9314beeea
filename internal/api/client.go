// Package api is the HTTP client for the allergy-screening backend. It
// owns the wire contracts (JSON bodies, the multipart analyze upload,
// {"detail": ...} error envelopes) and nothing else; callers get typed
// results or an *Error carrying whatever detail the server supplied.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error is a failed backend response. Detail is the server-supplied
// message, empty when the body carried none.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Message returns the text to surface to the user: the server detail
// verbatim when present, otherwise a generic fallback.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("Request failed (HTTP %d). Please try again.", e.Status)
}

// Client talks to the backend. The zero value is not usable; use New.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	analyzeTimeout time.Duration
	logger         *slog.Logger
}

// New creates a backend client. requestTimeout applies to every call
// except AnalyzeFood, which uses analyzeTimeout.
func New(baseURL string, requestTimeout, analyzeTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: requestTimeout},
		analyzeTimeout: analyzeTimeout,
		logger:         logger,
	}
}

// Login exchanges credentials for the user's identity and allergy
// profile.
func (c *Client) Login(ctx context.Context, creds Credentials) (*User, error) {
	var user User
	if err := c.postJSON(ctx, "/api/login", creds, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a new account. It does not establish a session; the
// caller follows up with Login.
func (c *Client) Register(ctx context.Context, email, password string, allergies []string) error {
	payload := struct {
		Email     string   `json:"email"`
		Password  string   `json:"password"`
		Allergies []string `json:"allergies"`
	}{Email: email, Password: password, Allergies: allergies}
	return c.postJSON(ctx, "/api/register", payload, nil)
}

// AnalyzeFood uploads image bytes for the given user as a multipart
// request (fields: user_id, image) and returns the verdict.
func (c *Client) AnalyzeFood(ctx context.Context, userID string, image []byte) (*Analysis, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("user_id", userID); err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="food.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze-food", &body)
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// The default client timeout is tuned for quick JSON calls; image
	// inference needs its own budget.
	analyzeClient := &http.Client{Timeout: c.analyzeTimeout}

	var analysis Analysis
	if err := c.do(analyzeClient, req, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// History fetches the user's past analyses, newest-relevant-first as
// ordered by the backend.
func (c *Client) History(ctx context.Context, userID string) ([]HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user/"+userID+"/history", nil)
	if err != nil {
		return nil, fmt.Errorf("creating history request: %w", err)
	}

	var out struct {
		History []HistoryEntry `json:"history"`
	}
	if err := c.do(c.httpClient, req, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// GetUser fetches the current identity and allergy profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user request: %w", err)
	}

	var user User
	if err := c.do(c.httpClient, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateAllergies replaces the user's declared allergy profile.
func (c *Client) UpdateAllergies(ctx context.Context, userID string, allergies []string) error {
	payload := struct {
		UserID    string   `json:"user_id"`
		Allergies []string `json:"allergies"`
	}{UserID: userID, Allergies: allergies}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding allergies: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/user/"+userID+"/allergies", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating allergies request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(c.httpClient, req, nil)
}

// Health pings the backend. Failures are informational only.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	return c.do(c.httpClient, req, nil)
}

// postJSON sends a JSON body and optionally decodes a JSON response into
// out (out may be nil when the body is only an ack).
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(c.httpClient, req, out)
}

// do executes a request, mapping non-2xx responses to *Error with the
// server's detail string when the body carries one.
func (c *Client) do(client *http.Client, req *http.Request, out any) error {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed",
			"method", req.Method, "path", req.URL.Path, "request_id", requestID, "error", err)
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "request_id", requestID,
		"duration", time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var envelope struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil {
			apiErr.Detail = envelope.Detail
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
