// Package consoleclient is a Go client for the console API: sign-in on
// behalf of a device and the admin assignment workflows.
package consoleclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// SessionHeader carries the device's session id.
const SessionHeader = "X-Session-ID"

// APIError is a non-2xx answer from the console.
type APIError struct {
	Status  int     `json:"-"`
	Code    string  `json:"error"`
	Message string  `json:"message"`
	Notice  *Notice `json:"notice,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("console returned %d", e.Status)
	}
	return fmt.Sprintf("console returned %d: %s: %s", e.Status, e.Code, e.Message)
}

type Notice struct {
	Level          string `json:"level"`
	Message        string `json:"message"`
	DismissAfterMS int64  `json:"dismiss_after_ms"`
}

type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Permission struct {
	ID           string `json:"id"`
	PublisherID  string `json:"publisher_id"`
	SubscriberID string `json:"subscriber_id"`
	AllowVideo   bool   `json:"allow_video"`
	AllowAudio   bool   `json:"allow_audio"`
	IsActive     bool   `json:"is_active"`
}

type AssignResult struct {
	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type SignInResult struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token"`
	Profile     *Profile  `json:"profile"`
	SessionID   string    `json:"session_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Session struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActive      time.Time `json:"last_active"`
	UserAgent       string    `json:"user_agent"`
	IPAddress       string    `json:"ip_address"`
	UserEmail       string    `json:"user_email,omitempty"`
	Online          bool      `json:"online"`
	Browser         string    `json:"browser"`
	Device          string    `json:"device"`
	LastSeen        string    `json:"last_seen"`
	DurationMinutes int64     `json:"duration_minutes"`
}

type Sessions struct {
	Sessions []Session `json:"sessions"`
	Summary  struct {
		Active    int `json:"active"`
		Total     int `json:"total"`
		UniqueIPs int `json:"unique_ips"`
	} `json:"summary"`
}

type Backup struct {
	Name    string    `json:"name"`
	TakenAt time.Time `json:"taken_at"`
}

// Client talks to one console as one device. After SignIn it carries the
// access token and the session id on every call.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	token     string
	sessionID string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) SignUp(ctx context.Context, email, password, role, displayName string) (*Profile, error) {
	var out struct {
		Profile *Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"email":        email,
		"password":     password,
		"role":         role,
		"display_name": displayName,
	}, &out)
	return out.Profile, err
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	var out SignInResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	}, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.mu.Unlock()
	return &out, nil
}

// SignOut ends the device session and forgets the credentials, even when
// the console call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/signout", nil, nil)

	c.mu.Lock()
	c.token = ""
	c.sessionID = ""
	c.mu.Unlock()
	return err
}

// Validate reports whether this device's session is still the valid one.
func (c *Client) Validate(ctx context.Context) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/validate", nil, &out)
	return out.Valid, err
}

func (c *Client) ListUsers(ctx context.Context, role string) ([]Profile, error) {
	var out struct {
		Users []Profile `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/admin/users?role="+url.QueryEscape(role), nil, &out)
	return out.Users, err
}

func (c *Client) Permissions(ctx context.Context, subscriberID string) ([]Permission, error) {
	var out struct {
		Permissions []Permission `json:"permissions"`
	}
	err := c.do(ctx, http.MethodGet, subscriberPath(subscriberID, "/permissions"), nil, &out)
	return out.Permissions, err
}

func (c *Client) ToggleAssignment(ctx context.Context, publisherID, subscriberID string, assigned bool) (*Notice, error) {
	var out struct {
		Notice *Notice `json:"notice"`
	}
	err := c.do(ctx, http.MethodPut, subscriberPath(subscriberID, "/publishers/"+url.PathEscape(publisherID)),
		map[string]bool{"assigned": assigned}, &out)
	return out.Notice, err
}

// SetCapability sets "allowAudio" or "allowVideo" on an existing edge.
func (c *Client) SetCapability(ctx context.Context, publisherID, subscriberID, bit string, value bool) (*Notice, error) {
	var out struct {
		Notice *Notice `json:"notice"`
	}
	err := c.do(ctx, http.MethodPatch, subscriberPath(subscriberID, "/publishers/"+url.PathEscape(publisherID)),
		map[string]interface{}{"bit": bit, "value": value}, &out)
	return out.Notice, err
}

type bulkResponse struct {
	Result AssignResult `json:"result"`
	Notice *Notice      `json:"notice"`
}

func (c *Client) AssignAll(ctx context.Context, subscriberID string) (AssignResult, *Notice, error) {
	var out bulkResponse
	err := c.do(ctx, http.MethodPost, subscriberPath(subscriberID, "/assign-all"), nil, &out)
	return out.Result, out.Notice, err
}

func (c *Client) UnassignAll(ctx context.Context, subscriberID string) (AssignResult, *Notice, error) {
	var out bulkResponse
	err := c.do(ctx, http.MethodPost, subscriberPath(subscriberID, "/unassign-all"), nil, &out)
	return out.Result, out.Notice, err
}

func (c *Client) BulkAssign(ctx context.Context, subscriberIDs []string, confirm bool) (AssignResult, *Notice, error) {
	var out bulkResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/bulk-assign", map[string]interface{}{
		"subscriber_ids": subscriberIDs,
		"confirm":        confirm,
	}, &out)
	return out.Result, out.Notice, err
}

func (c *Client) Sessions(ctx context.Context) (*Sessions, error) {
	var out Sessions
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBackup(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/backups", nil, &out)
	return out.Name, err
}

func (c *Client) ListBackups(ctx context.Context) ([]Backup, error) {
	var out struct {
		Backups []Backup `json:"backups"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/admin/backups", nil, &out)
	return out.Backups, err
}

// RestoreBackup restores the named backup; "latest" picks the newest.
func (c *Client) RestoreBackup(ctx context.Context, name string) (AssignResult, error) {
	var out bulkResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/admin/backups/"+url.PathEscape(name)+"/restore", nil, &out)
	return out.Result, err
}

func subscriberPath(subscriberID, suffix string) string {
	return "/api/v1/admin/subscribers/" + url.PathEscape(subscriberID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.sessionID != "" {
		req.Header.Set(SessionHeader, c.sessionID)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The console mirrors every session change onto the response header.
	if values, ok := resp.Header[http.CanonicalHeaderKey(SessionHeader)]; ok {
		c.mu.Lock()
		c.sessionID = values[0]
		c.mu.Unlock()
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
