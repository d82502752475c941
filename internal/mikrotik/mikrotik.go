// Package mikrotik wraps the MikroTik RouterOS REST API for hotspot account
// management in VentaBot.
//
// All subscriber accounts live in the router's User Manager; this package is a
// pure adapter translating domain calls into REST invocations and normalizing
// results and errors. Nothing is cached or duplicated locally.
package mikrotik

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ventanet/ventabot/internal/models"
)

// DefaultTimeout bounds every router round-trip. A stalled router must only
// stall the single request that touched it.
const DefaultTimeout = 10 * time.Second

// DefaultPort is the RouterOS www-ssl REST API port.
const DefaultPort = 8443

// Directory defines the account directory operations used by the bot.
type Directory interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
	FindUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, username, password, fullName, plan string) error
	SetUserPlan(ctx context.Context, username, plan string) error
	RemoveAllPlans(ctx context.Context, username string) error
	EnableUser(ctx context.Context, username string) error
	ReplaceUserPlan(ctx context.Context, username, plan string) error
}

// User is a subscriber account as reported by User Manager.
type User struct {
	ID       string `json:".id"`
	Name     string `json:"name"`
	Disabled string `json:"disabled,omitempty"`
	Customer string `json:"customer,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// IsDisabled reports whether the account is currently disabled on the router.
func (u *User) IsDisabled() bool {
	return u.Disabled == "true" || u.Disabled == "yes"
}

// userProfile is a profile assignment row in User Manager.
type userProfile struct {
	ID      string `json:".id"`
	User    string `json:"user"`
	Profile string `json:"profile"`
}

// restProfile is the wire shape of a User Manager profile.
type restProfile struct {
	Name        string `json:"name"`
	Price       string `json:"price,omitempty"`
	Validity    string `json:"validity,omitempty"`
	RateLimit   string `json:"rate-limit,omitempty"`
	SharedUsers string `json:"shared-users,omitempty"`
}

// Opts holds configuration options for the RouterOS client.
type Opts struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Timeout     time.Duration
	InsecureTLS bool
	HTTPClient  *http.Client
}

// Option defines a configuration option for the RouterOS client.
type Option func(*Opts)

// WithHost sets the router host.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithPort sets the router REST API port.
func WithPort(port int) Option {
	return func(o *Opts) { o.Port = port }
}

// WithCredentials sets the API username and password.
func WithCredentials(username, password string) Option {
	return func(o *Opts) { o.Username = username; o.Password = password }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithInsecureTLS skips certificate verification. Routers commonly serve the
// REST API on a self-signed certificate.
func WithInsecureTLS(insecure bool) Option {
	return func(o *Opts) { o.InsecureTLS = insecure }
}

// WithHTTPClient injects a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the RouterOS REST API (/rest/user-manager/...).
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient creates a RouterOS REST client. Host and credentials fall back to
// MIKROTIK_HOST, MIKROTIK_USER and MIKROTIK_PASS.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Port: DefaultPort, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("MIKROTIK_HOST")
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("MIKROTIK_USER")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("MIKROTIK_PASS")
	}
	slog.Debug("mikrotik.NewClient: config loaded",
		"host_set", cfg.Host != "",
		"user_set", cfg.Username != "",
		"port", cfg.Port)

	if cfg.Host == "" {
		return nil, fmt.Errorf("router host must be provided")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("router credentials must be provided")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{}
		if cfg.InsecureTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	return &Client{
		baseURL:  fmt.Sprintf("https://%s:%d/rest", cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
	}, nil
}

// NewClientWithBaseURL creates a client against an explicit base URL.
// Tests point this at an httptest server.
func NewClientWithBaseURL(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: baseURL, username: username, password: password, http: httpClient}
}

// do performs a REST call and decodes the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("router unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("router returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode router response: %w", err)
		}
	}
	return nil
}

// ListPlans returns the profiles configured in User Manager.
func (c *Client) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var profiles []restProfile
	if err := c.do(ctx, http.MethodGet, "/user-manager/profile", nil, &profiles); err != nil {
		slog.Error("mikrotik.ListPlans failed", "error", err)
		return nil, fmt.Errorf("list plans: %w", err)
	}

	plans := make([]models.Plan, 0, len(profiles))
	for _, p := range profiles {
		plans = append(plans, models.Plan{
			Name:        p.Name,
			Price:       p.Price,
			Validity:    p.Validity,
			RateLimit:   p.RateLimit,
			SharedUsers: p.SharedUsers,
		})
	}
	slog.Debug("mikrotik.ListPlans succeeded", "count", len(plans))
	return plans, nil
}

// FindUser looks up a subscriber account by username. Returns (nil, nil) when
// the account does not exist; errors are reserved for router failures.
func (c *Client) FindUser(ctx context.Context, username string) (*User, error) {
	var users []User
	path := "/user-manager/user?name=" + url.QueryEscape(username)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		slog.Error("mikrotik.FindUser failed", "error", err, "username", username)
		return nil, fmt.Errorf("find user %s: %w", username, err)
	}
	for i := range users {
		if users[i].Name == username {
			slog.Debug("mikrotik.FindUser: user found", "username", username)
			return &users[i], nil
		}
	}
	slog.Debug("mikrotik.FindUser: user not found", "username", username)
	return nil, nil
}

// CreateUser provisions a new subscriber account and, when plan is non-empty,
// activates that profile on it. A failed plan assignment does not roll back
// the created account; the account is left plan-less for manual fixup.
func (c *Client) CreateUser(ctx context.Context, username, password, fullName, plan string) error {
	payload := map[string]string{
		"name":     username,
		"password": password,
		"disabled": "no",
		"comment":  "Bot: " + fullName,
	}
	if err := c.do(ctx, http.MethodPut, "/user-manager/user", payload, nil); err != nil {
		slog.Error("mikrotik.CreateUser failed", "error", err, "username", username)
		return fmt.Errorf("create user %s: %w", username, err)
	}
	slog.Info("mikrotik.CreateUser: user created", "username", username)

	if plan == "" {
		return nil
	}
	if err := c.SetUserPlan(ctx, username, plan); err != nil {
		slog.Warn("mikrotik.CreateUser: user created but plan assignment failed", "error", err, "username", username, "plan", plan)
		return fmt.Errorf("user %s created but plan %s not assigned: %w", username, plan, err)
	}
	return nil
}

// SetUserPlan activates a profile on an existing account. If activation fails
// for a disabled account, the account is enabled and activation retried once.
func (c *Client) SetUserPlan(ctx context.Context, username, plan string) error {
	err := c.activateProfile(ctx, username, plan)
	if err == nil {
		slog.Info("mikrotik.SetUserPlan: plan activated", "username", username, "plan", plan)
		return nil
	}

	user, findErr := c.FindUser(ctx, username)
	if findErr == nil && user != nil && user.IsDisabled() {
		slog.Debug("mikrotik.SetUserPlan: enabling disabled user before retry", "username", username)
		if enableErr := c.EnableUser(ctx, username); enableErr == nil {
			if retryErr := c.activateProfile(ctx, username, plan); retryErr == nil {
				slog.Info("mikrotik.SetUserPlan: plan activated after enabling user", "username", username, "plan", plan)
				return nil
			}
		}
	}

	slog.Error("mikrotik.SetUserPlan failed", "error", err, "username", username, "plan", plan)
	return fmt.Errorf("set plan %s for %s: %w", plan, username, err)
}

// activateProfile creates the profile assignment row that grants entitlement.
func (c *Client) activateProfile(ctx context.Context, username, plan string) error {
	payload := map[string]string{"user": username, "profile": plan}
	return c.do(ctx, http.MethodPut, "/user-manager/user-profile", payload, nil)
}

// RemoveAllPlans deletes every profile assignment of the account. Used before
// activating a paid plan so trial and paid entitlements never stack.
func (c *Client) RemoveAllPlans(ctx context.Context, username string) error {
	var assignments []userProfile
	path := "/user-manager/user-profile?user=" + url.QueryEscape(username)
	if err := c.do(ctx, http.MethodGet, path, nil, &assignments); err != nil {
		return fmt.Errorf("list profiles of %s: %w", username, err)
	}

	removed := 0
	for _, a := range assignments {
		if a.User != username {
			continue
		}
		if err := c.do(ctx, http.MethodDelete, "/user-manager/user-profile/"+url.PathEscape(a.ID), nil, nil); err != nil {
			slog.Warn("mikrotik.RemoveAllPlans: failed to remove assignment", "error", err, "username", username, "profile", a.Profile)
			continue
		}
		removed++
	}
	slog.Debug("mikrotik.RemoveAllPlans succeeded", "username", username, "removed", removed)
	return nil
}

// EnableUser clears the disabled flag on an account.
func (c *Client) EnableUser(ctx context.Context, username string) error {
	user, err := c.FindUser(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("enable user: %s does not exist", username)
	}
	payload := map[string]string{"disabled": "no"}
	if err := c.do(ctx, http.MethodPatch, "/user-manager/user/"+url.PathEscape(user.ID), payload, nil); err != nil {
		slog.Error("mikrotik.EnableUser failed", "error", err, "username", username)
		return fmt.Errorf("enable user %s: %w", username, err)
	}
	slog.Info("mikrotik.EnableUser: user enabled", "username", username)
	return nil
}

// ReplaceUserPlan removes every existing profile assignment and activates the
// new plan. Removal failures are logged and skipped: the account may simply
// have no profiles left, and the activation is what the customer paid for.
func (c *Client) ReplaceUserPlan(ctx context.Context, username, plan string) error {
	slog.Info("mikrotik.ReplaceUserPlan: replacing plan", "username", username, "plan", plan)
	if err := c.RemoveAllPlans(ctx, username); err != nil {
		slog.Warn("mikrotik.ReplaceUserPlan: removing previous plans failed, continuing", "error", err, "username", username)
	}
	return c.SetUserPlan(ctx, username, plan)
}
