package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"concierge/pkg/logging"
)

const (
	defaultBaseURL = "https://api.sendpulse.com"
	tokenSlack     = 30 * time.Second
	maxBodyBytes   = 1 << 20 // 1 MB
)

// Config configures the CRM client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ListID       int
	Client       *http.Client
	Logger       logging.Logger
}

// Client syncs new contacts into the CRM address book. All calls are
// best-effort; callers fire them in the background and only log
// failures.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	listID       int
	client       *http.Client
	logger       logging.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		listID:       cfg.ListID,
		client:       client,
		logger:       cfg.Logger,
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// SyntheticEmail derives the placeholder address stored for a
// phone-only contact.
func SyntheticEmail(phone string) string {
	return phone + "@whatsapp.bot"
}

// AddContact registers a contact on the configured address book with
// the service they selected. The email slot is filled with a synthetic
// address derived from the phone number.
func (c *Client) AddContact(ctx context.Context, phone, name, service string) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain CRM token: %w", err)
	}

	payload := map[string]interface{}{
		"emails": []map[string]interface{}{
			{
				"email": SyntheticEmail(phone),
				"variables": map[string]string{
					"phone":   phone,
					"name":    name,
					"service": service,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode contact payload: %w", err)
	}

	url := fmt.Sprintf("%s/addressbooks/%d/emails", c.baseURL, c.listID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build contact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("contact request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("contact request returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	c.logger.WithFields(logging.Fields{
		"phone":   phone,
		"service": service,
		"list_id": c.listID,
	}).Info("Contact synced to CRM")
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return "", fmt.Errorf("token request returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.accessToken = tok.AccessToken
	expiry := time.Duration(tok.ExpiresIn) * time.Second
	if expiry <= tokenSlack {
		expiry = time.Hour
	}
	c.tokenExpiry = time.Now().Add(expiry - tokenSlack)
	return c.accessToken, nil
}
