// Package email delivers invitation notices through the Postmark API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const DefaultAPIURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Config struct {
	ServerToken string `yaml:"postmark_token"`
	From        string `yaml:"from"`
	// AppURL is where the invited user opens the app to answer.
	AppURL string `yaml:"app_url"`
	APIURL string `yaml:"api_url"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.cfg.ServerToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// Invitation is what the notice tells the invited user.
type Invitation struct {
	ToEmail       string
	HouseholdName string
	InviterName   string
}

// SendInvitation emails the invited user that someone added them to a household.
func (c *Client) SendInvitation(ctx context.Context, inv Invitation) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if inv.ToEmail == "" {
		return errors.New("send invitation: no recipient address")
	}

	inviter := inv.InviterName
	if inviter == "" {
		inviter = "Someone"
	}
	subject := fmt.Sprintf("You've been invited to %s", inv.HouseholdName)
	textBody := fmt.Sprintf("%s invited you to share the %s pantry.\n\nOpen %s to accept or decline.", inviter, inv.HouseholdName, c.cfg.AppURL)
	htmlBody := fmt.Sprintf(
		`<p>%s invited you to share the <strong>%s</strong> pantry.</p><p><a href="%s">Open the app</a> to accept or decline.</p>`,
		inviter, inv.HouseholdName, c.cfg.AppURL,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.cfg.From,
		To:       inv.ToEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "invitation",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.cfg.ServerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			ErrorCode int
			Message   string
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("postmark API error: status %d: %s", resp.StatusCode, apiErr.Message)
	}
	return nil
}
