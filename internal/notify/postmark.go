package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

type PostmarkProvider struct {
	serverToken string
	fromEmail   string
	endpoint    string
	httpClient  *http.Client
}

type PostmarkOption func(*PostmarkProvider)

func WithHTTPClient(c *http.Client) PostmarkOption {
	return func(p *PostmarkProvider) {
		p.httpClient = c
	}
}

func WithEndpoint(endpoint string) PostmarkOption {
	return func(p *PostmarkProvider) {
		p.endpoint = endpoint
	}
}

func NewPostmarkProvider(serverToken, fromEmail string, opts ...PostmarkOption) *PostmarkProvider {
	p := &PostmarkProvider{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		endpoint:    postmarkEndpoint,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody,omitempty"`
	TextBody string `json:"TextBody"`
}

func (p *PostmarkProvider) Send(ctx context.Context, msg Message) error {
	if p.serverToken == "" {
		return fmt.Errorf("postmark not configured: missing server token")
	}
	body, err := json.Marshal(postmarkEmail{
		From:     p.fromEmail,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.serverToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
