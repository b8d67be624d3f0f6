package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Message is one outgoing email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type ProviderConfig struct {
	Kind          string
	WebhookURL    string
	WebhookToken  string
	PostmarkToken string
	From          string
	LogSecrets    bool
	HTTPClient    *http.Client
}

// NewProvider picks a delivery backend. Unknown or incomplete settings fall
// back to logging.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{logger: logger, logSecrets: cfg.LogSecrets}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			logger.Warn("webhook provider without NOTIFY_WEBHOOK_URL, logging instead")
			return logProvider{logger: logger, logSecrets: cfg.LogSecrets}
		}
		return webhookProvider{url: cfg.WebhookURL, token: cfg.WebhookToken, client: client}
	case "postmark":
		if cfg.PostmarkToken == "" {
			logger.Warn("postmark provider without POSTMARK_SERVER_TOKEN, logging instead")
			return logProvider{logger: logger, logSecrets: cfg.LogSecrets}
		}
		return NewPostmarkProvider(cfg.PostmarkToken, cfg.From, WithHTTPClient(client))
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return webhookProvider{url: cfg.Kind, client: client}
		}
		logger.Warn("unknown notify provider, logging instead", "provider", cfg.Kind)
		return logProvider{logger: logger, logSecrets: cfg.LogSecrets}
	}
}

var secretParam = regexp.MustCompile(`([?&](?:token|key)=)[^&\s"<]+`)

// redact hides bearer tokens carried in link query strings.
func redact(text string) string {
	return secretParam.ReplaceAllString(text, "${1}REDACTED")
}

type logProvider struct {
	logger     *slog.Logger
	logSecrets bool
}

func (p logProvider) Send(ctx context.Context, msg Message) error {
	body := msg.TextBody
	if !p.logSecrets {
		body = redact(body)
	}
	p.logger.InfoContext(ctx, "email", "to", msg.To, "subject", msg.Subject, "body", body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, msg Message) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func (p webhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(map[string]string{
		"channel":   "email",
		"recipient": msg.To,
		"subject":   msg.Subject,
		"message":   msg.TextBody,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected request: status %d", resp.StatusCode)
	}
	return nil
}
