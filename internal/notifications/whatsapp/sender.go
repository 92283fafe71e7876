// Package whatsapp sends messages through the Meta WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/appreciatorme/travel-ops/internal/notifications"
)

// ProviderName identifies this sender in delivery records.
const ProviderName = "meta_whatsapp_cloud"

const defaultBaseURL = "https://graph.facebook.com/v20.0"

// Config holds WhatsApp Cloud API credentials and tuning.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string        // defaults to the Meta graph endpoint
	Timeout       time.Duration // per-request, defaults to 5s
	RateLimit     rate.Limit    // messages per second, defaults to 20
}

// Sender implements notifications.ChatSender against the Cloud API.
type Sender struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender creates a WhatsApp sender.
func NewSender(cfg Config) *Sender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}

	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.RateLimit, int(cfg.RateLimit)),
	}
}

// Provider returns the provider identifier for audit records.
func (s *Sender) Provider() string { return ProviderName }

type textPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textContent `json:"text"`
}

type textContent struct {
	Body string `json:"body"`
}

type templatePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templateContent `json:"template"`
}

type templateContent struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a free-form text message.
func (s *Sender) SendText(ctx context.Context, phone, message string) notifications.SendResult {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(phone),
		Type:             "text",
		Text:             textContent{Body: message},
	}
	return s.send(ctx, payload)
}

// SendTemplate sends a pre-approved template message with positional
// body parameters.
func (s *Sender) SendTemplate(ctx context.Context, phone string, tpl notifications.WhatsAppTemplate) notifications.SendResult {
	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(phone),
		Type:             "template",
		Template: templateContent{
			Name:     tpl.Name,
			Language: templateLanguage{Code: tpl.LanguageCode},
		},
	}

	if len(tpl.BodyParams) > 0 {
		params := make([]templateParameter, 0, len(tpl.BodyParams))
		for _, p := range tpl.BodyParams {
			params = append(params, templateParameter{Type: "text", Text: p})
		}
		payload.Template.Components = []templateComponent{
			{Type: "body", Parameters: params},
		}
	}

	return s.send(ctx, payload)
}

func (s *Sender) send(ctx context.Context, payload any) notifications.SendResult {
	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("rate limiter: %v", err)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("marshal payload: %v", err)}
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("whatsapp api: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("read response: %v", err)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("whatsapp api status %d: unparseable response", resp.StatusCode)}
	}

	if resp.StatusCode >= 300 || parsed.Error != nil {
		message := "unknown error"
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		slog.Warn("whatsapp send failed", "status", resp.StatusCode, "error", message)
		return notifications.SendResult{Err: fmt.Sprintf("whatsapp api status %d: %s", resp.StatusCode, message)}
	}

	var messageID string
	if len(parsed.Messages) > 0 {
		messageID = parsed.Messages[0].ID
	}

	return notifications.SendResult{Success: true, MessageID: messageID}
}

// NormalizePhone strips formatting characters and converts a leading
// "00" international prefix to "+". Digits without any prefix are
// passed through for the API to interpret.
func NormalizePhone(phone string) string {
	trimmed := strings.TrimSpace(phone)

	var b strings.Builder
	for i, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}
	return normalized
}
