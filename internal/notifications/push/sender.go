// Package push sends mobile push notifications through the Firebase
// Cloud Messaging HTTP v1 API.
package push

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

	"github.com/appreciatorme/travel-ops/internal/notifications"
)

// ProviderName identifies this sender in delivery records.
const ProviderName = "firebase_fcm"

const defaultBaseURL = "https://fcm.googleapis.com/v1"

// TokenStore resolves a user's registered device tokens and retires
// tokens the provider reports as dead.
type TokenStore interface {
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	DeactivateToken(ctx context.Context, token string) error
}

// TokenSource supplies OAuth2 bearer tokens for the FCM API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed bearer token. Useful for tests and
// for deployments that refresh credentials out of band.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// Config holds FCM credentials and tuning.
type Config struct {
	ProjectID string
	BaseURL   string        // defaults to the FCM v1 endpoint
	Timeout   time.Duration // per-request, defaults to 5s
}

// Sender implements notifications.PushSender. One logical send fans
// out to every active device token of the user; the send succeeds when
// at least one device accepted the message.
type Sender struct {
	cfg    Config
	client *http.Client
	tokens TokenStore
	creds  TokenSource
}

// NewSender creates an FCM push sender.
func NewSender(cfg Config, tokens TokenStore, creds TokenSource) *Sender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		creds:  creds,
	}
}

// Provider returns the provider identifier for audit records.
func (s *Sender) Provider() string { return ProviderName }

type fcmMessage struct {
	Message fcmPayload `json:"message"`
}

type fcmPayload struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Name  string `json:"name"`
	Error *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendToUser delivers a notification to every active device of the
// user. A user without registered devices is a failed send; the queue
// retry policy decides what happens next.
func (s *Sender) SendToUser(ctx context.Context, userID, title, body string, data map[string]string) notifications.SendResult {
	deviceTokens, err := s.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("load push tokens: %v", err)}
	}
	if len(deviceTokens) == 0 {
		return notifications.SendResult{Err: "no active push tokens for user"}
	}

	bearer, err := s.creds.Token(ctx)
	if err != nil {
		return notifications.SendResult{Err: fmt.Sprintf("fcm credentials: %v", err)}
	}

	var firstMessageID string
	var errs []string

	for _, deviceToken := range deviceTokens {
		messageID, err := s.sendOne(ctx, bearer, deviceToken, title, body, data)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if firstMessageID == "" {
			firstMessageID = messageID
		}
	}

	if firstMessageID == "" {
		return notifications.SendResult{Err: "fcm: " + strings.Join(errs, "; ")}
	}
	return notifications.SendResult{Success: true, MessageID: firstMessageID}
}

func (s *Sender) sendOne(ctx context.Context, bearer, deviceToken, title, body string, data map[string]string) (string, error) {
	payload := fcmMessage{
		Message: fcmPayload{
			Token:        deviceToken,
			Notification: fcmNotification{Title: title, Body: body},
			Data:         data,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/messages:send", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fcm api: %w", err)
	}
	defer resp.Body.Close()

	rawResp, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed fcmResponse
	if err := json.Unmarshal(rawResp, &parsed); err != nil {
		return "", fmt.Errorf("fcm api status %d: unparseable response", resp.StatusCode)
	}

	if resp.StatusCode >= 300 || parsed.Error != nil {
		status := "UNKNOWN"
		message := "unknown error"
		if parsed.Error != nil {
			status = parsed.Error.Status
			message = parsed.Error.Message
		}

		// Dead registrations are retired so the next attempt skips them.
		if status == "UNREGISTERED" || status == "NOT_FOUND" {
			if err := s.tokens.DeactivateToken(ctx, deviceToken); err != nil {
				slog.Warn("push token deactivation failed", "error", err)
			}
		}

		return "", fmt.Errorf("fcm api status %d (%s): %s", resp.StatusCode, status, message)
	}

	return parsed.Name, nil
}
