package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// EngineConfig tunes a queue engine.
type EngineConfig struct {
	MaxBatch    int
	MaxAttempts int
	Backoff     RetryPolicy
	AppURL      string // base URL for live-location links
}

// DefaultEngineConfig returns the standard engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxBatch:    25,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultRetryPolicy(),
	}
}

// RunStats summarizes one engine invocation.
type RunStats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Engine drains due queue items: claim, render, fan out to channels,
// record per-channel outcomes, and decide sent / reschedule /
// dead-letter. Safe to invoke concurrently against the same table;
// the atomic claim is the only coordination.
type Engine struct {
	cfg       EngineConfig
	repo      Repository
	renderer  *Renderer
	chat      ChatSender
	push      PushSender
	liveLinks LiveLinkResolver

	now func() time.Time
}

// NewEngine creates a queue engine. chat, push and liveLinks may be
// nil in tests; a nil sender behaves like a missing identifier.
func NewEngine(cfg EngineConfig, repo Repository, renderer *Renderer, chat ChatSender, push PushSender, liveLinks LiveLinkResolver) *Engine {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 25
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultRetryPolicy()
	}

	return &Engine{
		cfg:       cfg,
		repo:      repo,
		renderer:  renderer,
		chat:      chat,
		push:      push,
		liveLinks: liveLinks,
		now:       time.Now,
	}
}

// RunOnce processes one bounded batch of due items. Per-item channel
// failures are contained; repository failures abort the run because
// they mean the audit trail may be incomplete.
func (e *Engine) RunOnce(ctx context.Context, maxBatch int) (RunStats, error) {
	if maxBatch <= 0 || maxBatch > e.cfg.MaxBatch {
		maxBatch = e.cfg.MaxBatch
	}

	var stats RunStats

	due, err := e.repo.DueItems(ctx, e.now(), maxBatch)
	if err != nil {
		recordQueueRun("error")
		return stats, fmt.Errorf("fetch due items: %w", err)
	}

	recordQueueFetched(len(due))
	stats.Processed = len(due)

	for i := range due {
		delivered, claimed, err := e.processItem(ctx, &due[i])
		if err != nil {
			recordQueueRun("error")
			return stats, fmt.Errorf("process item %s: %w", due[i].ID, err)
		}
		if !claimed {
			continue
		}
		if delivered {
			stats.Sent++
		} else {
			stats.Failed++
		}
	}

	recordQueueRun("ok")
	return stats, nil
}

// processItem handles a single claimed item. The returned error is
// always a repository error; sender failures flow into the retry path.
func (e *Engine) processItem(ctx context.Context, item *domain.QueueItem) (delivered, claimed bool, err error) {
	now := e.now()

	attempts, claimed, err := e.repo.Claim(ctx, item.ID, now)
	if err != nil {
		return false, false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Another worker won the race.
		return false, false, nil
	}
	item.Attempts = attempts

	orgID, err := e.repo.ResolveOrganization(ctx, item)
	if err != nil {
		// Audit rows stay unpartitioned rather than losing the item.
		slog.Warn("organization resolution failed", "queue_id", item.ID, "error", err)
		orgID = ""
	}

	vars := item.Payload.TemplateVars
	templateKey := TemplateKey(item.Payload.TemplateKey)

	title := item.Payload.Title
	body := item.Payload.Body
	if templateKey != "" {
		rendered := e.renderer.Render(templateKey, vars)
		title = rendered.Title
		body = rendered.Body
	}
	if title == "" {
		title = DefaultTitle
	}
	if body == "" {
		body = DefaultBody
	}

	if item.Type == "pickup_reminder" && e.liveLinks != nil && item.TripID != "" {
		token, linkErr := e.liveLinks.ResolveLiveLink(ctx, item.TripID, item.Payload.DayNumber)
		if linkErr != nil {
			slog.Warn("live link resolution failed", "queue_id", item.ID, "trip_id", item.TripID, "error", linkErr)
		} else if token != "" {
			liveURL := strings.TrimRight(e.cfg.AppURL, "/") + "/live/" + token
			body = body + "\n\nTrack live location:\n" + liveURL
			vars.LiveLink = liveURL
		}
	}

	var channelErrors []string

	chatResult := e.sendChat(ctx, item, templateKey, vars, title, body)
	if err := e.trackChatOutcome(ctx, item, orgID, templateKey, attempts, chatResult); err != nil {
		return false, true, err
	}
	if chatResult.attempted && !chatResult.result.Success {
		channelErrors = append(channelErrors, "whatsapp: "+chatResult.result.Err)
	}

	pushResult := e.sendPush(ctx, item, title, body)
	if err := e.trackPushOutcome(ctx, item, orgID, attempts, pushResult); err != nil {
		return false, true, err
	}
	if pushResult.attempted && !pushResult.result.Success {
		channelErrors = append(channelErrors, "push: "+pushResult.result.Err)
	}

	delivered = (chatResult.attempted && chatResult.result.Success) ||
		(pushResult.attempted && pushResult.result.Success)

	if delivered {
		if err := e.repo.MarkSent(ctx, item.ID, e.now()); err != nil {
			return true, true, fmt.Errorf("mark sent: %w", err)
		}
		return true, true, nil
	}

	reason := strings.Join(channelErrors, " | ")
	if reason == "" {
		reason = "all channels failed"
	}

	slog.Warn("queue item delivery failed on all channels",
		"queue_id", item.ID,
		"trip_id", item.TripID,
		"attempts", attempts,
		"reason", reason,
	)

	if attempts >= e.cfg.MaxAttempts {
		deadLetter := &domain.DeadLetter{
			QueueID:        item.ID,
			OrganizationID: orgID,
			TripID:         item.TripID,
			UserID:         item.UserID,
			RecipientPhone: item.RecipientPhone,
			RecipientType:  item.RecipientType,
			Type:           item.Type,
			Payload:        item.Payload,
			Attempts:       attempts,
			ErrorMessage:   reason,
			FailedChannels: channelErrors,
		}
		if err := e.repo.InsertDeadLetter(ctx, deadLetter); err != nil {
			return false, true, fmt.Errorf("insert dead letter: %w", err)
		}
		if err := e.repo.MarkFailed(ctx, item.ID, reason, e.now()); err != nil {
			return false, true, fmt.Errorf("mark failed: %w", err)
		}
		return false, true, nil
	}

	delay := e.cfg.Backoff.NextDelay(attempts)
	if err := e.repo.Reschedule(ctx, item.ID, reason, e.now().Add(delay)); err != nil {
		return false, true, fmt.Errorf("reschedule: %w", err)
	}

	retryMinutes := int(delay / time.Minute)
	marker := &domain.DeliveryStatus{
		OrganizationID: orgID,
		QueueID:        item.ID,
		TripID:         item.TripID,
		UserID:         item.UserID,
		RecipientPhone: item.RecipientPhone,
		RecipientType:  item.RecipientType,
		Channel:        domain.ChannelEmail,
		Provider:       "queue_retry_policy",
		Type:           item.Type,
		Status:         domain.DeliveryRetrying,
		AttemptNumber:  attempts,
		ErrorMessage:   fmt.Sprintf("Retry scheduled in %d minute(s): %s", retryMinutes, reason),
		Metadata: map[string]any{
			"retry_in_minutes": retryMinutes,
			"max_attempts":     e.cfg.MaxAttempts,
		},
	}
	if err := e.repo.TrackDelivery(ctx, marker); err != nil {
		return false, true, fmt.Errorf("track retry marker: %w", err)
	}

	return false, true, nil
}

// channelOutcome pairs a send result with whether the channel was
// attempted at all (missing identifiers are skipped, not failed).
type channelOutcome struct {
	attempted bool
	result    SendResult
}

func (e *Engine) sendChat(ctx context.Context, item *domain.QueueItem, templateKey TemplateKey, vars domain.TemplateVars, title, body string) channelOutcome {
	if item.RecipientPhone == "" || e.chat == nil {
		return channelOutcome{}
	}

	start := time.Now()
	var result SendResult

	if templateKey != "" {
		if tpl := e.renderer.WhatsAppTemplate(templateKey, vars); tpl != nil {
			result = e.chat.SendTemplate(ctx, item.RecipientPhone, *tpl)
		} else {
			result = e.chat.SendText(ctx, item.RecipientPhone, title+"\n\n"+body)
		}
	} else {
		result = e.chat.SendText(ctx, item.RecipientPhone, title+"\n\n"+body)
	}

	recordSendDuration(string(domain.ChannelWhatsApp), time.Since(start))
	return channelOutcome{attempted: true, result: result}
}

func (e *Engine) trackChatOutcome(ctx context.Context, item *domain.QueueItem, orgID string, templateKey TemplateKey, attempts int, outcome channelOutcome) error {
	rec := e.newDeliveryRecord(item, orgID, domain.ChannelWhatsApp, attempts)
	if e.chat != nil {
		rec.Provider = e.chat.Provider()
	}
	rec.Metadata = map[string]any{"template_key": string(templateKey)}

	if !outcome.attempted {
		rec.Status = domain.DeliverySkipped
		rec.ErrorMessage = "recipient phone is missing"
	} else if outcome.result.Success {
		rec.Status = domain.DeliverySent
		rec.ProviderMessageID = outcome.result.MessageID
	} else {
		rec.Status = domain.DeliveryFailed
		rec.ErrorMessage = outcome.result.Err
	}

	recordDelivery(string(domain.ChannelWhatsApp), string(rec.Status))
	if err := e.repo.TrackDelivery(ctx, rec); err != nil {
		return fmt.Errorf("track whatsapp delivery: %w", err)
	}
	return nil
}

func (e *Engine) sendPush(ctx context.Context, item *domain.QueueItem, title, body string) channelOutcome {
	if item.UserID == "" || e.push == nil {
		return channelOutcome{}
	}

	notificationType := item.Type
	if notificationType == "" {
		notificationType = "general"
	}

	data := map[string]string{
		"type":    notificationType,
		"trip_id": item.TripID,
	}
	if item.Payload.DayNumber > 0 {
		data["day_number"] = strconv.Itoa(item.Payload.DayNumber)
	}

	start := time.Now()
	result := e.push.SendToUser(ctx, item.UserID, title, body, data)
	recordSendDuration(string(domain.ChannelPush), time.Since(start))

	return channelOutcome{attempted: true, result: result}
}

func (e *Engine) trackPushOutcome(ctx context.Context, item *domain.QueueItem, orgID string, attempts int, outcome channelOutcome) error {
	rec := e.newDeliveryRecord(item, orgID, domain.ChannelPush, attempts)
	if e.push != nil {
		rec.Provider = e.push.Provider()
	}

	if !outcome.attempted {
		rec.Status = domain.DeliverySkipped
		rec.ErrorMessage = "recipient user_id is missing"
	} else if outcome.result.Success {
		rec.Status = domain.DeliverySent
		rec.ProviderMessageID = outcome.result.MessageID
	} else {
		rec.Status = domain.DeliveryFailed
		rec.ErrorMessage = outcome.result.Err
	}

	recordDelivery(string(domain.ChannelPush), string(rec.Status))
	if err := e.repo.TrackDelivery(ctx, rec); err != nil {
		return fmt.Errorf("track push delivery: %w", err)
	}
	return nil
}

func (e *Engine) newDeliveryRecord(item *domain.QueueItem, orgID string, channel domain.Channel, attempts int) *domain.DeliveryStatus {
	return &domain.DeliveryStatus{
		OrganizationID: orgID,
		QueueID:        item.ID,
		TripID:         item.TripID,
		UserID:         item.UserID,
		RecipientPhone: item.RecipientPhone,
		RecipientType:  item.RecipientType,
		Channel:        channel,
		Type:           item.Type,
		AttemptNumber:  attempts,
	}
}
