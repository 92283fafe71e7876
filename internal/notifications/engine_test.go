package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// mockRepository is an in-memory Repository for engine tests.
type mockRepository struct {
	items        map[string]*domain.QueueItem
	deliveries   []domain.DeliveryStatus
	deadLetters  []domain.DeadLetter
	orgByTrip    map[string]string
	claimDenied  map[string]bool
	dueErr       error
	claimErr     error
	trackErr     error
	markSentErr  error
	rescheduleAt map[string]time.Time
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		items:        make(map[string]*domain.QueueItem),
		orgByTrip:    make(map[string]string),
		claimDenied:  make(map[string]bool),
		rescheduleAt: make(map[string]time.Time),
	}
}

func (m *mockRepository) Enqueue(_ context.Context, item *domain.QueueItem) (bool, error) {
	for _, existing := range m.items {
		if existing.IdempotencyKey == item.IdempotencyKey {
			return false, nil
		}
	}
	copied := *item
	m.items[item.ID] = &copied
	return true, nil
}

func (m *mockRepository) DueItems(_ context.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var due []domain.QueueItem
	for _, item := range m.items {
		if item.Status == domain.QueueStatusPending && !item.ScheduledFor.After(now) {
			due = append(due, *item)
			if len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (m *mockRepository) Claim(_ context.Context, id string, now time.Time) (int, bool, error) {
	if m.claimErr != nil {
		return 0, false, m.claimErr
	}
	if m.claimDenied[id] {
		return 0, false, nil
	}
	item, ok := m.items[id]
	if !ok || item.Status != domain.QueueStatusPending {
		return 0, false, nil
	}
	item.Status = domain.QueueStatusProcessing
	item.Attempts++
	item.LastAttemptAt = &now
	return item.Attempts, true, nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string, at time.Time) error {
	if m.markSentErr != nil {
		return m.markSentErr
	}
	item := m.items[id]
	item.Status = domain.QueueStatusSent
	item.ProcessedAt = &at
	item.ErrorMessage = ""
	return nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id, reason string, at time.Time) error {
	item := m.items[id]
	item.Status = domain.QueueStatusFailed
	item.ProcessedAt = &at
	item.ErrorMessage = reason
	return nil
}

func (m *mockRepository) Reschedule(_ context.Context, id, reason string, nextAt time.Time) error {
	item := m.items[id]
	item.Status = domain.QueueStatusPending
	item.ErrorMessage = reason
	item.ScheduledFor = nextAt
	m.rescheduleAt[id] = nextAt
	return nil
}

func (m *mockRepository) TrackDelivery(_ context.Context, rec *domain.DeliveryStatus) error {
	if m.trackErr != nil {
		return m.trackErr
	}
	m.deliveries = append(m.deliveries, *rec)
	return nil
}

func (m *mockRepository) InsertDeadLetter(_ context.Context, rec *domain.DeadLetter) error {
	m.deadLetters = append(m.deadLetters, *rec)
	return nil
}

func (m *mockRepository) ResolveOrganization(_ context.Context, item *domain.QueueItem) (string, error) {
	return m.orgByTrip[item.TripID], nil
}

func (m *mockRepository) GetQueueItem(_ context.Context, id string) (*domain.QueueItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, ErrQueueItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (m *mockRepository) ResetForRetry(_ context.Context, id string, now time.Time) (bool, error) {
	item, ok := m.items[id]
	if !ok {
		return false, ErrQueueItemNotFound
	}
	if item.Status == domain.QueueStatusSent || item.Status == domain.QueueStatusProcessing {
		return false, nil
	}
	item.Status = domain.QueueStatusPending
	item.ScheduledFor = now
	item.ErrorMessage = ""
	return true, nil
}

func (m *mockRepository) ResetAllFailed(_ context.Context, now time.Time) (int, error) {
	count := 0
	for _, item := range m.items {
		if item.Status == domain.QueueStatusFailed {
			item.Status = domain.QueueStatusPending
			item.ScheduledFor = now
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) ListDeliveries(_ context.Context, filter DeliveryFilter) ([]domain.DeliveryStatus, int, error) {
	return m.deliveries, len(m.deliveries), nil
}

func (m *mockRepository) CountDeliveriesByStatus(_ context.Context, _ string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, rec := range m.deliveries {
		counts[string(rec.Status)]++
	}
	return counts, nil
}

func (m *mockRepository) GetQueueStats(_ context.Context) (*QueueStats, error) {
	stats := &QueueStats{}
	for _, item := range m.items {
		switch item.Status {
		case domain.QueueStatusPending:
			stats.Pending++
		case domain.QueueStatusProcessing:
			stats.Processing++
		case domain.QueueStatusSent:
			stats.Sent++
		case domain.QueueStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// fakeChatSender records calls and returns a canned result.
type fakeChatSender struct {
	result        SendResult
	textCalls     int
	templateCalls int
	lastPhone     string
	lastMessage   string
	lastTemplate  WhatsAppTemplate
}

func (f *fakeChatSender) Provider() string { return "meta_whatsapp_cloud" }

func (f *fakeChatSender) SendText(_ context.Context, phone, message string) SendResult {
	f.textCalls++
	f.lastPhone = phone
	f.lastMessage = message
	return f.result
}

func (f *fakeChatSender) SendTemplate(_ context.Context, phone string, tpl WhatsAppTemplate) SendResult {
	f.templateCalls++
	f.lastPhone = phone
	f.lastTemplate = tpl
	return f.result
}

// fakePushSender records calls and returns a canned result.
type fakePushSender struct {
	result   SendResult
	calls    int
	lastUser string
	lastData map[string]string
}

func (f *fakePushSender) Provider() string { return "firebase_fcm" }

func (f *fakePushSender) SendToUser(_ context.Context, userID, _, _ string, data map[string]string) SendResult {
	f.calls++
	f.lastUser = userID
	f.lastData = data
	return f.result
}

// fakeLiveLinkResolver returns a fixed token.
type fakeLiveLinkResolver struct {
	token string
	err   error
	calls int
}

func (f *fakeLiveLinkResolver) ResolveLiveLink(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	return f.token, f.err
}

func pendingItem(id string) *domain.QueueItem {
	return &domain.QueueItem{
		ID:             id,
		IdempotencyKey: "key-" + id,
		UserID:         "user-1",
		TripID:         "trip-1",
		RecipientPhone: "+255700000001",
		RecipientType:  domain.RecipientClient,
		Type:           "general",
		Payload:        domain.Payload{Title: "Heads up", Body: "Something changed."},
		Status:         domain.QueueStatusPending,
		ScheduledFor:   time.Now().Add(-time.Minute),
	}
}

func newTestEngine(repo Repository, chat ChatSender, push PushSender, liveLinks LiveLinkResolver) *Engine {
	cfg := DefaultEngineConfig()
	cfg.AppURL = "https://app.example.com"
	return NewEngine(cfg, repo, NewRenderer(RendererConfig{}), chat, push, liveLinks)
}

func TestEngine_RunOnce_DualChannelSuccess(t *testing.T) {
	repo := newMockRepository()
	repo.items["q1"] = pendingItem("q1")
	repo.orgByTrip["trip-1"] = "org-1"

	chat := &fakeChatSender{result: SendResult{Success: true, MessageID: "wamid.1"}}
	push := &fakePushSender{result: SendResult{Success: true, MessageID: "fcm-1"}}
	engine := newTestEngine(repo, chat, push, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, RunStats{Processed: 1, Sent: 1}, stats)
	assert.Equal(t, domain.QueueStatusSent, repo.items["q1"].Status)
	assert.Equal(t, 1, repo.items["q1"].Attempts)
	assert.Equal(t, 1, chat.textCalls)
	assert.Equal(t, 1, push.calls)

	require.Len(t, repo.deliveries, 2)
	for _, rec := range repo.deliveries {
		assert.Equal(t, domain.DeliverySent, rec.Status)
		assert.Equal(t, "org-1", rec.OrganizationID)
		assert.Equal(t, 1, rec.AttemptNumber)
	}
}

func TestEngine_RunOnce_OneChannelSuccessIsDelivered(t *testing.T) {
	repo := newMockRepository()
	repo.items["q1"] = pendingItem("q1")

	chat := &fakeChatSender{result: SendResult{Err: "provider 500"}}
	push := &fakePushSender{result: SendResult{Success: true, MessageID: "fcm-1"}}
	engine := newTestEngine(repo, chat, push, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, domain.QueueStatusSent, repo.items["q1"].Status)
}

func TestEngine_RunOnce_SkippedChannelIsNotFailure(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.RecipientPhone = "" // no chat identifier
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Success: true}}
	push := &fakePushSender{result: SendResult{Success: true, MessageID: "fcm-1"}}
	engine := newTestEngine(repo, chat, push, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, chat.textCalls)

	require.Len(t, repo.deliveries, 2)
	var skipped *domain.DeliveryStatus
	for i := range repo.deliveries {
		if repo.deliveries[i].Channel == domain.ChannelWhatsApp {
			skipped = &repo.deliveries[i]
		}
	}
	require.NotNil(t, skipped)
	assert.Equal(t, domain.DeliverySkipped, skipped.Status)
	assert.Equal(t, "recipient phone is missing", skipped.ErrorMessage)
}

func TestEngine_RunOnce_AllChannelsSkippedGoesToRetry(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.RecipientPhone = ""
	item.UserID = ""
	repo.items["q1"] = item

	engine := newTestEngine(repo, &fakeChatSender{}, &fakePushSender{}, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.QueueStatusPending, repo.items["q1"].Status)
	assert.Equal(t, "all channels failed", repo.items["q1"].ErrorMessage)
}

func TestEngine_RunOnce_FailureReschedulesWithBackoff(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Attempts = 1 // claim will make this the second attempt
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Err: "timeout"}}
	push := &fakePushSender{result: SendResult{Err: "no tokens"}}
	engine := newTestEngine(repo, chat, push, nil)

	before := time.Now()
	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.QueueStatusPending, repo.items["q1"].Status)
	assert.Equal(t, 2, repo.items["q1"].Attempts)

	// Second attempt backs off 10 minutes.
	next := repo.rescheduleAt["q1"]
	assert.True(t, next.After(before.Add(10*time.Minute-time.Second)))
	assert.True(t, next.Before(before.Add(10*time.Minute+5*time.Second)))

	// Retry marker row alongside the two channel records.
	require.Len(t, repo.deliveries, 3)
	marker := repo.deliveries[2]
	assert.Equal(t, domain.ChannelEmail, marker.Channel)
	assert.Equal(t, "queue_retry_policy", marker.Provider)
	assert.Equal(t, domain.DeliveryRetrying, marker.Status)
	assert.Contains(t, marker.ErrorMessage, "Retry scheduled in 10 minute(s)")
	assert.Equal(t, 10, marker.Metadata["retry_in_minutes"])
}

func TestEngine_RunOnce_ExhaustionDeadLetters(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Attempts = 4 // claim makes this the fifth and final attempt
	repo.items["q1"] = item
	repo.orgByTrip["trip-1"] = "org-1"

	chat := &fakeChatSender{result: SendResult{Err: "timeout"}}
	push := &fakePushSender{result: SendResult{Err: "no tokens"}}
	engine := newTestEngine(repo, chat, push, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.QueueStatusFailed, repo.items["q1"].Status)

	require.Len(t, repo.deadLetters, 1)
	dl := repo.deadLetters[0]
	assert.Equal(t, "q1", dl.QueueID)
	assert.Equal(t, "org-1", dl.OrganizationID)
	assert.Equal(t, 5, dl.Attempts)
	assert.Equal(t, []string{"whatsapp: timeout", "push: no tokens"}, dl.FailedChannels)
	assert.Contains(t, repo.items["q1"].ErrorMessage, "whatsapp: timeout")
}

func TestEngine_RunOnce_ClaimRaceSkipsItem(t *testing.T) {
	repo := newMockRepository()
	repo.items["q1"] = pendingItem("q1")
	repo.claimDenied["q1"] = true

	chat := &fakeChatSender{result: SendResult{Success: true}}
	engine := newTestEngine(repo, chat, &fakePushSender{result: SendResult{Success: true}}, nil)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, RunStats{Processed: 1}, stats)
	assert.Equal(t, 0, chat.textCalls)
	assert.Empty(t, repo.deliveries)
}

func TestEngine_RunOnce_TemplateRouting(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Type = "trip_delay"
	item.Payload = domain.Payload{
		TemplateKey: string(TemplateTripDelayUpdate),
		TemplateVars: domain.TemplateVars{
			TripTitle:    "Safari Week",
			DelayMinutes: "20",
			DayNumber:    "3",
		},
	}
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Success: true}}
	engine := newTestEngine(repo, chat, nil, nil)

	_, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, chat.templateCalls)
	assert.Equal(t, 0, chat.textCalls)
	assert.Equal(t, "trip_delay_update_v1", chat.lastTemplate.Name)
	assert.Equal(t, []string{"Safari Week", "20", "3"}, chat.lastTemplate.BodyParams)
}

func TestEngine_RunOnce_UnknownTemplateFallsBackToText(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Payload = domain.Payload{TemplateKey: "visa_check"}
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Success: true}}
	engine := newTestEngine(repo, chat, nil, nil)

	_, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, chat.templateCalls)
	assert.Equal(t, 1, chat.textCalls)
	assert.Contains(t, chat.lastMessage, "Visa Check")
}

func TestEngine_RunOnce_PickupReminderAppendsLiveLink(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Type = "pickup_reminder"
	item.Payload = domain.Payload{Title: "Pickup", Body: "Be ready.", DayNumber: 2}
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Success: true}}
	push := &fakePushSender{result: SendResult{Success: true}}
	links := &fakeLiveLinkResolver{token: "abcdef123456"}
	engine := newTestEngine(repo, chat, push, links)

	_, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, links.calls)
	assert.Contains(t, chat.lastMessage, "Track live location:\nhttps://app.example.com/live/abcdef123456")
	assert.Equal(t, "2", push.lastData["day_number"])
	assert.Equal(t, "pickup_reminder", push.lastData["type"])
}

func TestEngine_RunOnce_LiveLinkFailureDoesNotBlockDelivery(t *testing.T) {
	repo := newMockRepository()
	item := pendingItem("q1")
	item.Type = "pickup_reminder"
	repo.items["q1"] = item

	chat := &fakeChatSender{result: SendResult{Success: true}}
	links := &fakeLiveLinkResolver{err: errors.New("db down")}
	engine := newTestEngine(repo, chat, nil, links)

	stats, err := engine.RunOnce(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.NotContains(t, chat.lastMessage, "Track live location")
}

func TestEngine_RunOnce_RepositoryErrorsAbort(t *testing.T) {
	t.Run("due items fetch", func(t *testing.T) {
		repo := newMockRepository()
		repo.dueErr = errors.New("connection refused")
		engine := newTestEngine(repo, nil, nil, nil)

		_, err := engine.RunOnce(context.Background(), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch due items")
	})

	t.Run("claim", func(t *testing.T) {
		repo := newMockRepository()
		repo.items["q1"] = pendingItem("q1")
		repo.claimErr = errors.New("connection refused")
		engine := newTestEngine(repo, nil, nil, nil)

		_, err := engine.RunOnce(context.Background(), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "claim")
	})

	t.Run("track delivery", func(t *testing.T) {
		repo := newMockRepository()
		repo.items["q1"] = pendingItem("q1")
		repo.trackErr = errors.New("connection refused")
		engine := newTestEngine(repo, &fakeChatSender{result: SendResult{Success: true}}, nil, nil)

		_, err := engine.RunOnce(context.Background(), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "track whatsapp delivery")
	})
}

func TestEngine_RunOnce_BatchClamped(t *testing.T) {
	repo := newMockRepository()
	for _, id := range []string{"q1", "q2", "q3"} {
		repo.items[id] = pendingItem(id)
	}

	cfg := DefaultEngineConfig()
	cfg.MaxBatch = 2
	engine := NewEngine(cfg, repo, NewRenderer(RendererConfig{}),
		&fakeChatSender{result: SendResult{Success: true}}, nil, nil)

	stats, err := engine.RunOnce(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
}
