//go:build integration

package integration

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appreciatorme/travel-ops/internal/notifications"
	"github.com/appreciatorme/travel-ops/internal/testutil"
)

const runPath = "/api/v1/notifications/queue/run"

type runStatsData struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

type enqueueData struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

func enqueueNotification(t *testing.T, client *testutil.Client, body map[string]any) enqueueData {
	t.Helper()

	resp := client.Post(t, "/api/v1/notifications", body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("enqueue failed with status %d: %s", resp.StatusCode, resp.Body)
	}

	var data enqueueData
	resp.DataField(t, &data)
	return data
}

func TestRunQueue_RejectsAnonymousCaller(t *testing.T) {
	resetState(t)

	testutil.NewClient(testServer.URL).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusUnauthorized)
}

func TestRunQueue_CronSecretDeliversDueItem(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)
	admin := adminClient(t, seedAdmin(t, f.OrgID))

	queued := enqueueNotification(t, admin, map[string]any{
		"trip_id":         f.TripID,
		"recipient_phone": f.Phone,
		"type":            "trip_update",
		"title":           "Itinerary updated",
		"body":            "Your day 2 plan changed.",
	})

	var stats runStatsData
	cronClient().
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusOK).
		DataField(t, &stats)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Failed)

	row := getQueueRow(t, queued.ID)
	assert.Equal(t, "sent", row.Status)
	assert.Equal(t, 1, row.Attempts)

	calls := fakeWhatsApp.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "text", calls[0].Type)
	assert.Contains(t, calls[0].Body, "Itinerary updated")

	// One audit row per channel: whatsapp sent, push skipped (no user).
	assert.Equal(t, 1, countRows(t,
		`SELECT COUNT(*) FROM notification_delivery_status WHERE queue_id = $1 AND channel = 'whatsapp' AND status = 'sent'`,
		queued.ID))
	assert.Equal(t, 1, countRows(t,
		`SELECT COUNT(*) FROM notification_delivery_status WHERE queue_id = $1 AND channel = 'push' AND status = 'skipped'`,
		queued.ID))
}

func TestRunQueue_SignedTrigger(t *testing.T) {
	resetState(t)

	ts, signature := notifications.SignTrigger(testCronSecret, http.MethodPost, runPath, time.Now())

	testutil.NewClient(testServer.URL).
		WithHeader("X-Cron-Ts", ts).
		WithHeader("X-Cron-Signature", signature).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusOK)
}

func TestRunQueue_StaleSignatureRejected(t *testing.T) {
	resetState(t)

	ts, signature := notifications.SignTrigger(testCronSecret, http.MethodPost, runPath, time.Now().Add(-10*time.Minute))

	testutil.NewClient(testServer.URL).
		WithHeader("X-Cron-Ts", ts).
		WithHeader("X-Cron-Signature", signature).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusUnauthorized)
}

func TestRunQueue_ServiceRoleKey(t *testing.T) {
	resetState(t)

	testutil.NewClient(testServer.URL).
		WithToken(testServiceRoleKey).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusOK)
}

func TestRunQueue_AdminJWT(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)

	adminClient(t, seedAdmin(t, f.OrgID)).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusOK)
}

func TestRunQueue_ClientJWTRejected(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)

	clientClient(t, f.ClientID).
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusUnauthorized)
}

func TestEnqueue_IdempotencyKeyDeduplicates(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)
	admin := adminClient(t, seedAdmin(t, f.OrgID))

	body := map[string]any{
		"recipient_phone": f.Phone,
		"type":            "payment_reminder",
		"body":            "Deposit due Friday.",
		"idempotency_key": "payment-reminder:trip-1:2026-08-28",
	}

	first := admin.Post(t, "/api/v1/notifications", body).RequireStatus(t, http.StatusCreated)
	var created enqueueData
	first.DataField(t, &created)
	assert.False(t, created.Duplicate)

	second := admin.Post(t, "/api/v1/notifications", body).RequireStatus(t, http.StatusOK)
	var dup enqueueData
	second.DataField(t, &dup)
	assert.True(t, dup.Duplicate)

	assert.Equal(t, 1, countRows(t,
		`SELECT COUNT(*) FROM notification_queue WHERE idempotency_key = $1`,
		"payment-reminder:trip-1:2026-08-28"))
}

func TestEnqueue_ScheduledItemIsNotDue(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)
	admin := adminClient(t, seedAdmin(t, f.OrgID))

	enqueueNotification(t, admin, map[string]any{
		"recipient_phone": f.Phone,
		"type":            "pickup_reminder",
		"body":            "Pickup tomorrow.",
		"scheduled_for":   time.Now().Add(1 * time.Hour).Format(time.RFC3339),
	})

	var stats runStatsData
	cronClient().
		Post(t, runPath, nil).
		RequireStatus(t, http.StatusOK).
		DataField(t, &stats)

	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, fakeWhatsApp.calls())
}

// Concurrent triggers must not double-deliver: the atomic claim lets
// exactly one run own each due item.
func TestRunQueue_ConcurrentRunsDeliverOnce(t *testing.T) {
	resetState(t)
	f := seedTripWithClient(t)
	admin := adminClient(t, seedAdmin(t, f.OrgID))

	queued := enqueueNotification(t, admin, map[string]any{
		"recipient_phone": f.Phone,
		"type":            "trip_update",
		"body":            "Gate change.",
	})

	const runners = 4
	results := make([]runStatsData, runners)

	var wg sync.WaitGroup
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cronClient().
				Post(t, runPath, nil).
				RequireStatus(t, http.StatusOK).
				DataField(t, &results[i])
		}(i)
	}
	wg.Wait()

	totalSent := 0
	for _, stats := range results {
		totalSent += stats.Sent
	}
	assert.Equal(t, 1, totalSent)

	assert.Len(t, fakeWhatsApp.calls(), 1)
	row := getQueueRow(t, queued.ID)
	assert.Equal(t, "sent", row.Status)
	assert.Equal(t, 1, row.Attempts)
}
