package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenStore struct {
	tokens      []string
	loadErr     error
	deactivated []string
}

func (f *fakeTokenStore) ActiveTokens(_ context.Context, _ string) ([]string, error) {
	return f.tokens, f.loadErr
}

func (f *fakeTokenStore) DeactivateToken(_ context.Context, token string) error {
	f.deactivated = append(f.deactivated, token)
	return nil
}

func newTestSender(t *testing.T, store TokenStore, handler http.HandlerFunc) *Sender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSender(Config{
		ProjectID: "travel-ops-prod",
		BaseURL:   server.URL,
	}, store, StaticTokenSource("bearer-abc"))
}

func TestSender_SendToUser(t *testing.T) {
	t.Run("delivers to single device", func(t *testing.T) {
		var captured map[string]any
		var gotAuth, gotPath string

		store := &fakeTokenStore{tokens: []string{"device-1"}}
		sender := newTestSender(t, store, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			json.NewEncoder(w).Encode(map[string]string{
				"name": "projects/travel-ops-prod/messages/msg-1",
			})
		})

		result := sender.SendToUser(context.Background(), "user-1", "Pickup", "Be ready.",
			map[string]string{"type": "pickup_reminder", "trip_id": "trip-1"})

		require.True(t, result.Success)
		assert.Equal(t, "projects/travel-ops-prod/messages/msg-1", result.MessageID)
		assert.Equal(t, "Bearer bearer-abc", gotAuth)
		assert.Equal(t, "/projects/travel-ops-prod/messages:send", gotPath)

		message := captured["message"].(map[string]any)
		assert.Equal(t, "device-1", message["token"])
		assert.Equal(t, "Pickup", message["notification"].(map[string]any)["title"])
		assert.Equal(t, "pickup_reminder", message["data"].(map[string]any)["type"])
	})

	t.Run("no active tokens is a failure", func(t *testing.T) {
		sender := newTestSender(t, &fakeTokenStore{}, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})

		result := sender.SendToUser(context.Background(), "user-1", "T", "B", nil)

		assert.False(t, result.Success)
		assert.Equal(t, "no active push tokens for user", result.Err)
	})

	t.Run("token store error is a failure", func(t *testing.T) {
		store := &fakeTokenStore{loadErr: errors.New("connection refused")}
		sender := newTestSender(t, store, func(w http.ResponseWriter, r *http.Request) {})

		result := sender.SendToUser(context.Background(), "user-1", "T", "B", nil)

		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "load push tokens")
	})

	t.Run("one device success among failures is delivered", func(t *testing.T) {
		store := &fakeTokenStore{tokens: []string{"dead-device", "live-device"}}
		sender := newTestSender(t, store, func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			if req["message"].(map[string]any)["token"] == "dead-device" {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"status": "UNREGISTERED", "message": "token gone"},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"name": "projects/p/messages/msg-2"})
		})

		result := sender.SendToUser(context.Background(), "user-1", "T", "B", nil)

		require.True(t, result.Success)
		assert.Equal(t, "projects/p/messages/msg-2", result.MessageID)
		assert.Equal(t, []string{"dead-device"}, store.deactivated)
	})

	t.Run("all devices failing reports errors", func(t *testing.T) {
		store := &fakeTokenStore{tokens: []string{"device-1"}}
		sender := newTestSender(t, store, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"status": "INTERNAL", "message": "backend error"},
			})
		})

		result := sender.SendToUser(context.Background(), "user-1", "T", "B", nil)

		assert.False(t, result.Success)
		assert.Contains(t, result.Err, "INTERNAL")
	})
}
