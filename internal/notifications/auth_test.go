package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunRequest(t *testing.T) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue/run", nil)
}

func signedAdminToken(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRunAuthorizer_CronSecret(t *testing.T) {
	auth := NewRunAuthorizer(AuthConfig{CronSecret: "topsecret"})

	t.Run("valid secret", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set(HeaderCronSecret, "topsecret")

		mode, err := auth.Authorize(r)
		require.NoError(t, err)
		assert.Equal(t, "cron_secret", mode)
	})

	t.Run("wrong secret", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set(HeaderCronSecret, "guess")

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})

	t.Run("unconfigured secret never matches empty header", func(t *testing.T) {
		auth := NewRunAuthorizer(AuthConfig{})
		r := newRunRequest(t)

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})
}

func TestRunAuthorizer_Signature(t *testing.T) {
	auth := NewRunAuthorizer(AuthConfig{CronSecret: "topsecret"})

	t.Run("valid signature", func(t *testing.T) {
		r := newRunRequest(t)
		ts, sig := SignTrigger("topsecret", r.Method, r.URL.Path, time.Now())
		r.Header.Set(HeaderCronTimestamp, ts)
		r.Header.Set(HeaderCronSignature, sig)

		mode, err := auth.Authorize(r)
		require.NoError(t, err)
		assert.Equal(t, "cron_signature", mode)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		r := newRunRequest(t)
		ts, sig := SignTrigger("topsecret", r.Method, r.URL.Path, time.Now().Add(-6*time.Minute))
		r.Header.Set(HeaderCronTimestamp, ts)
		r.Header.Set(HeaderCronSignature, sig)

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})

	t.Run("signature over wrong path", func(t *testing.T) {
		r := newRunRequest(t)
		ts, sig := SignTrigger("topsecret", r.Method, "/api/v1/other", time.Now())
		r.Header.Set(HeaderCronTimestamp, ts)
		r.Header.Set(HeaderCronSignature, sig)

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := newRunRequest(t)
		ts, sig := SignTrigger("othersecret", r.Method, r.URL.Path, time.Now())
		r.Header.Set(HeaderCronTimestamp, ts)
		r.Header.Set(HeaderCronSignature, sig)

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})
}

func TestRunAuthorizer_ServiceRole(t *testing.T) {
	auth := NewRunAuthorizer(AuthConfig{ServiceRoleKey: "service-key"})

	t.Run("valid bearer key", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set("Authorization", "Bearer service-key")

		mode, err := auth.Authorize(r)
		require.NoError(t, err)
		assert.Equal(t, "service_role", mode)
	})

	t.Run("malformed authorization header", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set("Authorization", "service-key")

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})
}

func TestRunAuthorizer_AdminJWT(t *testing.T) {
	auth := NewRunAuthorizer(AuthConfig{JWTSecret: "jwt-secret"})

	t.Run("admin token", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "jwt-secret", "admin"))

		mode, err := auth.Authorize(r)
		require.NoError(t, err)
		assert.Equal(t, "admin_jwt", mode)
	})

	t.Run("non-admin role rejected", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "jwt-secret", "client"))

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})

	t.Run("wrong signing key rejected", func(t *testing.T) {
		r := newRunRequest(t)
		r.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "other-secret", "admin"))

		_, err := auth.Authorize(r)
		assert.ErrorIs(t, err, ErrUnauthorizedRun)
	})
}
