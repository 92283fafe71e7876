package notifications

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// Headers used by the queue-run trigger.
const (
	HeaderCronSecret    = "X-Cron-Secret"
	HeaderCronTimestamp = "X-Cron-Ts"
	HeaderCronSignature = "X-Cron-Signature"
)

// MaxSignatureSkew bounds how old or far in the future a signed
// trigger timestamp may be.
const MaxSignatureSkew = 5 * time.Minute

// AuthConfig holds the credentials the run trigger accepts.
type AuthConfig struct {
	CronSecret     string
	ServiceRoleKey string
	JWTSecret      string
}

// RunAuthorizer validates the four credential modes of the queue-run
// endpoint: shared cron secret, HMAC-signed trigger, service-role
// bearer key, and admin JWT.
type RunAuthorizer struct {
	cfg AuthConfig
	now func() time.Time
}

// NewRunAuthorizer creates a run authorizer.
func NewRunAuthorizer(cfg AuthConfig) *RunAuthorizer {
	return &RunAuthorizer{cfg: cfg, now: time.Now}
}

// Authorize checks the request against every configured mode and
// returns the mode that matched, or ErrUnauthorizedRun. Unconfigured
// modes never match, so an empty config rejects everything.
func (a *RunAuthorizer) Authorize(r *http.Request) (mode string, err error) {
	if a.matchCronSecret(r) {
		return "cron_secret", nil
	}
	if a.matchSignature(r) {
		return "cron_signature", nil
	}

	bearer := bearerToken(r)
	if bearer != "" {
		if a.matchServiceRole(bearer) {
			return "service_role", nil
		}
		if a.matchAdminJWT(bearer) {
			return "admin_jwt", nil
		}
	}

	return "", ErrUnauthorizedRun
}

func (a *RunAuthorizer) matchCronSecret(r *http.Request) bool {
	if a.cfg.CronSecret == "" {
		return false
	}
	got := r.Header.Get(HeaderCronSecret)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.CronSecret)) == 1
}

// matchSignature validates an HMAC-SHA256 signature over
// "<ts>:<METHOD>:<path>" keyed with the cron secret. The timestamp is
// unix milliseconds and must be within MaxSignatureSkew of now.
func (a *RunAuthorizer) matchSignature(r *http.Request) bool {
	if a.cfg.CronSecret == "" {
		return false
	}

	ts := r.Header.Get(HeaderCronTimestamp)
	signature := r.Header.Get(HeaderCronSignature)
	if ts == "" || signature == "" {
		return false
	}

	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}

	skew := a.now().Sub(time.UnixMilli(millis))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxSignatureSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.CronSecret))
	fmt.Fprintf(mac, "%s:%s:%s", ts, r.Method, r.URL.Path)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func (a *RunAuthorizer) matchServiceRole(token string) bool {
	if a.cfg.ServiceRoleKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.ServiceRoleKey)) == 1
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// matchAdminJWT accepts an HS256 token carrying an admin role claim.
func (a *RunAuthorizer) matchAdminJWT(token string) bool {
	if a.cfg.JWTSecret == "" {
		return false
	}

	claims := &adminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return false
	}

	return domain.Role(claims.Role).HasPermission(domain.RoleAdmin)
}

// SignTrigger produces the timestamp and signature headers a scheduler
// uses to call the run endpoint without sharing the raw secret.
func SignTrigger(secret, method, path string, at time.Time) (ts, signature string) {
	ts = strconv.FormatInt(at.UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:%s", ts, method, path)
	return ts, hex.EncodeToString(mac.Sum(nil))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
