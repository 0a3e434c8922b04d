package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantdb/internal/audit"
	"github.com/yanizio/tenantdb/internal/requestinfo"
)

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueVerify(t *testing.T) {
	v, err := NewVerifier("k3y", "tenantdb")
	require.NoError(t, err)

	tok, err := v.Issue("ops@example.com", time.Hour)
	require.NoError(t, err)

	c, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", c.Subject)
	assert.Equal(t, "tenantdb", c.Issuer)
}

func TestVerify_Rejects(t *testing.T) {
	v, _ := NewVerifier("k3y", "tenantdb")
	other, _ := NewVerifier("other", "tenantdb")
	wrongIss, _ := NewVerifier("k3y", "someone-else")

	expired := func() string {
		old := *v
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, err := old.Issue("ops", time.Hour)
		require.NoError(t, err)
		return tok
	}()
	foreign, _ := other.Issue("ops", time.Hour)
	badIss, _ := wrongIss.Issue("ops", time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops", Issuer: "tenantdb"}).
		SignedString([]byte("k3y"))

	for name, tok := range map[string]string{
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": foreign,
		"wrong issuer": badIss,
		"no expiry":    noExp,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v, _ := NewVerifier("k3y", "")
	tok, _ := v.Issue("ops@example.com", time.Minute)

	var actor audit.Actor
	var hasActor bool
	h := requestinfo.Enrich(nil)(Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, hasActor = audit.FromContext(r.Context())
		sub, _ := Operator(r.Context())
		assert.Equal(t, "ops@example.com", sub)
		w.WriteHeader(http.StatusNoContent)
	})))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tenants/t1/provision", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/tenants/t1/provision", nil)
		r.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/tenants/t1/provision", nil)
		r.RemoteAddr = "192.0.2.5:999"
		r.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.True(t, hasActor)
		assert.Equal(t, "ops@example.com", actor.ID)
		assert.Equal(t, "192.0.2.5", actor.IP)
	})
}
