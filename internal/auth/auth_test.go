package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/findx/internal/marketplace/domain"
)

func testIdentity(role domain.Role) domain.Identity {
	return domain.Identity{ID: uuid.New(), Email: "x@example.com", Name: "Xavier", Role: role}
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	identity := testIdentity(domain.RoleProvider)

	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	actor, claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, domain.Actor{ID: identity.ID, Role: domain.RoleProvider}, actor)
	require.Equal(t, "Xavier", claims.Name)
	require.Equal(t, "x@example.com", claims.Email)
}

func TestParseRejectsBadTokens(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, err := issuer.Issue(testIdentity(domain.RoleConsumer))
	require.NoError(t, err)

	_, _, err = NewIssuer("other", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = expired.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	bogusRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, _, err = issuer.Parse(bogusRole)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	consumer := testIdentity(domain.RoleConsumer)
	token, err := issuer.Issue(consumer)
	require.NoError(t, err)

	var seen domain.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		roles  []domain.Role
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
		{name: "role not allowed", header: "Bearer " + token, roles: []domain.Role{domain.RoleProvider}, want: http.StatusForbidden},
		{name: "ok", header: "bearer " + token, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Middleware(issuer, tc.roles...)(next).ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
	require.Equal(t, consumer.ID, seen.ID)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("secret1")
	require.NoError(t, err)
	require.NoError(t, h.Compare(hash, "secret1"))
	require.Error(t, h.Compare(hash, "secret2"))
}
