package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"gorm.io/driver/sqlite"
)

func init() {
	Configure("auth-test-secret", time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	id := uuid.NewString()
	token, err := GenerateAccessToken(id, "responder")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	claims, err := VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != id || claims.Role != "responder" || claims.Issuer != "disasterlink" {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := RemainingTTL(claims); ttl <= 0 || ttl > time.Hour {
		t.Errorf("RemainingTTL = %v", ttl)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	sign := func(method jwt.SigningMethod, key interface{}, claims Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	past := time.Now().Add(-2 * time.Hour)
	valid := Claims{UserID: uuid.NewString(), Role: "civilian", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	expired := valid
	expired.RegisteredClaims = jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(past), IssuedAt: jwt.NewNumericDate(past)}
	badID := valid
	badID.UserID = "42"

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid), ErrInvalidToken},
		{"unsigned", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid), ErrInvalidToken},
		{"expired", sign(jwt.SigningMethodHS256, signingKey(), expired), ErrExpiredToken},
		{"non-uuid subject", sign(jwt.SigningMethodHS256, signingKey(), badID), ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := VerifyToken(tc.token); !errors.Is(err, tc.want) {
				t.Errorf("VerifyToken = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy()
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	cases := []struct {
		role     user.Role
		obj, act string
		want     bool
	}{
		{user.RoleCivilian, ResIncident, ActCreate, true},
		{user.RoleCivilian, ResSOS, ActCancel, true},
		{user.RoleCivilian, ResSOS, ActTriage, false},
		{user.RoleCivilian, ResCommunity, ActCreate, false},
		{user.RoleCivilian, ResNotification, ActDelete, true},
		{user.RoleResponder, ResSOS, ActTriage, true},
		{user.RoleResponder, ResIncident, ActCreate, true},
		{user.RoleResponder, ResPost, ActModerate, true},
		{user.RoleResponder, ResPost, ActAudit, false},
		{user.RoleResponder, ResUser, ActAssign, false},
		{user.RoleAdmin, ResUser, ActAssign, true},
		{user.RoleAdmin, ResPost, ActAudit, true},
		{user.Role("guest"), ResIncident, ActRead, false},
	}
	for _, tc := range cases {
		if got := p.Allowed(tc.role, tc.obj, tc.act); got != tc.want {
			t.Errorf("Allowed(%s, %s, %s) = %v, want %v", tc.role, tc.obj, tc.act, got, tc.want)
		}
	}
	var nilPolicy *Policy
	if nilPolicy.Allowed(user.RoleAdmin, ResUser, ActAssign) {
		t.Error("nil policy must deny")
	}
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), []interface{}{&user.User{}}, storage.WithMaxConns(1))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	active, err := user.NewUser(ctx, nil, db, "active", "active@example.com", "x")
	if err != nil {
		t.Fatal(err)
	}
	disabled, err := user.NewUser(ctx, nil, db, "disabled", "disabled@example.com", "x", user.WithIsActive(false))
	if err != nil {
		t.Fatal(err)
	}
	policy, err := NewPolicy()
	if err != nil {
		t.Fatal(err)
	}
	opt := NewOptions(WithDB(db), WithPolicy(policy))

	app := fiber.New()
	whoami := func(c *fiber.Ctx) error {
		a, ok := ActorFrom(c)
		if !ok {
			return c.SendString("anonymous")
		}
		return c.SendString(a.ID.String())
	}
	app.Get("/private", RequireAuth(opt), CheckPerm(opt, ResIncident, ActRead), whoami)
	app.Get("/triage", RequireAuth(opt), CheckPerm(opt, ResIncident, ActTriage), whoami)
	app.Get("/public", OptionalAuth(opt), whoami)

	token := func(u *user.User, role string) string {
		tok, err := GenerateAccessToken(u.ID.String(), role)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	call := func(path, tok string) (int, string) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if tok != "" {
			req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tok)
		}
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	good := token(active, "civilian")
	if code, body := call("/private", good); code != fiber.StatusOK || body != active.ID.String() {
		t.Errorf("private = %d %s", code, body)
	}
	if code, _ := call("/private", ""); code != fiber.StatusUnauthorized {
		t.Errorf("no token = %d", code)
	}
	if code, _ := call("/private", token(active, "admin")); code != fiber.StatusUnauthorized {
		t.Errorf("role mismatch = %d", code)
	}
	if code, _ := call("/private", token(disabled, "civilian")); code != fiber.StatusForbidden {
		t.Errorf("disabled = %d", code)
	}
	if code, _ := call("/triage", good); code != fiber.StatusForbidden {
		t.Errorf("civilian triage = %d", code)
	}

	if _, body := call("/public", good); body != active.ID.String() {
		t.Errorf("optional with token = %s", body)
	}
	if _, body := call("/public", "garbage"); body != "anonymous" {
		t.Errorf("optional with bad token = %s", body)
	}
	if _, body := call("/public", token(disabled, "civilian")); body != "anonymous" {
		t.Errorf("optional with disabled user = %s", body)
	}
}
