package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	actorLocal    = "actor"
)

type refreshData struct {
	UserID string `json:"user_id"`
	IP     string `json:"ip"`
}

// RequireAuth resolves the current actor from the access token cookie or bearer header,
// refreshing an expired access token from the refresh cookie when Redis is available.
func RequireAuth(opt Options) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		accessToken := tokenFromRequest(c)
		refreshToken := c.Cookies(refreshCookie)

		if accessToken != "" && opt.isBlacklisted(ctx, "access", accessToken) {
			opt.Logger.Warn(ctx).Logs("Attempted use of blacklisted access token")
			return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "Access token has been invalidated"))
		}
		if refreshToken != "" && opt.isBlacklisted(ctx, "refresh", refreshToken) {
			opt.Logger.Warn(ctx).Logs("Attempted use of blacklisted refresh token")
			return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "Refresh token has been invalidated"))
		}

		claims, err := VerifyToken(accessToken)
		if err != nil {
			if (accessToken == "" || errors.Is(err, ErrExpiredToken)) && refreshToken != "" {
				opt.Logger.Debug(ctx).Logs("Access token missing or expired, attempting refresh")
				_, claims, err = refreshSession(c, opt, refreshToken)
			}
			if err != nil {
				return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "Authentication required", err.Error()))
			}
		}

		u, err := user.GetUserByID(ctx, opt.Rclient, opt.DB, uuid.MustParse(claims.UserID))
		if err != nil {
			opt.Logger.Warn(ctx).WithMeta(utils.Map{"user_id": claims.UserID}).Logs("User not found")
			clearSession(c)
			return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "User not found"))
		}
		if !u.IsActive {
			return utils.SendError(c, utils.Forbidden("Account is disabled"))
		}
		if string(u.Role) != claims.Role {
			opt.Logger.Warn(ctx).WithMeta(utils.Map{"user_id": claims.UserID, "token_role": claims.Role, "user_role": string(u.Role)}).Logs("Role mismatch")
			clearSession(c)
			return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "Role changed, sign in again"))
		}

		c.Locals("user_id", u.ID.String())
		c.Locals(actorLocal, user.NewActor(u))
		c.SetUserContext(context.WithValue(ctx, "user_id", u.ID.String()))

		return c.Next()
	}
}

// OptionalAuth resolves the actor when a valid access token is presented and lets anonymous
// requests through otherwise. It never refreshes.
func OptionalAuth(opt Options) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		token := tokenFromRequest(c)
		if token == "" || opt.isBlacklisted(ctx, "access", token) {
			return c.Next()
		}
		claims, err := VerifyToken(token)
		if err != nil {
			return c.Next()
		}
		u, err := user.GetUserByID(ctx, opt.Rclient, opt.DB, uuid.MustParse(claims.UserID))
		if err != nil || !u.IsActive || string(u.Role) != claims.Role {
			return c.Next()
		}
		c.Locals("user_id", u.ID.String())
		c.Locals(actorLocal, user.NewActor(u))
		c.SetUserContext(context.WithValue(ctx, "user_id", u.ID.String()))
		return c.Next()
	}
}

// ActorFrom returns the actor resolved by RequireAuth or OptionalAuth.
func ActorFrom(c *fiber.Ctx) (user.Actor, bool) {
	actor, ok := c.Locals(actorLocal).(user.Actor)
	return actor, ok
}

func tokenFromRequest(c *fiber.Ctx) string {
	if token := c.Cookies(accessCookie); token != "" {
		return token
	}
	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (o Options) isBlacklisted(ctx context.Context, kind, token string) bool {
	if !o.hasRedis() {
		return false
	}
	return o.Rclient.Exists(ctx, "blacklist:"+kind+":"+token).Val() > 0
}

// IssueSession signs a new access token, stores a refresh token and sets both cookies.
func IssueSession(c *fiber.Ctx, opt Options, u *user.User) (string, string, error) {
	accessToken, err := GenerateAccessToken(u.ID.String(), string(u.Role))
	if err != nil {
		return "", "", utils.WrapError(err, fiber.StatusInternalServerError, "Failed to generate access token")
	}

	c.Cookie(&fiber.Cookie{
		Name:     accessCookie,
		Value:    accessToken,
		Expires:  time.Now().Add(AccessTokenTTL()),
		HTTPOnly: true,
		Secure:   opt.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	if !opt.hasRedis() {
		return accessToken, "", nil
	}

	refreshToken := GenerateRefreshToken()
	payload, _ := json.Marshal(refreshData{UserID: u.ID.String(), IP: c.IP()})
	if err := opt.Rclient.Set(c.UserContext(), "refresh:"+refreshToken, payload, opt.RefreshTTL).Err(); err != nil {
		opt.Logger.Warn(c.UserContext()).WithError(err).Logs("Failed to store refresh token")
		return accessToken, "", nil
	}
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookie,
		Value:    refreshToken,
		Expires:  time.Now().Add(opt.RefreshTTL),
		HTTPOnly: true,
		Secure:   opt.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return accessToken, refreshToken, nil
}

// Refresh rotates the refresh token from the cookie and returns the new access token.
func Refresh(c *fiber.Ctx, opt Options) (string, error) {
	refreshToken := c.Cookies(refreshCookie)
	if refreshToken == "" {
		return "", utils.NewError(fiber.StatusUnauthorized, "Refresh token missing")
	}
	if opt.isBlacklisted(c.UserContext(), "refresh", refreshToken) {
		return "", utils.NewError(fiber.StatusUnauthorized, "Refresh token has been invalidated")
	}
	accessToken, _, err := refreshSession(c, opt, refreshToken)
	if err != nil {
		return "", utils.NewError(fiber.StatusUnauthorized, "Token refresh failed", err.Error())
	}
	return accessToken, nil
}

// Logout blacklists the presented tokens until they would have expired anyway.
func Logout(c *fiber.Ctx, opt Options) {
	ctx := c.UserContext()
	accessToken := tokenFromRequest(c)
	refreshToken := c.Cookies(refreshCookie)

	if opt.hasRedis() {
		if claims, err := VerifyToken(accessToken); err == nil {
			opt.Rclient.Set(ctx, "blacklist:access:"+accessToken, "1", RemainingTTL(claims))
		}
		if refreshToken != "" {
			opt.Rclient.Set(ctx, "blacklist:refresh:"+refreshToken, "1", opt.RefreshTTL)
			opt.Rclient.Del(ctx, "refresh:"+refreshToken)
		}
	}
	clearSession(c)
}

func refreshSession(c *fiber.Ctx, opt Options, refreshToken string) (string, *Claims, error) {
	ctx := c.UserContext()
	if !opt.hasRedis() {
		return "", nil, ErrInvalidToken
	}

	refreshKey := "refresh:" + refreshToken
	raw, err := opt.Rclient.Get(ctx, refreshKey).Result()
	if err != nil || raw == "" {
		opt.Logger.Warn(ctx).Logs("Invalid/expired refresh token")
		return "", nil, ErrInvalidToken
	}

	var data refreshData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", nil, ErrInvalidToken
	}
	if data.IP != c.IP() {
		opt.Logger.Warn(ctx).WithMeta(utils.Map{"user_id": data.UserID}).Logs("IP mismatch")
		opt.Rclient.Del(ctx, refreshKey)
		return "", nil, ErrInvalidToken
	}
	id, err := uuid.Parse(data.UserID)
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	u, err := user.GetUserByID(ctx, opt.Rclient, opt.DB, id)
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	opt.Rclient.Del(ctx, refreshKey)
	accessToken, _, err := IssueSession(c, opt, u)
	if err != nil {
		return "", nil, err
	}

	opt.Logger.Info(ctx).WithMeta(utils.Map{"user_id": data.UserID}).Logs("Tokens refreshed")
	claims, err := VerifyToken(accessToken)
	return accessToken, claims, err
}

func clearSession(c *fiber.Ctx) {
	c.ClearCookie(accessCookie, refreshCookie)
}
