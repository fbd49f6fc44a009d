package v1

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/internal/auth"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// Register creates a civilian account and signs it in.
func (h *Handler) Register(c *fiber.Ctx) error {
	type RegisterInput struct {
		Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
		Email    string `json:"email" validate:"required,email,max=100"`
		Password string `json:"password" validate:"required,min=6"`
		Name     string `json:"name" validate:"omitempty,max=100"`
		Phone    string `json:"phone" validate:"omitempty,phone"`
	}
	ctx := c.UserContext()
	var in RegisterInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	hashed, err := utils.HashPassword(in.Password)
	if err != nil {
		h.Logger.Error(ctx).WithError(err).Logs("Failed to hash password")
		return utils.SendError(c, utils.WrapError(err, fiber.StatusInternalServerError, "Failed to process password"))
	}

	u, err := user.NewUser(ctx, h.Redis, h.DB, in.Username, in.Email, hashed, user.WithName(in.Name), user.WithPhone(in.Phone))
	if err != nil {
		h.Logger.Warn(ctx).WithMeta(utils.Map{"email": in.Email}).WithError(err).Logs("Registration failed")
		return utils.SendError(c, err)
	}
	if _, _, err := auth.IssueSession(c, h.Auth, u); err != nil {
		return utils.SendError(c, err)
	}

	h.Logger.Info(ctx).WithMeta(utils.Map{"user_id": u.ID.String()}).Logs("User registered")
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithMessage("Registration successful").WithData(u).Send()
}

// Login checks the password and issues a session.
func (h *Handler) Login(c *fiber.Ctx) error {
	type LoginInput struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	ctx := c.UserContext()
	var in LoginInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	invalid := utils.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	u, err := user.GetUserBy(ctx, h.Redis, h.DB, "email = ?", []interface{}{in.Email})
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			h.Logger.Warn(ctx).WithMeta(utils.Map{"email": in.Email}).Logs("Login for unknown email")
			return utils.SendError(c, invalid)
		}
		return utils.SendError(c, err)
	}
	if err := utils.ComparePasswords(u.Password, in.Password); err != nil {
		h.Logger.Warn(ctx).WithMeta(utils.Map{"user_id": u.ID.String()}).Logs("Invalid password provided")
		return utils.SendError(c, invalid)
	}
	if !u.IsActive {
		h.Logger.Warn(ctx).WithMeta(utils.Map{"user_id": u.ID.String()}).Logs("Login attempt on inactive account")
		return utils.SendError(c, utils.Forbidden("Account is disabled"))
	}

	accessToken, _, err := auth.IssueSession(c, h.Auth, u)
	if err != nil {
		return utils.SendError(c, err)
	}
	if utils.PasswordNeedsRehash(u.Password) {
		if hashed, err := utils.HashPassword(in.Password); err == nil {
			if err := user.SetPasswordHash(ctx, h.DB, u.ID, hashed); err != nil {
				h.Logger.Warn(ctx).WithError(err).Logs("Failed to upgrade password hash")
			}
		}
	}
	if err := user.TouchLastSeen(ctx, h.DB, u.ID); err != nil {
		h.Logger.Warn(ctx).WithError(err).Logs("Failed to record last seen")
	}

	h.Logger.Info(ctx).WithMeta(utils.Map{"user_id": u.ID.String()}).Logs("User logged in")
	return utils.Success(c).WithMessage("Login successful").WithData(fiber.Map{
		"user":         u,
		"access_token": accessToken,
		"expires_in":   int(auth.AccessTokenTTL().Seconds()),
	}).Send()
}

// Refresh rotates the refresh cookie.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	accessToken, err := auth.Refresh(c, h.Auth)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithData(fiber.Map{
		"access_token": accessToken,
		"expires_in":   int(auth.AccessTokenTTL().Seconds()),
	}).Send()
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	auth.Logout(c, h.Auth)
	h.Logger.Info(c.UserContext()).Logs("User logged out")
	return utils.Success(c).WithMessage("Logged out").Send()
}

func (h *Handler) Me(c *fiber.Ctx) error {
	u, err := user.GetUserByID(c.UserContext(), h.Redis, h.DB, actor(c).ID)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, u)
}

// UpdateRole promotes or demotes a user. Admin only.
func (h *Handler) UpdateRole(c *fiber.Ctx) error {
	type RoleInput struct {
		Role string `json:"role" validate:"required,oneof=civilian responder admin"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in RoleInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	u, err := user.UpdateRole(c.UserContext(), h.Redis, h.DB, actor(c), id, user.Role(in.Role))
	if err != nil {
		return utils.SendError(c, err)
	}
	h.Logger.Info(c.UserContext()).WithMeta(utils.Map{"user_id": id.String(), "role": in.Role}).Logs("Role changed")
	return utils.SendSuccess(c, u)
}
