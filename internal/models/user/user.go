package user

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

const userCacheTTL = 30 * time.Minute

type User struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Username string    `gorm:"size:255;not null;uniqueIndex" json:"username" validate:"required,min=3,max=255,alphanum"`
	Email    string    `gorm:"size:100;not null;uniqueIndex" json:"email" validate:"required,email"`
	Password string    `gorm:"size:255;not null" json:"-" validate:"required,min=6"`
	Name     string    `gorm:"size:100" json:"name" validate:"omitempty,max=100"`
	Phone    string    `gorm:"size:30" json:"phone" validate:"omitempty,phone"`
	Role     Role      `gorm:"size:20;not null;default:civilian;index" json:"role"`
	IsActive bool      `gorm:"not null" json:"is_active"`
	LastSeen time.Time `json:"last_seen"`
}

// BeforeCreate assigns the id on the client so every driver behaves the same.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleCivilian
	}
	return nil
}

type UpdateUserRequest struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=255,alphanum"`
	Email    *string `json:"email" validate:"omitempty,email,max=100"`
	Password *string `json:"password" validate:"omitempty,min=6"`
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Phone    *string `json:"phone" validate:"omitempty,phone"`
}

// UserOption configures a User.
type UserOption func(*User)

// NewUser creates a civilian account. Roles are only raised later through UpdateRole.
func NewUser(ctx context.Context, rclient *storage.RedisClient, db *gorm.DB, username, email, password string, opts ...UserOption) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "user creation canceled")
	}

	u := &User{
		Username: username,
		Email:    email,
		Password: password,
		Role:     RoleCivilian,
		IsActive: true,
		LastSeen: time.Now(),
	}

	for _, opt := range opts {
		opt(u)
	}

	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, utils.Conflict("Username or email already registered")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to create user in database")
	}

	cacheUser(ctx, rclient, u)
	return u, nil
}

// GetUserBy retrieves a user by an arbitrary condition, with optional preloading of relationships.
func GetUserBy(ctx context.Context, rclient *storage.RedisClient, db *gorm.DB, condition string, args []interface{}, preload ...string) (*User, error) {
	var u User
	query := db.WithContext(ctx).Where(condition, args...)
	for _, p := range preload {
		if p != "" {
			query = query.Preload(p)
		}
	}
	if err := query.First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("User not found")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get user")
	}

	return &u, nil
}

// GetUserByID reads through the Redis cache.
func GetUserByID(ctx context.Context, rclient *storage.RedisClient, db *gorm.DB, id uuid.UUID) (*User, error) {
	if hasRedis(rclient) {
		// a cache miss or outage falls through to the database
		if cached, err := rclient.Get(ctx, cacheKey(id)).Result(); err == nil && cached != "" {
			var u User
			if err := json.Unmarshal([]byte(cached), &u); err == nil && u.ID == id {
				return &u, nil
			}
		}
	}

	u, err := GetUserBy(ctx, rclient, db, "id = ?", []interface{}{id})
	if err != nil {
		return nil, err
	}
	cacheUser(ctx, rclient, u)
	return u, nil
}

// UpdateUser updates a user's fields and refreshes cache.
func UpdateUser(ctx context.Context, rclient *storage.RedisClient, db *gorm.DB, id uuid.UUID, opts ...UserOption) (*User, error) {
	var u *User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := GetUserBy(ctx, rclient, tx, "id = ?", []interface{}{id})
		if err != nil {
			return err
		}
		for _, opt := range opts {
			opt(found)
		}
		if err := tx.Save(found).Error; err != nil {
			if storage.IsUniqueViolation(err) {
				return utils.Conflict("Username or email already registered")
			}
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update user")
		}
		u = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateUser(ctx, rclient, id)
	return u, nil
}

// UpdateRole changes a user's role. Only admins may do this.
func UpdateRole(ctx context.Context, rclient *storage.RedisClient, db *gorm.DB, actor Actor, id uuid.UUID, role Role) (*User, error) {
	if !actor.IsAdmin() {
		return nil, utils.Forbidden("Only admins can change roles")
	}
	if !role.Valid() {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "role", Msg: "role must be one of the following values: civilian responder admin"}})
	}
	return UpdateUser(ctx, rclient, db, id, WithRole(role))
}

// TouchLastSeen records activity without invalidating anything else.
func TouchLastSeen(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	return db.WithContext(ctx).Model(&User{}).Where("id = ?", id).UpdateColumn("last_seen", time.Now()).Error
}

// SetPasswordHash replaces the stored hash, used when a login upgrades an old work factor.
func SetPasswordHash(ctx context.Context, db *gorm.DB, id uuid.UUID, hash string) error {
	return db.WithContext(ctx).Model(&User{}).Where("id = ?", id).UpdateColumn("password", hash).Error
}

// ListStaff returns active responders and admins, the recipients of emergency fan-out.
func ListStaff(ctx context.Context, db *gorm.DB) ([]User, error) {
	var staff []User
	err := db.WithContext(ctx).
		Where("role IN ? AND is_active = ?", []Role{RoleResponder, RoleAdmin}, true).
		Order("created_at ASC").
		Find(&staff).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list staff")
	}
	return staff, nil
}

// ListStaffIDs returns the ids of ListStaff.
func ListStaffIDs(ctx context.Context, db *gorm.DB) ([]uuid.UUID, error) {
	staff, err := ListStaff(ctx, db)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(staff))
	for _, s := range staff {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// SeedAdmin creates the bootstrap admin unless an account with that email already exists.
func SeedAdmin(ctx context.Context, db *gorm.DB, email, hashedPassword string) (*User, error) {
	if email == "" || hashedPassword == "" {
		return nil, nil
	}
	var existing User
	err := db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to look up admin")
	}

	admin := &User{
		Username: "admin",
		Email:    email,
		Password: hashedPassword,
		Name:     "Administrator",
		Role:     RoleAdmin,
		IsActive: true,
		LastSeen: time.Now(),
	}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to seed admin")
	}
	return admin, nil
}

func cacheKey(id uuid.UUID) string { return "user:" + id.String() }

func hasRedis(rclient *storage.RedisClient) bool {
	return rclient != nil && rclient.Client != nil
}

func cacheUser(ctx context.Context, rclient *storage.RedisClient, u *User) {
	if !hasRedis(rclient) {
		return
	}
	userJSON, err := json.Marshal(u)
	if err != nil {
		return
	}
	rclient.Set(ctx, cacheKey(u.ID), userJSON, userCacheTTL)
}

func invalidateUser(ctx context.Context, rclient *storage.RedisClient, id uuid.UUID) {
	if !hasRedis(rclient) {
		return
	}
	rclient.Del(ctx, cacheKey(id))
}
