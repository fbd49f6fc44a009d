package community

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// Cached communities are dropped whenever their counters move; the TTL bounds anything missed.
const communityCacheTTL = time.Minute

// Community is a board that groups posts, e.g. one per barangay.
type Community struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Name            string      `gorm:"size:100;not null" json:"name"`
	Slug            string      `gorm:"size:120;not null;uniqueIndex" json:"slug"`
	Description     string      `gorm:"type:text" json:"description"`
	Type            string      `gorm:"size:20;not null;index" json:"type"`
	CoverImage      string      `gorm:"size:255" json:"cover_image"`
	IsPublic        bool        `gorm:"not null" json:"is_public"`
	AllowPosts      bool        `gorm:"not null" json:"allow_posts"`
	RequireApproval bool        `gorm:"not null" json:"require_approval"`
	AllowedRoles    []user.Role `gorm:"serializer:json" json:"allowed_roles"`
	Barangay        string      `gorm:"size:100;index" json:"barangay"`
	City            string      `gorm:"size:100" json:"city"`
	CreatedBy       uuid.UUID   `gorm:"type:uuid;not null" json:"created_by"`
	Moderators      []uuid.UUID `gorm:"serializer:json" json:"moderators"`
	TotalPosts      int         `gorm:"not null;default:0" json:"total_posts"`
	LastActivity    *time.Time  `json:"last_activity"`
	IsActive        bool        `gorm:"not null" json:"is_active"`
}

func (Community) TableName() string { return "communities" }

func (c *Community) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsModerator reports whether the actor created the community or was made a moderator.
func (c *Community) IsModerator(actor user.Actor) bool {
	if actor.Owns(c.CreatedBy) {
		return true
	}
	for _, id := range c.Moderators {
		if actor.Owns(id) {
			return true
		}
	}
	return false
}

// CanUserPost reports whether the actor's role may post here.
func (c *Community) CanUserPost(actor user.Actor) bool {
	if !c.AllowPosts || !c.IsActive {
		return false
	}
	if len(c.AllowedRoles) == 0 {
		return true
	}
	for _, r := range c.AllowedRoles {
		if r == actor.Role {
			return true
		}
	}
	return false
}

// CanModerate is IsModerator widened to responders and admins.
func (c *Community) CanModerate(actor user.Actor) bool {
	return actor.IsStaff() || c.IsModerator(actor)
}

// CommunityInput creates or edits a community.
type CommunityInput struct {
	Name            string      `json:"name" validate:"required,max=100"`
	Description     string      `json:"description" validate:"max=2000"`
	Type            string      `json:"type" validate:"omitempty,oneof=general emergency announcement barangay"`
	CoverImage      string      `json:"cover_image" validate:"max=255"`
	IsPublic        *bool       `json:"is_public"`
	AllowPosts      *bool       `json:"allow_posts"`
	RequireApproval bool        `json:"require_approval"`
	AllowedRoles    []user.Role `json:"allowed_roles" validate:"dive,oneof=civilian responder admin"`
	Barangay        string      `json:"barangay" validate:"max=100"`
	City            string      `json:"city" validate:"max=100"`
}

// CommunityFilter narrows ListCommunities.
type CommunityFilter struct {
	Type     string
	Barangay string
	Page     int
	Limit    int
}

// CreateCommunity is limited to responders and admins.
func (s *Service) CreateCommunity(ctx context.Context, actor user.Actor, in CommunityInput) (*Community, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can create communities")
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	c := &Community{
		Name:            in.Name,
		Slug:            slug.Make(in.Name),
		Description:     strings.TrimSpace(in.Description),
		Type:            in.Type,
		CoverImage:      in.CoverImage,
		IsPublic:        boolOr(in.IsPublic, true),
		AllowPosts:      boolOr(in.AllowPosts, true),
		RequireApproval: in.RequireApproval,
		AllowedRoles:    in.AllowedRoles,
		Barangay:        in.Barangay,
		City:            in.City,
		CreatedBy:       actor.ID,
		Moderators:      []uuid.UUID{},
		IsActive:        true,
	}
	if c.Type == "" {
		c.Type = "general"
	}
	if c.Slug == "" {
		c.Slug = "community"
	}

	db := s.db.WithContext(ctx)
	var taken int64
	if err := db.Model(&Community{}).Where("slug = ?", c.Slug).Count(&taken).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to check community slug")
	}
	if taken > 0 {
		c.Slug = c.Slug + "-" + uuid.NewString()[:6]
	}
	if err := db.Create(c).Error; err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, utils.Conflict("A community with this name already exists")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to create community")
	}

	s.log.Info(ctx).WithMeta(utils.Map{"community_id": c.ID.String(), "slug": c.Slug}).Logs("Community created")
	return c, nil
}

// GetCommunity looks a community up by id or slug. Private communities are hidden from non-members.
func (s *Service) GetCommunity(ctx context.Context, actor user.Actor, idOrSlug string) (*Community, error) {
	c, err := s.loadCommunity(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if (!c.IsPublic || !c.IsActive) && !c.CanModerate(actor) {
		return nil, utils.NotFound("Community not found")
	}
	return c, nil
}

// ListCommunities lists active communities; private ones only for staff.
func (s *Service) ListCommunities(ctx context.Context, actor user.Actor, f CommunityFilter) ([]Community, int64, error) {
	page, limit := pageBounds(f.Page, f.Limit)
	q := s.db.WithContext(ctx).Model(&Community{}).Where("is_active = ?", true)
	if !actor.IsStaff() {
		q = q.Where("is_public = ?", true)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Barangay != "" {
		q = q.Where("barangay = ?", f.Barangay)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count communities")
	}
	var items []Community
	if err := q.Order("last_activity DESC").Order("name ASC").Offset((page - 1) * limit).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list communities")
	}
	return items, total, nil
}

// AddModerator grants moderation rights. Admins and the community creator may do this.
func (s *Service) AddModerator(ctx context.Context, actor user.Actor, communityID, userID uuid.UUID) (*Community, error) {
	c, err := s.loadCommunity(ctx, communityID.String())
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Owns(c.CreatedBy) {
		return nil, utils.Forbidden("Only admins and the creator can add moderators")
	}
	for _, id := range c.Moderators {
		if id == userID {
			return c, nil
		}
	}
	c.Moderators = append(c.Moderators, userID)
	err = s.db.WithContext(ctx).Model(&Community{ID: c.ID}).Select("moderators").
		Updates(&Community{Moderators: c.Moderators}).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to add moderator")
	}
	s.invalidateCommunity(ctx, c)
	return c, nil
}

func (s *Service) loadCommunity(ctx context.Context, idOrSlug string) (*Community, error) {
	key := "community:" + idOrSlug
	if s.hasRedis() {
		if cached, err := s.rclient.Get(ctx, key).Bytes(); err == nil {
			var c Community
			if json.Unmarshal(cached, &c) == nil && c.ID != uuid.Nil {
				return &c, nil
			}
		}
	}

	q := s.db.WithContext(ctx)
	if id, err := uuid.Parse(idOrSlug); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("slug = ?", idOrSlug)
	}
	var c Community
	if err := q.First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("Community not found")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get community")
	}

	if s.hasRedis() {
		if data, err := json.Marshal(c); err == nil {
			s.rclient.Set(ctx, key, data, communityCacheTTL)
		}
	}
	return &c, nil
}

func (s *Service) invalidateCommunity(ctx context.Context, c *Community) {
	if s.hasRedis() {
		s.rclient.Del(ctx, "community:"+c.ID.String(), "community:"+c.Slug)
	}
}

// forgetCommunity drops the cached copies of a community whose row changed in a committed transaction.
func (s *Service) forgetCommunity(ctx context.Context, id *uuid.UUID) {
	if id == nil || !s.hasRedis() {
		return
	}
	keys := []string{"community:" + id.String()}
	var slugs []string
	if err := s.db.WithContext(ctx).Model(&Community{}).Where("id = ?", *id).Pluck("slug", &slugs).Error; err == nil {
		for _, sl := range slugs {
			keys = append(keys, "community:"+sl)
		}
	}
	if err := s.rclient.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn(ctx).WithMeta(utils.Map{"community_id": id.String()}).WithError(err).Logs("Failed to invalidate community cache")
	}
}

// touchCommunity bumps the counters and activity time of a community inside tx.
// Callers run forgetCommunity once tx commits.
func touchCommunity(tx *gorm.DB, id *uuid.UUID, postsDelta int, at time.Time) error {
	if id == nil {
		return nil
	}
	updates := map[string]interface{}{"last_activity": at}
	if postsDelta != 0 {
		updates["total_posts"] = gorm.Expr("total_posts + ?", postsDelta)
	}
	return tx.Model(&Community{}).Where("id = ?", *id).Updates(updates).Error
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
