package community

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// PostStatus is the moderation status of a post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPending   PostStatus = "pending"
	PostPublished PostStatus = "published"
	PostHidden    PostStatus = "hidden"
	PostDeleted   PostStatus = "deleted"
)

const maxPostImages = 4

// Post is a community post. LikesCount and CommentsCount mirror the live reaction and comment rows.
type Post struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CommunityID *uuid.UUID `gorm:"type:uuid;index:idx_post_community" json:"community_id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_post_author" json:"user_id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Content         string   `gorm:"type:text;not null" json:"content"`
	PostType        string   `gorm:"size:20;not null" json:"post_type"`
	Images          []string `gorm:"serializer:json" json:"images"`
	LinkURL         string   `gorm:"size:500" json:"link_url"`
	LinkTitle       string   `gorm:"size:255" json:"link_title"`
	LinkDescription string   `gorm:"type:text" json:"link_description"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	LocationName    string   `gorm:"size:255" json:"location_name"`

	IsPinned       bool `gorm:"not null;index:idx_post_feed,priority:2" json:"is_pinned"`
	IsAnnouncement bool `gorm:"not null" json:"is_announcement"`
	AllowComments  bool `gorm:"not null" json:"allow_comments"`
	IsPublic       bool `gorm:"not null" json:"is_public"`

	Status          PostStatus `gorm:"size:20;not null;index:idx_post_feed,priority:1" json:"status"`
	ApprovedBy      *uuid.UUID `gorm:"type:uuid" json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	ModerationNotes string     `gorm:"type:text" json:"moderation_notes"`

	LikesCount    int       `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount int       `gorm:"not null;default:0" json:"comments_count"`
	SharesCount   int       `gorm:"not null;default:0" json:"shares_count"`
	ViewsCount    int       `gorm:"not null;default:0" json:"views_count"`
	LastActivity  time.Time `gorm:"not null;index:idx_post_feed,priority:3" json:"last_activity"`
}

func (Post) TableName() string { return "community_posts" }

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *Post) AfterFind(tx *gorm.DB) error {
	if p.Images == nil {
		p.Images = []string{}
	}
	return nil
}

// PostInput is a new post.
type PostInput struct {
	Content         string              `json:"content" validate:"required,max=1000"`
	PostType        string              `json:"post_type" validate:"omitempty,oneof=text image video link announcement"`
	LinkURL         string              `json:"link_url" validate:"omitempty,url,max=500"`
	LinkTitle       string              `json:"link_title" validate:"max=255"`
	LinkDescription string              `json:"link_description" validate:"max=1000"`
	Latitude        *float64            `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64            `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	LocationName    string              `json:"location_name" validate:"max=255"`
	IsAnnouncement  bool                `json:"is_announcement"`
	AllowComments   *bool               `json:"allow_comments"`
	IsPublic        *bool               `json:"is_public"`
	Images          []intake.Attachment `json:"-"`
}

// FeedFilter narrows Feed.
type FeedFilter struct {
	CommunityID *uuid.UUID
	PostType    string
	Page        int
	Limit       int
}

// CreatePost publishes a post, or parks it as pending when the community requires approval
// and the author cannot moderate it.
func (s *Service) CreatePost(ctx context.Context, actor user.Actor, communityID *uuid.UUID, in PostInput, opts ...PostOption) (*Post, error) {
	if actor.ID == uuid.Nil {
		return nil, utils.NewError(401, "Authentication required")
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := s.validate(in); err != nil {
		return nil, err
	}
	if len(in.Images) > 0 {
		if err := s.images.ValidateImages(in.Images, maxPostImages); err != nil {
			return nil, err
		}
	}

	p := &Post{
		ID:              uuid.New(),
		CommunityID:     communityID,
		UserID:          actor.ID,
		Content:         in.Content,
		PostType:        in.PostType,
		LinkURL:         in.LinkURL,
		LinkTitle:       in.LinkTitle,
		LinkDescription: in.LinkDescription,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		LocationName:    in.LocationName,
		IsAnnouncement:  in.IsAnnouncement,
		AllowComments:   boolOr(in.AllowComments, true),
		IsPublic:        boolOr(in.IsPublic, true),
		Status:          PostPublished,
		LastActivity:    s.timestamp(),
	}
	if p.PostType == "" {
		p.PostType = inferPostType(in)
	}

	canModerate := actor.IsStaff()
	if communityID != nil {
		c, err := s.loadCommunity(ctx, communityID.String())
		if err != nil {
			return nil, err
		}
		if !c.CanUserPost(actor) {
			return nil, utils.Forbidden("You cannot post in this community")
		}
		canModerate = c.CanModerate(actor)
		if c.RequireApproval && !canModerate {
			p.Status = PostPending
		}
	}
	if p.IsAnnouncement && !canModerate {
		return nil, utils.Forbidden("Only moderators can post announcements")
	}
	for _, opt := range opts {
		opt(p)
	}

	images, err := s.storeImages(ctx, "posts/"+p.ID.String(), in.Images)
	if err != nil {
		return nil, err
	}
	p.Images = images

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to create post")
		}
		return touchCommunity(tx, p.CommunityID, 1, p.LastActivity)
	})
	if err != nil {
		s.removeImages(ctx, images)
		return nil, err
	}
	s.forgetCommunity(ctx, p.CommunityID)

	s.log.Info(ctx).WithMeta(utils.Map{"post_id": p.ID.String(), "status": string(p.Status)}).Logs("Post created")
	return s.loadPost(ctx, s.db, p.ID)
}

func inferPostType(in PostInput) string {
	switch {
	case in.IsAnnouncement:
		return "announcement"
	case len(in.Images) > 0:
		return "image"
	case in.LinkURL != "":
		return "link"
	}
	return "text"
}

// GetPost returns a post if the actor can see it. Unpublished posts are visible to their author
// and to moderators; deleted posts only to staff.
func (s *Service) GetPost(ctx context.Context, actor user.Actor, id uuid.UUID) (*Post, error) {
	p, err := s.loadPost(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkVisible(ctx, actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) checkVisible(ctx context.Context, actor user.Actor, p *Post) error {
	switch {
	case actor.IsStaff():
		return nil
	case p.Status == PostDeleted:
		return utils.NotFound("Post not found")
	case p.Status == PostPublished && (p.IsPublic || actor.ID != uuid.Nil):
		return nil
	case actor.Owns(p.UserID):
		return nil
	}
	if p.CommunityID != nil {
		if c, err := s.loadCommunity(ctx, p.CommunityID.String()); err == nil && c.IsModerator(actor) {
			return nil
		}
	}
	return utils.NotFound("Post not found")
}

// Feed lists published posts: pinned first, then by latest activity, then newest.
func (s *Service) Feed(ctx context.Context, actor user.Actor, f FeedFilter) ([]Post, int64, error) {
	page, limit := pageBounds(f.Page, f.Limit)
	q := s.db.WithContext(ctx).Model(&Post{}).Where("status = ?", PostPublished)
	if actor.ID == uuid.Nil {
		q = q.Where("is_public = ?", true)
	}
	if f.CommunityID != nil {
		q = q.Where("community_id = ?", *f.CommunityID)
	}
	if f.PostType != "" {
		q = q.Where("post_type = ?", f.PostType)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count posts")
	}
	var posts []Post
	err := q.Order("is_pinned DESC").Order("last_activity DESC").Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&posts).Error
	if err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to load feed")
	}
	return posts, total, nil
}

// ModerationAction moves a post between moderation states.
type ModerationAction string

const (
	ModerateApprove ModerationAction = "approve"
	ModerateHide    ModerationAction = "hide"
	ModerateRestore ModerationAction = "restore"
	ModerateDelete  ModerationAction = "delete"
)

var moderationRules = map[ModerationAction]struct {
	from []PostStatus
	to   PostStatus
}{
	ModerateApprove: {from: []PostStatus{PostPending, PostDraft}, to: PostPublished},
	ModerateHide:    {from: []PostStatus{PostPublished, PostPending}, to: PostHidden},
	ModerateRestore: {from: []PostStatus{PostHidden}, to: PostPublished},
	ModerateDelete:  {from: []PostStatus{PostDraft, PostPending, PostPublished, PostHidden}, to: PostDeleted},
}

// ModeratePost applies a moderation action. Staff and community moderators only.
func (s *Service) ModeratePost(ctx context.Context, actor user.Actor, id uuid.UUID, action ModerationAction, notes string) (*Post, error) {
	rule, ok := moderationRules[action]
	if !ok {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "action", Msg: "action must be one of the following values: approve hide restore delete"}})
	}
	p, err := s.loadPost(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, actor, p); err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range rule.from {
		if st == p.Status {
			allowed = true
		}
	}
	if !allowed {
		return nil, utils.InvalidTransition(string(p.Status), string(rule.to))
	}

	now := s.timestamp()
	updates := map[string]interface{}{"status": rule.to}
	if action == ModerateApprove {
		updates["approved_by"] = actor.ID
		updates["approved_at"] = now
	}
	if notes != "" {
		updates["moderation_notes"] = notes
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Post{}).Where("id = ? AND status = ?", id, p.Status).Updates(updates)
		if res.Error != nil {
			return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to moderate post")
		}
		if res.RowsAffected == 0 {
			return utils.Conflict("Post was changed by someone else")
		}
		if action == ModerateDelete {
			return touchCommunity(tx, p.CommunityID, -1, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if action == ModerateDelete {
		s.forgetCommunity(ctx, p.CommunityID)
	}

	s.log.Info(ctx).WithMeta(utils.Map{"post_id": id.String(), "action": string(action), "actor": actor.ID.String()}).Logs("Post moderated")
	s.notifyAuthor(ctx, p.UserID, actor.ID, notify.Event{
		Type:     notify.EventPostModerated,
		Title:    "Post moderated",
		Message:  fmt.Sprintf("Your post is now %s", rule.to),
		Subject:  notify.Subject{Kind: notify.SubjectPost, ID: id},
		Priority: notify.PriorityLow,
		Data:     map[string]string{"action": string(action)},
	})
	return s.loadPost(ctx, s.db, id)
}

// SetPinned pins or unpins a post. Staff and community moderators only.
func (s *Service) SetPinned(ctx context.Context, actor user.Actor, id uuid.UUID, pinned bool) (*Post, error) {
	p, err := s.loadPost(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, actor, p); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&Post{}).Where("id = ?", id).Update("is_pinned", pinned).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to pin post")
	}
	p.IsPinned = pinned
	return p, nil
}

// DeletePost hard-deletes a post with its reactions and comments. Author or staff.
func (s *Service) DeletePost(ctx context.Context, actor user.Actor, id uuid.UUID) error {
	p, err := s.loadPost(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !actor.Owns(p.UserID) && !actor.IsStaff() {
		return utils.Forbidden("Only the author can delete this post")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&Reaction{}).Error; err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to delete reactions")
		}
		if err := tx.Where("post_id = ?", id).Delete(&Comment{}).Error; err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to delete comments")
		}
		res := tx.Where("id = ?", id).Delete(&Post{})
		if res.Error != nil {
			return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to delete post")
		}
		if res.RowsAffected == 0 {
			return utils.NotFound("Post not found")
		}
		if p.Status != PostDeleted {
			return touchCommunity(tx, p.CommunityID, -1, s.timestamp())
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.forgetCommunity(ctx, p.CommunityID)
	s.removeImages(ctx, p.Images)
	s.log.Info(ctx).WithMeta(utils.Map{"post_id": id.String(), "actor": actor.ID.String()}).Logs("Post deleted")
	return nil
}

// RecordView counts one view of a published post.
func (s *Service) RecordView(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&Post{}).
		Where("id = ? AND status = ?", id, PostPublished).
		UpdateColumn("views_count", gorm.Expr("views_count + ?", 1))
	if res.Error != nil {
		return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to record view")
	}
	if res.RowsAffected == 0 {
		return utils.NotFound("Post not found")
	}
	return nil
}

// EngagementScore weighs likes 1, comments 3, shares 5 and views 0.1, decaying to zero over 48 hours.
func EngagementScore(p *Post, now time.Time) int {
	hours := math.Floor(now.Sub(p.CreatedAt).Hours())
	weight := math.Max(0, 48-hours) / 48
	raw := math.Floor(float64(p.LikesCount) + 3*float64(p.CommentsCount) + 5*float64(p.SharesCount) + 0.1*float64(p.ViewsCount))
	return int(raw * weight)
}

func (s *Service) requireModerator(ctx context.Context, actor user.Actor, p *Post) error {
	if actor.IsStaff() {
		return nil
	}
	if p.CommunityID != nil {
		c, err := s.loadCommunity(ctx, p.CommunityID.String())
		if err != nil {
			return err
		}
		if c.IsModerator(actor) {
			return nil
		}
	}
	return utils.Forbidden("Only moderators can do this")
}

func (s *Service) loadPost(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Post, error) {
	var p Post
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("Post not found")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get post")
	}
	return &p, nil
}
