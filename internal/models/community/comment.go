package community

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// CommentStatus is the moderation status of a comment. Only deleted comments leave the counters.
type CommentStatus string

const (
	CommentPublished CommentStatus = "published"
	CommentHidden    CommentStatus = "hidden"
	CommentDeleted   CommentStatus = "deleted"
)

const maxCommentDepth = 10

// Comment belongs to one post; its parent, when set, belongs to the same post.
type Comment struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PostID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_comment_post" json:"post_id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_comment_author" json:"user_id"`
	ParentCommentID *uuid.UUID `gorm:"type:uuid;index:idx_comment_parent" json:"parent_comment_id"`
	Depth           int        `gorm:"not null;default:0" json:"depth"`

	Content          string        `gorm:"type:text;not null" json:"content"`
	Status           CommentStatus `gorm:"size:20;not null;index" json:"status"`
	ModerationReason string        `gorm:"size:255" json:"moderation_reason,omitempty"`
	ModeratedBy      *uuid.UUID    `gorm:"type:uuid" json:"moderated_by,omitempty"`
	RepliesCount     int           `gorm:"not null;default:0" json:"replies_count"`
	IsEdited         bool          `gorm:"not null;default:false" json:"is_edited"`
	EditedAt         *time.Time    `json:"edited_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Replies []Comment `gorm:"-" json:"replies,omitempty"`
}

func (Comment) TableName() string { return "post_comments" }

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CommentInput is a new comment or reply.
type CommentInput struct {
	Content         string     `json:"content" validate:"required,max=500"`
	ParentCommentID *uuid.UUID `json:"parent_comment_id"`
}

// AddComment adds a comment, bumping the post's counter and activity, the parent's reply count,
// and the community's activity in one transaction.
func (s *Service) AddComment(ctx context.Context, actor user.Actor, postID uuid.UUID, in CommentInput) (*Comment, error) {
	if actor.ID == uuid.Nil {
		return nil, utils.NewError(401, "Authentication required")
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	c := &Comment{
		PostID:          postID,
		UserID:          actor.ID,
		ParentCommentID: in.ParentCommentID,
		Content:         in.Content,
		Status:          CommentPublished,
	}
	var post *Post
	var parent *Comment
	now := s.timestamp()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.loadPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if p.Status != PostPublished {
			return utils.NotFound("Post not found")
		}
		if !p.AllowComments {
			return utils.InvalidState("comments_disabled", "comment")
		}
		post = p

		if in.ParentCommentID != nil {
			var pc Comment
			err := tx.Where("id = ? AND post_id = ? AND status <> ?", *in.ParentCommentID, postID, CommentDeleted).First(&pc).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NotFound("Parent comment not found on this post")
			}
			if err != nil {
				return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get parent comment")
			}
			if pc.Depth >= maxCommentDepth {
				return utils.ValidationFailed([]utils.CError{{Field: "parent_comment_id", Msg: "replies nest at most 10 levels deep"}})
			}
			c.Depth = pc.Depth + 1
			parent = &pc
		}

		if err := tx.Create(c).Error; err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to add comment")
		}
		err = tx.Model(&Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
			"comments_count": gorm.Expr("comments_count + ?", 1),
			"last_activity":  now,
		}).Error
		if err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update post counters")
		}
		if parent != nil {
			err := tx.Model(&Comment{}).Where("id = ?", parent.ID).
				UpdateColumn("replies_count", gorm.Expr("replies_count + ?", 1)).Error
			if err != nil {
				return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update reply count")
			}
		}
		if err := touchCommunity(tx, p.CommunityID, 0, now); err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update community activity")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.forgetCommunity(ctx, post.CommunityID)

	ev := notify.Event{
		Type:     notify.EventPostComment,
		Title:    "New comment",
		Message:  truncate(c.Content, 120),
		Subject:  notify.Subject{Kind: notify.SubjectPost, ID: postID},
		Priority: notify.PriorityLow,
		Data:     map[string]string{"comment_id": c.ID.String()},
	}
	s.notifyAuthor(ctx, post.UserID, actor.ID, ev)
	if parent != nil && parent.UserID != post.UserID {
		s.notifyAuthor(ctx, parent.UserID, actor.ID, ev)
	}
	return c, nil
}

// EditComment lets the author change the text of a live comment.
func (s *Service) EditComment(ctx context.Context, actor user.Actor, id uuid.UUID, content string) (*Comment, error) {
	content = strings.TrimSpace(content)
	if err := s.validate(CommentInput{Content: content}); err != nil {
		return nil, err
	}
	c, err := s.loadComment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(c.UserID) {
		return nil, utils.Forbidden("Only the author can edit this comment")
	}
	now := s.timestamp()
	res := s.db.WithContext(ctx).Model(&Comment{}).Where("id = ? AND status <> ?", id, CommentDeleted).
		Updates(map[string]interface{}{"content": content, "is_edited": true, "edited_at": now})
	if res.Error != nil {
		return nil, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to edit comment")
	}
	if res.RowsAffected == 0 {
		return nil, utils.NotFound("Comment not found")
	}
	return s.loadComment(ctx, s.db, id)
}

// ListComments returns the post's comments as a thread, oldest first. Hidden comments are
// shown to moderators only.
func (s *Service) ListComments(ctx context.Context, actor user.Actor, postID uuid.UUID) ([]Comment, error) {
	p, err := s.GetPost(ctx, actor, postID)
	if err != nil {
		return nil, err
	}
	statuses := []CommentStatus{CommentPublished}
	if s.requireModerator(ctx, actor, p) == nil {
		statuses = append(statuses, CommentHidden)
	}

	var flat []Comment
	err = s.db.WithContext(ctx).Where("post_id = ? AND status IN ?", postID, statuses).
		Order("created_at ASC").Find(&flat).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list comments")
	}
	return thread(flat), nil
}

// thread nests replies under their parents. Replies whose parent is not in the list surface at the top.
func thread(flat []Comment) []Comment {
	present := make(map[uuid.UUID]bool, len(flat))
	for _, c := range flat {
		present[c.ID] = true
	}
	children := make(map[uuid.UUID][]Comment)
	var roots []Comment
	for _, c := range flat {
		if c.ParentCommentID != nil && present[*c.ParentCommentID] {
			children[*c.ParentCommentID] = append(children[*c.ParentCommentID], c)
			continue
		}
		roots = append(roots, c)
	}
	var attach func([]Comment) []Comment
	attach = func(level []Comment) []Comment {
		for i := range level {
			if kids, ok := children[level[i].ID]; ok {
				level[i].Replies = attach(kids)
			}
		}
		return level
	}
	return attach(roots)
}

// ModerateComment hides or restores a comment. Hidden comments still count toward the post.
func (s *Service) ModerateComment(ctx context.Context, actor user.Actor, id uuid.UUID, hide bool, reason string) (*Comment, error) {
	c, err := s.loadComment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	p, err := s.loadPost(ctx, s.db, c.PostID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, actor, p); err != nil {
		return nil, err
	}
	from, to := CommentPublished, CommentHidden
	if !hide {
		from, to = CommentHidden, CommentPublished
	}
	res := s.db.WithContext(ctx).Model(&Comment{}).Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "moderation_reason": reason, "moderated_by": actor.ID})
	if res.Error != nil {
		return nil, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to moderate comment")
	}
	if res.RowsAffected == 0 {
		return nil, utils.InvalidTransition(string(c.Status), string(to))
	}
	return s.loadComment(ctx, s.db, id)
}

// DeleteComment soft-deletes a comment. The counters drop exactly once, even if two deletes race.
func (s *Service) DeleteComment(ctx context.Context, actor user.Actor, id uuid.UUID) error {
	c, err := s.loadComment(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !actor.Owns(c.UserID) {
		p, err := s.loadPost(ctx, s.db, c.PostID)
		if err != nil {
			return err
		}
		if err := s.requireModerator(ctx, actor, p); err != nil {
			return utils.Forbidden("Only the author can delete this comment")
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Comment{}).Where("id = ? AND status <> ?", id, CommentDeleted).
			Updates(map[string]interface{}{"status": CommentDeleted, "moderated_by": actor.ID})
		if res.Error != nil {
			return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to delete comment")
		}
		if res.RowsAffected == 0 {
			return utils.NotFound("Comment not found")
		}
		err := tx.Model(&Post{}).Where("id = ?", c.PostID).
			UpdateColumn("comments_count", gorm.Expr("comments_count - ?", 1)).Error
		if err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update post counters")
		}
		if c.ParentCommentID != nil {
			err := tx.Model(&Comment{}).Where("id = ?", *c.ParentCommentID).
				UpdateColumn("replies_count", gorm.Expr("replies_count - ?", 1)).Error
			if err != nil {
				return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update reply count")
			}
		}
		return nil
	})
}

func (s *Service) loadComment(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Comment, error) {
	var c Comment
	err := db.WithContext(ctx).Where("id = ? AND status <> ?", id, CommentDeleted).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFound("Comment not found")
	}
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get comment")
	}
	return &c, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
