package community

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// ReactionType is one of the fixed reaction kinds.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionCare  ReactionType = "care"
	ReactionHaha  ReactionType = "haha"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

var ReactionTypes = []ReactionType{ReactionLike, ReactionLove, ReactionCare, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry}

func (t ReactionType) Valid() bool {
	for _, r := range ReactionTypes {
		if r == t {
			return true
		}
	}
	return false
}

// Reaction is at most one per (post, user); the unique index enforces it. Rows are hard-deleted.
type Reaction struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	PostID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_reaction_post_user,priority:1" json:"post_id"`
	UserID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_reaction_post_user,priority:2;index:idx_reaction_user" json:"user_id"`
	Type      ReactionType `gorm:"size:10;not null;index:idx_reaction_type" json:"type"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reaction) TableName() string { return "post_reactions" }

func (r *Reaction) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ReactAction is what a toggle did.
type ReactAction string

const (
	ReactAdded   ReactAction = "added"
	ReactUpdated ReactAction = "updated"
	ReactRemoved ReactAction = "removed"
)

// ReactResult is the outcome of React with the post's counts after it.
type ReactResult struct {
	Action     ReactAction            `json:"action"`
	Type       ReactionType           `json:"type"`
	LikesCount int                    `json:"likes_count"`
	Counts     map[ReactionType]int64 `json:"counts"`
}

const maxReactAttempts = 3

// errRaced means another request changed the (post, user) reaction between our read and write.
var errRaced = errors.New("reaction changed concurrently")

// React toggles the actor's reaction on a post: none -> add, same type -> remove, other type -> switch.
// Each attempt is one transaction whose writes are conditional on what it read; a lost race is
// detected through the unique index or a zero-row update and the toggle is retried.
func (s *Service) React(ctx context.Context, actor user.Actor, postID uuid.UUID, t ReactionType) (*ReactResult, error) {
	if actor.ID == uuid.Nil {
		return nil, utils.NewError(401, "Authentication required")
	}
	if !t.Valid() {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "type", Msg: "type must be one of the following values: like love care haha wow sad angry"}})
	}

	for attempt := 0; attempt < maxReactAttempts; attempt++ {
		res, post, err := s.reactOnce(ctx, actor, postID, t)
		if errors.Is(err, errRaced) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Action == ReactAdded {
			s.notifyAuthor(ctx, post.UserID, actor.ID, notify.Event{
				Type:     notify.EventPostReaction,
				Title:    "New reaction",
				Message:  fmt.Sprintf("Someone reacted %s to your post", t),
				Subject:  notify.Subject{Kind: notify.SubjectPost, ID: postID},
				Priority: notify.PriorityLow,
				Data:     map[string]string{"type": string(t)},
			})
		}
		return res, nil
	}
	s.log.Warn(ctx).WithMeta(utils.Map{"post_id": postID.String(), "user_id": actor.ID.String()}).Logs("Reaction toggle kept racing")
	return nil, utils.Conflict("Reaction changed concurrently, try again")
}

func (s *Service) reactOnce(ctx context.Context, actor user.Actor, postID uuid.UUID, t ReactionType) (*ReactResult, *Post, error) {
	res := &ReactResult{Type: t}
	var post *Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.loadPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if p.Status != PostPublished {
			return utils.NotFound("Post not found")
		}
		post = p

		var existing Reaction
		err = tx.Where("post_id = ? AND user_id = ?", postID, actor.ID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&Reaction{PostID: postID, UserID: actor.ID, Type: t}).Error; err != nil {
				if storage.IsUniqueViolation(err) {
					return errRaced
				}
				return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to add reaction")
			}
			if err := bumpLikes(tx, postID, 1); err != nil {
				return err
			}
			res.Action = ReactAdded

		case err != nil:
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to read reaction")

		case existing.Type == t:
			del := tx.Where("id = ? AND type = ?", existing.ID, t).Delete(&Reaction{})
			if del.Error != nil {
				return utils.WrapError(del.Error, utils.ErrInternalServerError.Code, "Failed to remove reaction")
			}
			if del.RowsAffected == 0 {
				return errRaced
			}
			if err := bumpLikes(tx, postID, -1); err != nil {
				return err
			}
			res.Action = ReactRemoved

		default:
			upd := tx.Model(&Reaction{}).Where("id = ? AND type = ?", existing.ID, existing.Type).Update("type", t)
			if upd.Error != nil {
				return utils.WrapError(upd.Error, utils.ErrInternalServerError.Code, "Failed to change reaction")
			}
			if upd.RowsAffected == 0 {
				return errRaced
			}
			res.Action = ReactUpdated
		}

		var likes []int
		if err := tx.Model(&Post{}).Where("id = ?", postID).Pluck("likes_count", &likes).Error; err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to read likes")
		}
		if len(likes) == 1 {
			res.LikesCount = likes[0]
		}
		counts, err := reactionCounts(tx, postID)
		if err != nil {
			return err
		}
		res.Counts = counts
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, post, nil
}

func bumpLikes(tx *gorm.DB, postID uuid.UUID, delta int) error {
	err := tx.Model(&Post{}).Where("id = ?", postID).
		UpdateColumn("likes_count", gorm.Expr("likes_count + ?", delta)).Error
	if err != nil {
		return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update likes")
	}
	return nil
}

// ReactionCounts groups the live reactions on a post by type.
func (s *Service) ReactionCounts(ctx context.Context, actor user.Actor, postID uuid.UUID) (map[ReactionType]int64, error) {
	if _, err := s.GetPost(ctx, actor, postID); err != nil {
		return nil, err
	}
	return reactionCounts(s.db.WithContext(ctx), postID)
}

func reactionCounts(db *gorm.DB, postID uuid.UUID) (map[ReactionType]int64, error) {
	var rows []struct {
		Type  ReactionType
		Count int64
	}
	err := db.Model(&Reaction{}).Select("type, COUNT(*) AS count").
		Where("post_id = ?", postID).Group("type").Scan(&rows).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count reactions")
	}
	counts := make(map[ReactionType]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

// UserReaction returns the actor's reaction on a post, or nil.
func (s *Service) UserReaction(ctx context.Context, actor user.Actor, postID uuid.UUID) (*Reaction, error) {
	var r Reaction
	err := s.db.WithContext(ctx).Where("post_id = ? AND user_id = ?", postID, actor.ID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to read reaction")
	}
	return &r, nil
}
