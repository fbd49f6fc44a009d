package community

import (
	"context"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// CounterReport compares a post's stored counters with its live rows.
type CounterReport struct {
	PostID        uuid.UUID `json:"post_id"`
	LikesCount    int       `json:"likes_count"`
	LiveReactions int64     `json:"live_reactions"`
	CommentsCount int       `json:"comments_count"`
	LiveComments  int64     `json:"live_comments"`
}

// Drift reports whether either counter disagrees with the live rows.
func (r CounterReport) Drift() bool {
	return int64(r.LikesCount) != r.LiveReactions || int64(r.CommentsCount) != r.LiveComments
}

// CheckCounters recounts a post. Admin only.
func (s *Service) CheckCounters(ctx context.Context, actor user.Actor, postID uuid.UUID) (*CounterReport, error) {
	if !actor.IsAdmin() {
		return nil, utils.Forbidden("Only admins can audit counters")
	}
	return s.countPost(ctx, s.db, postID)
}

// RepairCounters overwrites a post's counters with the live counts. Admin only.
func (s *Service) RepairCounters(ctx context.Context, actor user.Actor, postID uuid.UUID) (*CounterReport, error) {
	if !actor.IsAdmin() {
		return nil, utils.Forbidden("Only admins can repair counters")
	}
	var report *CounterReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.countPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if r.Drift() {
			s.log.Warn(ctx).WithMeta(utils.Map{"post_id": postID.String()}).Logs("Repairing drifted post counters")
		}
		err = tx.Model(&Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
			"likes_count":    r.LiveReactions,
			"comments_count": r.LiveComments,
		}).Error
		if err != nil {
			return utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to repair counters")
		}
		r.LikesCount = int(r.LiveReactions)
		r.CommentsCount = int(r.LiveComments)
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) countPost(ctx context.Context, db *gorm.DB, postID uuid.UUID) (*CounterReport, error) {
	p, err := s.loadPost(ctx, db, postID)
	if err != nil {
		return nil, err
	}
	r := &CounterReport{PostID: postID, LikesCount: p.LikesCount, CommentsCount: p.CommentsCount}
	if err := db.WithContext(ctx).Model(&Reaction{}).Where("post_id = ?", postID).Count(&r.LiveReactions).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count reactions")
	}
	err = db.WithContext(ctx).Model(&Comment{}).Where("post_id = ? AND status <> ?", postID, CommentDeleted).
		Count(&r.LiveComments).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count comments")
	}
	return r, nil
}
