package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

type Notification struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index:idx_notifications_user_read" json:"user_id"`
	SenderID    *uuid.UUID        `gorm:"type:uuid" json:"sender_id,omitempty"`
	Type        string            `gorm:"size:50;not null;index" json:"type"`
	Title       string            `gorm:"size:255;not null" json:"title"`
	Message     string            `gorm:"type:text;not null" json:"message"`
	Data        map[string]string `gorm:"serializer:json" json:"data,omitempty"`
	SubjectKind string            `gorm:"size:20;index:idx_notifications_subject" json:"subject_kind"`
	SubjectID   uuid.UUID         `gorm:"type:uuid;index:idx_notifications_subject" json:"subject_id"`
	Priority    string            `gorm:"size:10;not null;default:normal" json:"priority"`
	ActionURL   string            `gorm:"size:255" json:"action_url"`
	IsRead      bool              `gorm:"default:false;index:idx_notifications_user_read" json:"is_read"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// Subject returns the typed reference stored on the row.
func (n *Notification) Subject() Subject {
	return Subject{Kind: SubjectKind(n.SubjectKind), ID: n.SubjectID}
}

// Store persists one notification row per recipient and serves the read side.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Notify(ctx context.Context, recipients []uuid.UUID, e Event) error {
	if len(recipients) == 0 {
		return nil
	}
	priority := e.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	rows := make([]Notification, 0, len(recipients))
	for _, id := range recipients {
		rows = append(rows, Notification{
			UserID:      id,
			SenderID:    e.SenderID,
			Type:        string(e.Type),
			Title:       e.Title,
			Message:     e.Message,
			Data:        e.Data,
			SubjectKind: string(e.Subject.Kind),
			SubjectID:   e.Subject.ID,
			Priority:    string(priority),
			ActionURL:   e.Subject.Path(),
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// List returns a user's notifications, newest first.
func (s *Store) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Model(&Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count notifications")
	}
	var out []Notification
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list notifications")
	}
	return out, total, nil
}

// UnreadCount is the badge number.
func (s *Store) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count notifications")
	}
	return n, nil
}

// MarkRead marks one of the user's notifications read. Other users' rows are reported as not found.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	var n Notification
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFound("Notification not found")
	}
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to load notification")
	}
	if n.IsRead {
		return &n, nil
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update notification")
	}
	n.IsRead = true
	n.ReadAt = &now
	return &n, nil
}

// MarkAllRead returns how many rows changed.
func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		return 0, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to update notifications")
	}
	return res.RowsAffected, nil
}

// Delete removes one of the user's notifications. Other users' rows are reported as not found.
func (s *Store) Delete(ctx context.Context, userID, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&Notification{})
	if res.Error != nil {
		return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to delete notification")
	}
	if res.RowsAffected == 0 {
		return utils.NotFound("Notification not found")
	}
	return nil
}
