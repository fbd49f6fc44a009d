package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// SendFunc sends an alert email. utils.SendAlertEmail in production.
type SendFunc func(ctx context.Context, cfg utils.EmailConfig, recipients []string, alert utils.Alert, log *logger.Logger) error

// Mailer emails urgent events to the recipients' addresses.
type Mailer struct {
	db   *gorm.DB
	cfg  utils.EmailConfig
	log  *logger.Logger
	send SendFunc
}

// NewMailer returns a Mailer. A nil send uses SMTP through gomail.
func NewMailer(db *gorm.DB, cfg utils.EmailConfig, log *logger.Logger, send SendFunc) *Mailer {
	if send == nil {
		send = utils.SendAlertEmail
	}
	return &Mailer{db: db, cfg: cfg, log: log, send: send}
}

func (m *Mailer) Notify(ctx context.Context, recipients []uuid.UUID, e Event) error {
	if e.Priority != PriorityUrgent || len(recipients) == 0 || m.cfg.SMTPHost == "" {
		return nil
	}
	var emails []string
	err := m.db.WithContext(ctx).Table("users").
		Where("id IN ? AND deleted_at IS NULL", recipients).
		Pluck("email", &emails).Error
	if err != nil {
		return err
	}
	return m.send(ctx, m.cfg, emails, utils.Alert{
		Title:    e.Title,
		Message:  e.Message,
		Priority: string(e.Priority),
		Path:     e.Subject.Path(),
	}, m.log)
}
