// Package community holds community boards, their posts, and the reactions and comments that
// keep each post's denormalized counters in step with live rows.
package community

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Service is the engagement aggregator.
type Service struct {
	db       *gorm.DB
	rclient  *storage.RedisClient
	media    media.Storage
	notifier notify.Notifier
	images   *intake.Validator
	rules    *utils.Validator
	log      *logger.Logger
	now      func() time.Time
}

var errNoMedia = errors.New("media storage not configured")

// Option configures a Service.
type Option func(*Service)

func WithRedis(r *storage.RedisClient) Option {
	return func(s *Service) { s.rclient = r }
}

func WithMedia(m media.Storage) Option {
	return func(s *Service) { s.media = m }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithImageValidator(v *intake.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.images = v
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the aggregator on db.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		notifier: notify.Nop{},
		images:   intake.NewValidator(),
		rules:    utils.NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time { return s.now().UTC() }

func (s *Service) hasRedis() bool {
	return s.rclient != nil && s.rclient.Client != nil
}

func (s *Service) validate(v interface{}) error {
	if resp := s.rules.Validate(v); resp != nil {
		return utils.ValidationFailed(resp.Errors)
	}
	return nil
}

// notifyAuthor tells ownerID about an event caused by actorID, unless they are the same user.
func (s *Service) notifyAuthor(ctx context.Context, ownerID, actorID uuid.UUID, e notify.Event) {
	if ownerID == actorID || ownerID == uuid.Nil {
		return
	}
	e.SenderID = &actorID
	if err := s.notifier.Notify(ctx, []uuid.UUID{ownerID}, e); err != nil {
		s.log.Warn(ctx).WithError(utils.DependencyFailure("notification", err)).
			WithMeta(utils.Map{"event": string(e.Type), "subject": e.Subject.Path()}).
			Logs("Notification delivery failed")
	}
}

func (s *Service) storeImages(ctx context.Context, dir string, files []intake.Attachment) ([]string, error) {
	stored := make([]string, 0, len(files))
	if len(files) == 0 {
		return stored, nil
	}
	if s.media == nil {
		return nil, utils.DependencyFailure("media storage", errNoMedia)
	}
	for _, f := range files {
		p, err := s.media.Store(ctx, dir, f.Filename, f.Content)
		if err != nil {
			s.removeImages(ctx, stored)
			return nil, utils.DependencyFailure("media storage", err)
		}
		stored = append(stored, p)
	}
	return stored, nil
}

func (s *Service) removeImages(ctx context.Context, paths []string) {
	if s.media == nil || len(paths) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(4)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := s.media.Delete(ctx, p); err != nil {
				s.log.Warn(ctx).WithError(utils.DependencyFailure("media storage", err)).
					WithMeta(utils.Map{"path": p}).Logs("Failed to delete post image")
			}
			return nil
		})
	}
	_ = g.Wait()
}
