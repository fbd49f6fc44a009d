package incident

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Verifier scores the authenticity of an incident photo.
type Verifier interface {
	Enabled() bool
	Verify(ctx context.Context, image []byte, metadata map[string]string) (verify.Result, error)
}

// StaffDirectory lists the users that receive emergency fan-out.
type StaffDirectory func(ctx context.Context) ([]uuid.UUID, error)

// Service is the incident and SOS record store.
type Service struct {
	db        *gorm.DB
	rclient   *storage.RedisClient
	media     media.Storage
	notifier  notify.Notifier
	verifier  Verifier
	validator *intake.Validator
	staff     StaffDirectory
	log       *logger.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

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

func WithVerifier(v Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

func WithValidator(v *intake.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

func WithStaffDirectory(d StaffDirectory) Option {
	return func(s *Service) {
		if d != nil {
			s.staff = d
		}
	}
}

func WithRedis(r *storage.RedisClient) Option {
	return func(s *Service) { s.rclient = r }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now, for urgency and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the store. Without WithMedia, submissions carrying files fail with a dependency error.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:        db,
		notifier:  notify.Nop{},
		validator: intake.NewValidator(),
		now:       time.Now,
	}
	s.staff = func(ctx context.Context) ([]uuid.UUID, error) {
		return user.ListStaffIDs(ctx, s.db)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errNoMedia = errors.New("media storage not configured")

// storeAll writes every attachment under dir. On failure the files already written are removed.
func (s *Service) storeAll(ctx context.Context, dir string, files []intake.Attachment) ([]string, error) {
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
			s.removeMedia(ctx, stored)
			return nil, utils.DependencyFailure("media storage", err)
		}
		stored = append(stored, p)
	}
	return stored, nil
}

// removeMedia deletes files best-effort; failures are logged, never returned.
func (s *Service) removeMedia(ctx context.Context, paths []string) {
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
					WithMeta(utils.Map{"path": p}).
					Logs("Failed to delete media file")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// staffRecipients resolves the staff list, minus the actor.
func (s *Service) staffRecipients(ctx context.Context, exclude uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.staff(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out, nil
}

// emit hands an event to the notifier. Delivery failures never fail the caller.
func (s *Service) emit(ctx context.Context, recipients []uuid.UUID, e notify.Event) bool {
	if len(recipients) == 0 {
		return false
	}
	if err := s.notifier.Notify(ctx, recipients, e); err != nil {
		s.log.Warn(ctx).WithError(utils.DependencyFailure("notification", err)).
			WithMeta(utils.Map{"event": string(e.Type), "subject": e.Subject.Path()}).
			Logs("Notification delivery failed")
		return false
	}
	return true
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

func appendNotes(existing, notes string) string {
	if notes == "" {
		return existing
	}
	if existing == "" {
		return notes
	}
	return existing + "\n" + notes
}
