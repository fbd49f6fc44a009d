package incident

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"github.com/spf13/afero"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := storage.Open(context.Background(), sqlite.Open(dsn),
		[]interface{}{&user.User{}, &Incident{}, &SOSRequest{}}, storage.WithMaxConns(1))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	to     [][]uuid.UUID
	err    error
}

func (r *recorder) Notify(_ context.Context, recipients []uuid.UUID, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.to = append(r.to, recipients)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// failingStorage fails every store after the first n and every delete.
type failingStorage struct {
	media.Storage
	n      int
	stores int
}

func (f *failingStorage) Store(ctx context.Context, dir, filename string, content []byte) (string, error) {
	f.stores++
	if f.stores > f.n {
		return "", errors.New("disk full")
	}
	return f.Storage.Store(ctx, dir, filename, content)
}

func (f *failingStorage) Delete(ctx context.Context, p string) error {
	return errors.New("disk unavailable")
}

type stubVerifier struct {
	res  verify.Result
	err  error
	seen *map[string]string
}

func (stubVerifier) Enabled() bool { return true }

func (v stubVerifier) Verify(_ context.Context, _ []byte, meta map[string]string) (verify.Result, error) {
	if v.seen != nil {
		*v.seen = meta
	}
	return v.res, v.err
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	store     *media.LocalStorage
	notes     *recorder
	civilian  user.Actor
	other     user.Actor
	responder user.Actor
	admin     user.Actor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := newTestDB(t)
	store, err := media.NewLocalStorage("/media", media.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	f := &fixture{
		db:        db,
		store:     store,
		notes:     &recorder{},
		civilian:  user.Actor{ID: uuid.New(), Role: user.RoleCivilian},
		other:     user.Actor{ID: uuid.New(), Role: user.RoleCivilian},
		responder: user.Actor{ID: uuid.New(), Role: user.RoleResponder},
		admin:     user.Actor{ID: uuid.New(), Role: user.RoleAdmin},
	}
	staff := func(context.Context) ([]uuid.UUID, error) {
		return []uuid.UUID{f.responder.ID, f.admin.ID}, nil
	}
	base := []Option{WithMedia(store), WithNotifier(f.notes), WithStaffDirectory(staff)}
	f.svc = NewService(db, append(base, opts...)...)
	return f
}

func incidentSubmission(t *testing.T, p intake.Payload) *intake.Submission {
	t.Helper()
	sub, err := intake.NewValidator().Validate(context.Background(), intake.KindIncident, p)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return sub
}

func sosSubmission(t *testing.T, p intake.Payload) *intake.Submission {
	t.Helper()
	sub, err := intake.NewValidator().Validate(context.Background(), intake.KindSOS, p)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return sub
}

func coords(lat, lng float64) (*float64, *float64) { return &lat, &lng }

func assertKind(t *testing.T, err error, want *utils.CustomError) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Kind)
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %s error, got %v", want.Kind, err)
	}
}
