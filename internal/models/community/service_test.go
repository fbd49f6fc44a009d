package community

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := storage.Open(context.Background(), sqlite.Open(dsn),
		[]interface{}{&user.User{}, &Community{}, &Post{}, &Reaction{}, &Comment{}}, storage.WithMaxConns(1))
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
}

func (r *recorder) Notify(_ context.Context, recipients []uuid.UUID, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.to = append(r.to, recipients)
	return nil
}

func (r *recorder) ofType(t notify.EventType) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for i, e := range r.events {
		if e.Type == t {
			out = append(out, r.to[i]...)
		}
	}
	return out
}

// clock advances by a minute every time it is read.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	notes     *recorder
	author    user.Actor
	reader    user.Actor
	responder user.Actor
	admin     user.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	store, err := media.NewLocalStorage("/media", media.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	clk := &clock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
	f := &fixture{
		db:        db,
		notes:     &recorder{},
		author:    user.Actor{ID: uuid.New(), Role: user.RoleCivilian},
		reader:    user.Actor{ID: uuid.New(), Role: user.RoleCivilian},
		responder: user.Actor{ID: uuid.New(), Role: user.RoleResponder},
		admin:     user.Actor{ID: uuid.New(), Role: user.RoleAdmin},
	}
	f.svc = NewService(db, WithMedia(store), WithNotifier(f.notes), WithClock(clk.Now))
	return f
}

func (f *fixture) post(t *testing.T, actor user.Actor, content string, opts ...PostOption) *Post {
	t.Helper()
	p, err := f.svc.CreatePost(context.Background(), actor, nil, PostInput{Content: content}, opts...)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *Post {
	t.Helper()
	p, err := f.svc.loadPost(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("reload post: %v", err)
	}
	return p
}

func assertKind(t *testing.T, err error, want *utils.CustomError) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Kind)
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %s error, got %v", want.Kind, err)
	}
}

// memCache serves GET, SET and DEL from a map through a go-redis hook, so no server is dialled.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache(t *testing.T) (*storage.RedisClient, *memCache) {
	t.Helper()
	m := &memCache{data: map[string]string{}}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(m)
	t.Cleanup(func() { client.Close() })
	return &storage.RedisClient{Client: client}, m
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memCache) DialHook(next redis.DialHook) redis.DialHook { return next }

func (m *memCache) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (m *memCache) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		args := cmd.Args()
		switch cmd.Name() {
		case "get":
			v, ok := m.data[fmt.Sprint(args[1])]
			if !ok {
				return redis.Nil
			}
			cmd.(*redis.StringCmd).SetVal(v)
		case "set":
			switch v := args[2].(type) {
			case []byte:
				m.data[fmt.Sprint(args[1])] = string(v)
			default:
				m.data[fmt.Sprint(args[1])] = fmt.Sprint(v)
			}
			cmd.(*redis.StatusCmd).SetVal("OK")
		case "del":
			var n int64
			for _, k := range args[1:] {
				if _, ok := m.data[fmt.Sprint(k)]; ok {
					delete(m.data, fmt.Sprint(k))
					n++
				}
			}
			cmd.(*redis.IntCmd).SetVal(n)
		}
		return nil
	}
}
