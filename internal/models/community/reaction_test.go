package community

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

func TestReactToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Landslide on the highway")

	steps := []struct {
		react  ReactionType
		action ReactAction
		likes  int
		counts map[ReactionType]int64
	}{
		{ReactionLike, ReactAdded, 1, map[ReactionType]int64{ReactionLike: 1}},
		{ReactionLove, ReactUpdated, 1, map[ReactionType]int64{ReactionLove: 1}},
		{ReactionLove, ReactRemoved, 0, map[ReactionType]int64{}},
		{ReactionSad, ReactAdded, 1, map[ReactionType]int64{ReactionSad: 1}},
	}
	for i, st := range steps {
		res, err := f.svc.React(ctx, f.reader, p.ID, st.react)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Action != st.action || res.LikesCount != st.likes {
			t.Fatalf("step %d: action=%s likes=%d, want %s %d", i, res.Action, res.LikesCount, st.action, st.likes)
		}
		if len(res.Counts) != len(st.counts) {
			t.Fatalf("step %d: counts = %v, want %v", i, res.Counts, st.counts)
		}
		for k, v := range st.counts {
			if res.Counts[k] != v {
				t.Fatalf("step %d: counts = %v, want %v", i, res.Counts, st.counts)
			}
		}
	}

	var rows int64
	f.db.Model(&Reaction{}).Where("post_id = ? AND user_id = ?", p.ID, f.reader.ID).Count(&rows)
	if rows != 1 {
		t.Fatalf("reaction rows = %d, want 1", rows)
	}

	// only additions notify, and never the reactor
	if got := f.notes.ofType(notify.EventPostReaction); len(got) != 2 || got[0] != f.author.ID {
		t.Fatalf("reaction notifications = %v", got)
	}
	if _, err := f.svc.React(ctx, f.author, p.ID, ReactionLike); err != nil {
		t.Fatal(err)
	}
	if got := f.notes.ofType(notify.EventPostReaction); len(got) != 2 {
		t.Fatalf("self reaction notified: %v", got)
	}
}

func TestReactRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Need rescue boat")

	_, err := f.svc.React(ctx, f.reader, p.ID, "dislike")
	assertKind(t, err, utils.ErrValidation)

	_, err = f.svc.React(ctx, user.Actor{}, p.ID, ReactionLike)
	assertKind(t, err, utils.ErrUnauthorized)

	_, err = f.svc.React(ctx, f.reader, uuid.New(), ReactionLike)
	assertKind(t, err, utils.ErrNotFound)

	if _, err := f.svc.ModeratePost(ctx, f.admin, p.ID, ModerateHide, "spam"); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.React(ctx, f.reader, p.ID, ReactionLike)
	assertKind(t, err, utils.ErrNotFound)
}

func TestConcurrentReactionsKeepCounterExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Fire near the market")

	users := make([]user.Actor, 12)
	for i := range users {
		users[i] = user.Actor{ID: uuid.New(), Role: user.RoleCivilian}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(users)*3)
	for _, u := range users {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			// like, unlike, like: each user ends with one reaction
			for i := 0; i < 3; i++ {
				if _, err := f.svc.React(ctx, u, p.ID, ReactionLike); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("react: %v", err)
	}

	report, err := f.svc.CheckCounters(ctx, f.admin, p.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.LikesCount != len(users) || report.LiveReactions != int64(len(users)) || report.Drift() {
		t.Fatalf("report = %+v", report)
	}
}

func TestUserReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Road cleared")

	r, err := f.svc.UserReaction(ctx, f.reader, p.ID)
	if err != nil || r != nil {
		t.Fatalf("before reacting: %v %v", r, err)
	}
	if _, err := f.svc.React(ctx, f.reader, p.ID, ReactionCare); err != nil {
		t.Fatal(err)
	}
	r, err = f.svc.UserReaction(ctx, f.reader, p.ID)
	if err != nil || r == nil || r.Type != ReactionCare {
		t.Fatalf("after reacting: %+v %v", r, err)
	}
	counts, err := f.svc.ReactionCounts(ctx, user.Actor{}, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[ReactionCare] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestConcurrentTogglesBySameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Evacuation center is full")

	const workers = 9
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.React(ctx, f.reader, p.ID, ReactionLike); err != nil && !errors.Is(err, utils.ErrConflict) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("react: %v", err)
	}

	var rows int64
	f.db.Model(&Reaction{}).Where("post_id = ? AND user_id = ?", p.ID, f.reader.ID).Count(&rows)
	if rows > 1 {
		t.Fatalf("reaction rows = %d, want at most 1", rows)
	}
	if got := f.reload(t, p.ID).LikesCount; int64(got) != rows {
		t.Fatalf("likes_count = %d, rows = %d", got, rows)
	}
}

// insertRival makes the next reaction insert collide with a row written by a competing request.
// The rival row lives in the same transaction, so it disappears when the attempt rolls back.
func insertRival(t *testing.T, db *gorm.DB, times int) *int {
	t.Helper()
	fired := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:rival_reaction", func(tx *gorm.DB) {
		r, ok := tx.Statement.Dest.(*Reaction)
		if !ok || fired >= times {
			return
		}
		fired++
		now := time.Now().UTC()
		err := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO post_reactions (id, post_id, user_id, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			uuid.New(), r.PostID, r.UserID, ReactionSad, now, now,
		).Error
		if err != nil {
			t.Errorf("rival insert: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &fired
}

func TestReactRetriesAfterUniqueViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Water rising at the bridge")
	fired := insertRival(t, f.db, 1)

	res, err := f.svc.React(ctx, f.reader, p.ID, ReactionLike)
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if *fired != 1 {
		t.Fatalf("rival fired %d times", *fired)
	}
	if res.Action != ReactAdded || res.LikesCount != 1 {
		t.Fatalf("result = %+v", res)
	}

	var rows []Reaction
	f.db.Where("post_id = ? AND user_id = ?", p.ID, f.reader.ID).Find(&rows)
	if len(rows) != 1 || rows[0].Type != ReactionLike {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestReactGivesUpAfterRepeatedRaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.post(t, f.author, "Power lines down")
	fired := insertRival(t, f.db, maxReactAttempts)

	_, err := f.svc.React(ctx, f.reader, p.ID, ReactionLike)
	assertKind(t, err, utils.ErrConflict)
	if *fired != maxReactAttempts {
		t.Fatalf("rival fired %d times, want %d", *fired, maxReactAttempts)
	}

	var rows int64
	f.db.Model(&Reaction{}).Where("post_id = ?", p.ID).Count(&rows)
	if rows != 0 {
		t.Fatalf("reaction rows = %d, want 0", rows)
	}
	if got := f.reload(t, p.ID).LikesCount; got != 0 {
		t.Fatalf("likes_count = %d", got)
	}
	if got := f.notes.ofType(notify.EventPostReaction); len(got) != 0 {
		t.Fatalf("notified on a failed toggle: %v", got)
	}
}
