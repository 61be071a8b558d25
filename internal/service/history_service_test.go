package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"changerequest/internal/database"
	"changerequest/internal/model"
	"changerequest/internal/repository"
	"changerequest/internal/service"
	"changerequest/pkg/diff"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	users   repository.UserRepository
	persons repository.PersonRepository
	books   repository.BookRepository
	history repository.ChangeRequestRepository
	svc     service.HistoryService

	admin  *model.User
	mod    *model.User
	member *model.User
}

func newTestEnv(t *testing.T, cfg service.RateLimitConfig) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Shared-cache sqlite tolerates one writer; serialize at the pool.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	env := &testEnv{
		db:      db,
		users:   repository.NewUserRepository(db),
		persons: repository.NewPersonRepository(db),
		books:   repository.NewBookRepository(db),
		history: repository.NewChangeRequestRepository(db),
	}

	registry := service.NewRegistry()
	registry.MustRegister(service.NewPersonAdapter(env.persons))
	registry.MustRegister(service.NewBookAdapter(env.books))

	env.svc = service.NewHistoryService(
		env.history,
		repository.NewTransactionManager(db),
		registry,
		service.NewRoleCapabilityResolver(env.users),
		service.NewRateLimiter(cfg, env.history),
		nil,
	)

	env.admin = env.createUser(t, "alice", model.RoleAdmin)
	env.mod = env.createUser(t, "maria", model.RoleModerator)
	env.member = env.createUser(t, "bob", model.RoleMember)

	return env
}

func (e *testEnv) createUser(t *testing.T, username, role string) *model.User {
	t.Helper()
	user := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		Role:     role,
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) createPerson(t *testing.T, name, country string) *model.Person {
	t.Helper()
	person := &model.Person{Name: name, Country: country}
	require.NoError(t, e.persons.Create(context.Background(), person))
	return person
}

func (e *testEnv) createBook(t *testing.T, author *model.Person, title string) *model.Book {
	t.Helper()
	book := &model.Book{
		Title:     title,
		AuthorID:  author.ID,
		Pages:     100,
		InPrint:   true,
		Published: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.books.Create(context.Background(), book))
	return book
}

func defaultConfig() service.RateLimitConfig {
	return service.RateLimitConfig{MaxPending: 100}
}

func TestSubmitModifyRecordsDiffOnly(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "New", "country": "Sweden"},
		Comment:    "fix name",
		ActorID:    env.member.ID,
		ActorIP:    "10.0.0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, cr.Status)
	assert.Equal(t, model.TypeModify, cr.RequestType)
	assert.Equal(t, "Old", cr.ObjectStr)
	assert.Equal(t, "10.0.0.1", cr.UserIP)
	assert.Nil(t, cr.ModID)

	changed, err := diff.Decode(cr.DataChanged)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "New"}, changed, "unchanged fields must not be recorded")

	revert, err := diff.Decode(cr.DataRevert)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Old"}, revert)

	// Entity untouched while pending.
	got, err := env.persons.GetByID(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old", got.Name)
}

func TestApproveAppliesAndRevertRestores(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "New"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)

	approved, err := env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "10.0.0.2", "looks good")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ModID)
	assert.Equal(t, env.mod.ID, *approved.ModID)
	assert.Equal(t, "looks good", approved.Comment)

	got, err := env.persons.GetByID(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)

	reverted, err := env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "10.0.0.2", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReverted, reverted.Status)
	require.NotNil(t, reverted.RevertedByID)

	// The spawned record is itself an approved change request.
	spawned, err := env.svc.Get(ctx, *reverted.RevertedByID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, spawned.Status)
	assert.Equal(t, model.TypeModify, spawned.RequestType)
	require.NotNil(t, spawned.ModID)
	assert.Equal(t, env.mod.ID, *spawned.ModID)

	got, err = env.persons.GetByID(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old", got.Name)
}

func TestAddApprovalCreatesEntity(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "Fresh", "country": "Norway"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeAdd, cr.RequestType)
	assert.Nil(t, cr.ObjectID, "no entity exists before approval")

	approved, err := env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)
	require.NotNil(t, approved.ObjectID)
	assert.Equal(t, "Fresh", approved.ObjectStr)

	got, err := env.persons.GetByID(ctx, *approved.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got.Name)
	assert.Equal(t, "Norway", got.Country)
}

func TestAdminSubmissionAutoApproves(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "New"},
		ActorID:    env.admin.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, cr.Status)
	require.NotNil(t, cr.ModID)
	assert.Equal(t, env.admin.ID, *cr.ModID, "auto-approval records the submitter as moderator")

	got, err := env.persons.GetByID(ctx, person.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
}

func TestNoOpSubmissionRejected(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Same", "Sweden")

	_, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "Same", "country": "Sweden"},
		ActorID:    env.member.ID,
	})
	var vErr *service.ValidationError
	require.ErrorAs(t, err, &vErr)

	// Nothing was recorded.
	_, total, err := env.svc.ObjectHistory(ctx, service.ObjectTypePerson, person.ID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSecondInFlightRequestRejected(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	_, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "First"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "Second"},
		ActorID:    env.member.ID,
	})
	var vErr *service.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Error(), "pending change request already exists")
}

func TestTransitionRules(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	submit := func(name string) *model.ChangeRequest {
		cr, err := env.svc.Submit(ctx, service.SubmitRequest{
			ObjectType: service.ObjectTypePerson,
			ObjectID:   &person.ID,
			Fields:     map[string]any{"name": name},
			ActorID:    env.member.ID,
		})
		require.NoError(t, err)
		return cr
	}

	t.Run("member cannot approve", func(t *testing.T) {
		cr := submit("A")
		_, err := env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.member.ID, "", "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = env.svc.Transition(ctx, cr.ID, service.ActionWithdraw, env.member.ID, "", "")
		require.NoError(t, err)
	})

	t.Run("only submitter withdraws", func(t *testing.T) {
		cr := submit("B")
		_, err := env.svc.Transition(ctx, cr.ID, service.ActionWithdraw, env.mod.ID, "", "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)

		withdrawn, err := env.svc.Transition(ctx, cr.ID, service.ActionWithdraw, env.member.ID, "", "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusWithdrawn, withdrawn.Status)
		assert.Nil(t, withdrawn.ModID, "withdrawal records no moderator")
	})

	t.Run("terminal states reject further moderation", func(t *testing.T) {
		cr := submit("C")
		denied, err := env.svc.Transition(ctx, cr.ID, service.ActionDeny, env.mod.ID, "", "not convincing")
		require.NoError(t, err)
		assert.Equal(t, model.StatusDenied, denied.Status)
		assert.Equal(t, "not convincing", denied.Comment)

		_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = env.svc.Transition(ctx, cr.ID, service.ActionWithdraw, env.member.ID, "", "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
		_, err = env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
		assert.ErrorIs(t, err, service.ErrInvalidTransition)

		// Denied requests were never applied: the entity is untouched.
		got, err := env.persons.GetByID(ctx, person.ID)
		require.NoError(t, err)
		assert.Equal(t, "Old", got.Name)
	})
}

func TestRateLimitMaxPending(t *testing.T) {
	env := newTestEnv(t, service.RateLimitConfig{MaxPending: 2})
	ctx := context.Background()

	submitAdd := func(name string) (*model.ChangeRequest, error) {
		return env.svc.Submit(ctx, service.SubmitRequest{
			ObjectType: service.ObjectTypePerson,
			Fields:     map[string]any{"name": name},
			ActorID:    env.member.ID,
		})
	}

	first, err := submitAdd("one")
	require.NoError(t, err)
	_, err = submitAdd("two")
	require.NoError(t, err)

	_, err = submitAdd("three")
	var rlErr *service.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 2, rlErr.Limit)
	assert.Zero(t, rlErr.RetryAfter, "pending-count policy has no fixed retry time")

	// Resolving one pending request frees a slot.
	_, err = env.svc.Transition(ctx, first.ID, service.ActionDeny, env.mod.ID, "", "")
	require.NoError(t, err)
	_, err = submitAdd("three")
	require.NoError(t, err)
}

func TestRateLimitDoesNotThrottleAutoApproved(t *testing.T) {
	env := newTestEnv(t, service.RateLimitConfig{MaxPending: 1})
	ctx := context.Background()

	// Admin edits apply immediately, never stack up as pending, and by
	// default bypass the limiter.
	for i := 0; i < 3; i++ {
		_, err := env.svc.Submit(ctx, service.SubmitRequest{
			ObjectType: service.ObjectTypePerson,
			Fields:     map[string]any{"name": fmt.Sprintf("p%d", i)},
			ActorID:    env.admin.ID,
		})
		require.NoError(t, err)
	}
}

func TestRateLimitConcurrentSubmissions(t *testing.T) {
	const maxPending = 5
	const attempts = 20

	env := newTestEnv(t, service.RateLimitConfig{MaxPending: maxPending})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Submit(ctx, service.SubmitRequest{
				ObjectType: service.ObjectTypePerson,
				Fields:     map[string]any{"name": fmt.Sprintf("p%d", i)},
				ActorID:    env.member.ID,
			})
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		var rlErr *service.RateLimitError
		require.ErrorAs(t, err, &rlErr)
	}
	assert.Equal(t, maxPending, admitted, "concurrent submissions must never race past the ceiling")

	count, err := env.history.CountPending(ctx, env.member.ID)
	require.NoError(t, err)
	assert.EqualValues(t, maxPending, count)
}

func TestInFlightGuardHoldsAcrossActors(t *testing.T) {
	const actors = 8

	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Contested", "Sweden")

	// Different actors hold different submission locks, so the per-actor
	// serialization alone cannot protect the one-in-flight-per-target rule.
	members := make([]*model.User, actors)
	for i := range members {
		members[i] = env.createUser(t, fmt.Sprintf("member%d", i), model.RoleMember)
	}

	var wg sync.WaitGroup
	errs := make([]error, actors)
	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Submit(ctx, service.SubmitRequest{
				ObjectType: service.ObjectTypePerson,
				ObjectID:   &person.ID,
				Fields:     map[string]any{"name": fmt.Sprintf("claim%d", i)},
				ActorID:    members[i].ID,
			})
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		var vErr *service.ValidationError
		require.ErrorAs(t, err, &vErr)
	}
	assert.Equal(t, 1, admitted, "exactly one request may be in flight per target")

	inFlight, err := env.history.CountInFlight(ctx, service.ObjectTypePerson, person.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inFlight)
}

func TestListFilterByUsernameIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	carol := env.createUser(t, "carol", model.RoleMember)

	_, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "ByBob"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "ByCarol"},
		ActorID:    carol.ID,
	})
	require.NoError(t, err)

	records, total, err := env.svc.List(ctx, repository.HistoryFilter{Username: "CAR"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, carol.ID, records[0].UserID)
}

func TestRateLimitWindowCountsResolvedRequests(t *testing.T) {
	env := newTestEnv(t, service.RateLimitConfig{MaxPending: 1, Window: time.Hour})
	ctx := context.Background()

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "one"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)

	// Under the windowed policy the record still counts after denial: the
	// throttle is on submission volume, not on what is outstanding.
	_, err = env.svc.Transition(ctx, cr.ID, service.ActionDeny, env.mod.ID, "", "")
	require.NoError(t, err)

	_, err = env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "two"},
		ActorID:    env.member.ID,
	})
	var rlErr *service.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 1, rlErr.Limit)
	assert.Equal(t, time.Hour, rlErr.RetryAfter)
}

func TestDeleteApproveAndRevertRecreates(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Doomed", "Iceland")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Delete:     true,
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeDelete, cr.RequestType)

	revert, err := diff.Decode(cr.DataRevert)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Doomed", "country": "Iceland"}, revert)

	_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)
	_, err = env.persons.GetByID(ctx, person.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	reverted, err := env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
	require.NoError(t, err)
	require.NotNil(t, reverted.RevertedByID)

	spawned, err := env.svc.Get(ctx, *reverted.RevertedByID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeAdd, spawned.RequestType)
	require.NotNil(t, spawned.ObjectID)
	assert.NotEqual(t, person.ID, *spawned.ObjectID, "recreated entity gets a fresh id")

	got, err := env.persons.GetByID(ctx, *spawned.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "Doomed", got.Name)
	assert.Equal(t, "Iceland", got.Country)
}

func TestRevertFailsWhenTargetGone(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "New"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)

	// Target vanishes outside the workflow.
	require.NoError(t, env.persons.Delete(ctx, person.ID))

	_, err = env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
	var rErr *service.RevertError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, service.RevertTargetGone, rErr.Reason)

	// The failed attempt must not consume the record.
	got, err := env.svc.Get(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Nil(t, got.RevertedByID)
}

func TestRevertTwiceRejected(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "New"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
	require.NoError(t, err)

	_, err = env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
	var rErr *service.RevertError
	require.ErrorAs(t, err, &rErr)
	assert.Equal(t, service.RevertAlreadyReverted, rErr.Reason)
}

func TestRelatedChaptersFlow(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	author := env.createPerson(t, "Author", "Sweden")
	book := env.createBook(t, author, "The Book")

	// Seed one chapter directly.
	chapter := &model.BookChapter{BookID: book.ID, Number: 1, Title: "Intro"}
	require.NoError(t, env.books.CreateChapter(ctx, chapter))

	// Desired list: rename chapter 1, add chapter 2.
	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType:  service.ObjectTypeBook,
		ObjectID:    &book.ID,
		RelatedType: service.RelatedTypeChapter,
		Members: []map[string]any{
			{"id": chapter.ID.String(), "number": float64(1), "title": "Introduction"},
			{"number": float64(2), "title": "The Middle"},
		},
		ActorID: env.member.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeRelated, cr.RequestType)
	assert.Equal(t, service.RelatedTypeChapter, cr.RelatedType)
	assert.Equal(t, "The Book", cr.ObjectStr)

	d, err := diff.DecodeRelated(cr.DataChanged)
	require.NoError(t, err)
	assert.Len(t, d.Added, 1)
	assert.Len(t, d.Modified, 1)
	assert.Empty(t, d.Deleted)
	assert.Equal(t, map[string]any{"title": "Introduction"}, d.Modified[chapter.ID.String()])

	// Chapters untouched while pending.
	chapters, err := env.books.Chapters(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, "Intro", chapters[0].Title)

	_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)

	chapters, err = env.books.Chapters(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "Introduction", chapters[0].Title)
	assert.Equal(t, "The Middle", chapters[1].Title)

	// Revert restores the pre-approval collection.
	reverted, err := env.svc.Transition(ctx, cr.ID, service.ActionRevert, env.mod.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReverted, reverted.Status)

	chapters, err = env.books.Chapters(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, "Intro", chapters[0].Title)
	assert.Equal(t, chapter.ID, chapters[0].ID, "restored members keep their ids")
}

func TestBookScalarKindsRoundTrip(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	author := env.createPerson(t, "Author", "Sweden")
	book := env.createBook(t, author, "Typed")

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypeBook,
		ObjectID:   &book.ID,
		Fields: map[string]any{
			"price":     "99.50",
			"pages":     float64(432),
			"in_print":  false,
			"published": "2021-06-15",
		},
		ActorID: env.member.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.Transition(ctx, cr.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)

	got, err := env.books.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "99.5", got.Price.String())
	assert.Equal(t, 432, got.Pages)
	assert.False(t, got.InPrint)
	assert.Equal(t, "2021-06-15", got.Published.Format("2006-01-02"))
}

func TestObjectHistoryListsAllOutcomes(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()
	person := env.createPerson(t, "Old", "Sweden")

	cr1, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "A"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr1.ID, service.ActionDeny, env.mod.ID, "", "")
	require.NoError(t, err)

	cr2, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		ObjectID:   &person.ID,
		Fields:     map[string]any{"name": "B"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr2.ID, service.ActionApprove, env.mod.ID, "", "")
	require.NoError(t, err)

	records, total, err := env.svc.ObjectHistory(ctx, service.ObjectTypePerson, person.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, records, 2)
	// Newest activity first; denied and approved records both remain.
	assert.Equal(t, model.StatusApproved, records[0].Status)
	assert.Equal(t, model.StatusDenied, records[1].Status)
	require.NotNil(t, records[0].User)
	assert.Equal(t, "bob", records[0].User.Username)
	require.NotNil(t, records[0].Mod)
	assert.Equal(t, "maria", records[0].Mod.Username)
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	cr, err := env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "One"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, service.SubmitRequest{
		ObjectType: service.ObjectTypePerson,
		Fields:     map[string]any{"name": "Two"},
		ActorID:    env.member.ID,
	})
	require.NoError(t, err)
	_, err = env.svc.Transition(ctx, cr.ID, service.ActionDeny, env.mod.ID, "", "")
	require.NoError(t, err)

	pending := model.StatusPending
	records, total, err := env.svc.List(ctx, repository.HistoryFilter{Status: &pending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "Two", records[0].ObjectStr)

	records, total, err = env.svc.List(ctx, repository.HistoryFilter{ObjectType: service.ObjectTypePerson, OrderAsc: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, records, 2)
}
