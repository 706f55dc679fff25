package deck

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/dailyreview/internal/config"
	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
	"github.com/conorfennell/dailyreview/internal/grader"
	"github.com/conorfennell/dailyreview/internal/lifecycle"
	"github.com/conorfennell/dailyreview/internal/logging"
	"github.com/conorfennell/dailyreview/internal/storage"
)

const owner = "ada"

var t0 = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubGrader struct {
	result grader.Result
	err    error
	calls  int
}

func (g *stubGrader) Evaluate(_ context.Context, _ string, _ *string, _ string) (grader.Result, error) {
	g.calls++
	return g.result, g.err
}

func newService(t *testing.T, opts ...Option) (*Service, storage.Store, *clock) {
	t.Helper()
	store, err := storage.Open(context.Background(), config.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "deck.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched, err := fsrs.NewScheduler(nil)
	require.NoError(t, err)

	clk := &clock{now: t0}
	opts = append([]Option{WithClock(clk.Now), WithLogger(logging.Discard())}, opts...)
	return New(store, lifecycle.New(sched), opts...), store, clk
}

func createOne(t *testing.T, s *Service, front string) domain.Card {
	t.Helper()
	cards, err := s.Create(context.Background(), owner, []domain.Draft{{Front: front}})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	return cards[0]
}

func TestCreateAcceptReview(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newService(t)

	c := createOne(t, s, "What does WAL stand for?")
	assert.Equal(t, domain.StatusTriaging, c.Status)
	assert.Equal(t, fsrs.New, c.State)
	assert.True(t, c.Due.Equal(t0))

	clk.Advance(time.Minute)
	accepted, err := s.Accept(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, accepted.Status)
	assert.True(t, accepted.Due.Equal(c.Due))
	assert.Equal(t, fsrs.New, accepted.State)
	assert.Zero(t, accepted.Reps)

	clk.Advance(time.Minute)
	t2 := clk.Now()
	out, err := s.Review(ctx, owner, c.ID, ReviewInput{Rating: fsrs.Good})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Card.Reps)
	assert.Equal(t, 0, out.Card.Lapses)
	assert.True(t, out.Card.Due.After(t2))
	assert.Contains(t, []fsrs.State{fsrs.Learning, fsrs.Review}, out.Card.State)
	assert.Equal(t, domain.StatusActive, out.Card.Status)

	logs, err := s.History(ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, fsrs.Good, logs[0].Rating)
	assert.True(t, logs[0].ReviewedAt.Equal(t2))
}

func TestReviewLapse(t *testing.T) {
	ctx := context.Background()
	s, store, clk := newService(t)

	c := createOne(t, s, "Which isolation level prevents phantom reads?")
	_, err := s.Accept(ctx, owner, c.ID)
	require.NoError(t, err)

	last := t0.Add(-5 * 24 * time.Hour)
	_, err = store.UpdateSchedule(ctx, owner, c.ID, fsrs.Snapshot{
		Due:        t0,
		Stability:  5,
		Difficulty: 5,
		Reps:       4,
		State:      fsrs.Review,
		LastReview: &last,
	})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	out, err := s.Review(ctx, owner, c.ID, ReviewInput{Rating: fsrs.Again})
	require.NoError(t, err)
	assert.Equal(t, fsrs.Relearning, out.Card.State)
	assert.Equal(t, 1, out.Card.Lapses)
	assert.Equal(t, 0, out.Card.LearningSteps)
	assert.Equal(t, 5, out.Card.Reps)
	assert.LessOrEqual(t, out.Card.Stability, 5.0)
}

func TestSkippedCardLeavesRotation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	keep := createOne(t, s, "What is a B-tree?")
	_, err := s.Accept(ctx, owner, keep.ID)
	require.NoError(t, err)

	skip := createOne(t, s, "What is an LSM tree?")
	skipped, err := s.Skip(ctx, owner, skip.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, skipped.Status)

	due, err := s.Due(ctx, owner)
	require.NoError(t, err)
	require.Len(t, due.Cards, 1)
	assert.Equal(t, keep.ID, due.Cards[0].ID)

	counts, err := s.Counts(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Due)

	_, err = s.Review(ctx, owner, skip.ID, ReviewInput{Rating: fsrs.Good})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = s.Accept(ctx, owner, skip.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	active := domain.StatusActive
	revived, err := s.Edit(ctx, owner, skip.ID, domain.CardEdit{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, revived.Status)
}

// interleavingStore runs hook once, right after the first GetCard returns,
// to simulate another request landing between a read and its write.
type interleavingStore struct {
	storage.Store
	hook func()
}

func (s *interleavingStore) GetCard(ctx context.Context, owner, id string) (domain.Card, error) {
	c, err := s.Store.GetCard(ctx, owner, id)
	if s.hook != nil {
		hook := s.hook
		s.hook = nil
		hook()
	}
	return c, err
}

func TestConcurrentSkipBeatsAccept(t *testing.T) {
	ctx := context.Background()
	base, store, _ := newService(t)
	c := createOne(t, base, "What does MVCC stand for?")

	racing := &interleavingStore{Store: store}
	s := New(racing, base.machine, WithClock(base.now), WithLogger(logging.Discard()))
	racing.hook = func() {
		_, err := base.Skip(ctx, owner, c.ID)
		require.NoError(t, err)
	}

	_, err := s.Accept(ctx, owner, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	stored, err := store.GetCard(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, stored.Status, "skip must stay terminal")
}

func TestDueOrderIsStable(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newService(t)

	cards, err := s.Create(ctx, owner, []domain.Draft{
		{ID: "card-b", Front: "second"},
		{ID: "card-a", Front: "first"},
		{ID: "card-c", Front: "third"},
	})
	require.NoError(t, err)
	for _, c := range cards {
		_, err := s.Accept(ctx, owner, c.ID)
		require.NoError(t, err)
	}
	clk.Advance(time.Second)

	for range 3 {
		due, err := s.Due(ctx, owner)
		require.NoError(t, err)
		require.Len(t, due.Cards, 3)
		assert.Equal(t, "card-a", due.Cards[0].ID)
		assert.Equal(t, "card-b", due.Cards[1].ID)
		assert.Equal(t, "card-c", due.Cards[2].ID)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	_, err := s.Create(ctx, owner, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Create(ctx, owner, []domain.Draft{{Front: "ok"}, {Front: "   "}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	list, err := s.List(ctx, owner, domain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "a rejected batch writes nothing")

	_, err = s.Create(ctx, owner, []domain.Draft{{ID: "dup", Front: "a"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, owner, []domain.Draft{{ID: "dup", Front: "b"}})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestImportSkipsExisting(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	drafts := []domain.Draft{
		{ID: "imp-1", Front: "one"},
		{ID: "imp-2", Front: "two"},
		{ID: "imp-2", Front: "two again"},
	}
	res, err := s.Import(ctx, owner, drafts)
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)
	assert.Equal(t, 1, res.Skipped)

	res, err = s.Import(ctx, owner, drafts)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, 3, res.Skipped)

	_, err = s.Import(ctx, owner, []domain.Draft{{Front: "no id"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStaleReviewConflicts(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newService(t)

	c := createOne(t, s, "What is MVCC?")
	c, err := s.Accept(ctx, owner, c.ID)
	require.NoError(t, err)

	_, err = s.Review(ctx, owner, c.ID, ReviewInput{Rating: fsrs.Good})
	require.NoError(t, err)

	// A second writer still holding the pre-review snapshot loses.
	next, log, err := s.machine.Review(c, fsrs.Easy, s.Now(), domain.ReviewMeta{})
	require.NoError(t, err)
	_, err = store.RecordReview(ctx, owner, c.ID, c.Reps, next.Snapshot, log)
	assert.ErrorIs(t, err, domain.ErrConflict)

	logs, err := s.History(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestReviewMetaIsLogged(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	c := createOne(t, s, "Name the four FSRS ratings.")
	_, err := s.Accept(ctx, owner, c.ID)
	require.NoError(t, err)

	answer, feedback, score := "again hard good easy", "complete", 0.95
	_, err = s.Review(ctx, owner, c.ID, ReviewInput{
		Rating:      fsrs.Easy,
		Answer:      &answer,
		LLMScore:    &score,
		LLMFeedback: &feedback,
	})
	require.NoError(t, err)

	logs, err := s.History(ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Answer)
	assert.Equal(t, answer, *logs[0].Answer)
	require.NotNil(t, logs[0].LLMScore)
	assert.InDelta(t, score, *logs[0].LLMScore, 1e-9)

	bad := 1.5
	_, err = s.Review(ctx, owner, c.ID, ReviewInput{Rating: fsrs.Good, LLMScore: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("suggests a rating", func(t *testing.T) {
		g := &stubGrader{result: grader.Result{Score: 0.7, Feedback: "mostly right"}}
		s, _, _ := newService(t, WithGrader(g))
		c := createOne(t, s, "What is a write-ahead log?")

		out, err := s.Evaluate(ctx, owner, c.ID, "changes are logged before they are applied")
		require.NoError(t, err)
		assert.Equal(t, 0.7, out.Score)
		assert.Equal(t, fsrs.Good, out.Suggested)
		assert.Equal(t, 1, g.calls)
	})

	t.Run("blank answer", func(t *testing.T) {
		g := &stubGrader{}
		s, _, _ := newService(t, WithGrader(g))
		c := createOne(t, s, "q")

		_, err := s.Evaluate(ctx, owner, c.ID, "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Zero(t, g.calls)
	})

	t.Run("grader down", func(t *testing.T) {
		g := &stubGrader{err: errors.Join(grader.ErrUnavailable, errors.New("boom"))}
		s, _, _ := newService(t, WithGrader(g))
		c := createOne(t, s, "q")

		_, err := s.Evaluate(ctx, owner, c.ID, "a")
		assert.ErrorIs(t, err, grader.ErrUnavailable)
	})

	t.Run("disabled by default", func(t *testing.T) {
		s, _, _ := newService(t)
		c := createOne(t, s, "q")

		_, err := s.Evaluate(ctx, owner, c.ID, "a")
		assert.ErrorIs(t, err, grader.ErrUnavailable)
	})
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	c := createOne(t, s, "q")
	_, err := s.Preview(ctx, owner, c.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = s.Accept(ctx, owner, c.ID)
	require.NoError(t, err)
	out, err := s.Preview(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Len(t, out.Outcomes, 4)
	assert.Zero(t, out.Retrievability)
	assert.False(t, out.Outcomes[fsrs.Easy].Due.Before(out.Outcomes[fsrs.Again].Due))

	got, err := s.Get(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Reps, "preview does not persist")
}

func TestDeleteAndSources(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	c := createOne(t, s, "q")
	require.NoError(t, s.Delete(ctx, owner, c.ID))
	_, err := s.Get(ctx, owner, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, owner, c.ID), domain.ErrNotFound)

	require.NoError(t, s.MarkSourceScanned(ctx, owner, "/notes"))
	sources, err := s.Sources(ctx, owner)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "/notes", sources[0].Path)
	require.NotNil(t, sources[0].LastScanned)
	assert.True(t, sources[0].LastScanned.Equal(t0))
}
