package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/dailyreview/internal/domain"
	"github.com/conorfennell/dailyreview/internal/fsrs"
	"github.com/conorfennell/dailyreview/internal/queue"
)

// dialect captures what differs between the SQLite and Postgres backends.
type dialect struct {
	name         string
	rebind       func(string) string
	isUnique     func(error) bool
	isForeignKey func(error) bool
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for tests and maintenance commands.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const cardColumns = `id, owner, front, context, source_conversation, tags, created_at, status,
	due, stability, difficulty, elapsed_days, scheduled_days, learning_steps, reps, lapses, state, last_review`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c             domain.Card
		ctxText       sql.NullString
		source        sql.NullString
		tags          string
		createdAt     int64
		status, state string
		due           int64
		lastReview    sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.Owner, &c.Front, &ctxText, &source, &tags, &createdAt, &status,
		&due, &c.Stability, &c.Difficulty, &c.ElapsedDays, &c.ScheduledDays,
		&c.LearningSteps, &c.Reps, &c.Lapses, &state, &lastReview,
	)
	if err != nil {
		return domain.Card{}, err
	}

	c.Context = fromNullString(ctxText)
	c.SourceConversation = fromNullString(source)
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return domain.Card{}, fmt.Errorf("failed to decode tags for card %s: %w", c.ID, err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.CreatedAt = fromMillis(createdAt)
	c.Status = domain.Status(status)
	c.Due = fromMillis(due)
	if c.State, err = fsrs.ParseState(state); err != nil {
		return domain.Card{}, fmt.Errorf("card %s: %w", c.ID, err)
	}
	if lastReview.Valid {
		t := fromMillis(lastReview.Int64)
		c.LastReview = &t
	}
	return c, nil
}

func (s *SQLStore) collectCards(rows *sql.Rows) ([]domain.Card, error) {
	defer rows.Close()
	cards := []domain.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate card rows: %w", err)
	}
	return cards, nil
}

// CreateCards inserts all cards in one transaction. A duplicate id fails the
// whole batch with domain.ErrConflict.
func (s *SQLStore) CreateCards(ctx context.Context, cards []domain.Card) ([]domain.Card, error) {
	if len(cards) == 0 {
		return []domain.Card{}, nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cards {
			tags, err := encodeTags(c.Tags)
			if err != nil {
				return err
			}
			_, err = s.exec(ctx, tx, `
				INSERT INTO cards (`+cardColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				c.ID, c.Owner, c.Front, toNullString(c.Context), toNullString(c.SourceConversation), tags,
				toMillis(c.CreatedAt), string(c.Status),
				toMillis(c.Due), c.Stability, c.Difficulty, c.ElapsedDays, c.ScheduledDays,
				c.LearningSteps, c.Reps, c.Lapses, c.State.String(), toNullMillis(c.LastReview),
			)
			if err != nil {
				if s.dialect.isUnique(err) {
					return fmt.Errorf("%w: card %s already exists", domain.ErrConflict, c.ID)
				}
				return fmt.Errorf("failed to insert card %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// GetCard returns domain.ErrNotFound when the card does not exist or belongs
// to another owner.
func (s *SQLStore) GetCard(ctx context.Context, owner, id string) (domain.Card, error) {
	return s.getCard(ctx, s.db, owner, id)
}

func (s *SQLStore) getCard(ctx context.Context, q queryer, owner, id string) (domain.Card, error) {
	row := s.queryRow(ctx, q, `SELECT `+cardColumns+` FROM cards WHERE id = ? AND owner = ?`, id, owner)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Card{}, fmt.Errorf("%w: card %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to get card %s: %w", id, err)
	}
	return c, nil
}

// ListCards returns the owner's cards, newest first.
func (s *SQLStore) ListCards(ctx context.Context, owner string, f domain.ListFilter) ([]domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE owner = ?`
	args := []any{owner}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return s.collectCards(rows)
}

// DueCards reads every active card in a single statement and partitions them,
// so due and upcoming always describe the same snapshot.
func (s *SQLStore) DueCards(ctx context.Context, owner string, now time.Time) (domain.DueResult, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+cardColumns+` FROM cards WHERE owner = ? AND status = ? ORDER BY due ASC, id ASC`,
		owner, string(domain.StatusActive))
	if err != nil {
		return domain.DueResult{}, fmt.Errorf("failed to get due cards: %w", err)
	}
	cards, err := s.collectCards(rows)
	if err != nil {
		return domain.DueResult{}, err
	}
	return queue.Partition(cards, now), nil
}

// Counts returns the triage and due counters. Only status and due are read;
// the due rule itself lives in queue.
func (s *SQLStore) Counts(ctx context.Context, owner string, now time.Time) (domain.Counts, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT status, due FROM cards WHERE owner = ? AND status IN (?, ?)`,
		owner, string(domain.StatusTriaging), string(domain.StatusActive))
	if err != nil {
		return domain.Counts{}, fmt.Errorf("failed to count cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		var (
			status string
			due    int64
		)
		if err := rows.Scan(&status, &due); err != nil {
			return domain.Counts{}, fmt.Errorf("failed to scan card: %w", err)
		}
		c := domain.Card{Status: domain.Status(status)}
		c.Due = fromMillis(due)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return domain.Counts{}, fmt.Errorf("failed to count cards: %w", err)
	}
	return queue.Counts(cards, now), nil
}

// EditCard writes the non-nil fields of e. Scheduling columns are never touched.
func (s *SQLStore) EditCard(ctx context.Context, owner, id string, e domain.CardEdit) (domain.Card, error) {
	var (
		sets []string
		args []any
	)
	if e.Front != nil {
		sets = append(sets, "front = ?")
		args = append(args, strings.TrimSpace(*e.Front))
	}
	if e.Context != nil {
		sets = append(sets, "context = ?")
		args = append(args, toNullString(domain.OptionalText(e.Context)))
	}
	if e.SourceConversation != nil {
		sets = append(sets, "source_conversation = ?")
		args = append(args, toNullString(domain.OptionalText(e.SourceConversation)))
	}
	if e.Tags != nil {
		tags, err := encodeTags(domain.NormalizeTags(*e.Tags))
		if err != nil {
			return domain.Card{}, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if e.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*e.Status))
	}
	if len(sets) == 0 {
		return s.GetCard(ctx, owner, id)
	}

	args = append(args, id, owner)
	res, err := s.exec(ctx, s.db, `UPDATE cards SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner = ?`, args...)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to edit card %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return domain.Card{}, err
	}
	return s.GetCard(ctx, owner, id)
}

// SetStatus moves a card from one status to another, but only if it still has
// status from. A card that changed in between yields domain.ErrInvalidOperation.
func (s *SQLStore) SetStatus(ctx context.Context, owner, id string, from, to domain.Status) (domain.Card, error) {
	res, err := s.exec(ctx, s.db, `UPDATE cards SET status = ? WHERE id = ? AND owner = ? AND status = ?`,
		string(to), id, owner, string(from))
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to set status of card %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		c, err := s.GetCard(ctx, owner, id)
		if err != nil {
			return domain.Card{}, err
		}
		return domain.Card{}, fmt.Errorf("%w: card %s is %s, not %s", domain.ErrInvalidOperation, id, c.Status, from)
	}
	return s.GetCard(ctx, owner, id)
}

const scheduleSet = `due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
	learning_steps = ?, reps = ?, lapses = ?, state = ?, last_review = ?`

func scheduleArgs(snap fsrs.Snapshot) []any {
	return []any{
		toMillis(snap.Due), snap.Stability, snap.Difficulty, snap.ElapsedDays, snap.ScheduledDays,
		snap.LearningSteps, snap.Reps, snap.Lapses, snap.State.String(), toNullMillis(snap.LastReview),
	}
}

// UpdateSchedule overwrites the scheduling snapshot without any version check.
func (s *SQLStore) UpdateSchedule(ctx context.Context, owner, id string, snap fsrs.Snapshot) (domain.Card, error) {
	args := append(scheduleArgs(snap), id, owner)
	res, err := s.exec(ctx, s.db, `UPDATE cards SET `+scheduleSet+` WHERE id = ? AND owner = ?`, args...)
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to update schedule for card %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return domain.Card{}, err
	}
	return s.GetCard(ctx, owner, id)
}

// RecordReview is the compare-and-swap write behind a review.
func (s *SQLStore) RecordReview(ctx context.Context, owner, id string, prevReps int, snap fsrs.Snapshot, log domain.ReviewLog) (domain.Card, error) {
	var card domain.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := append(scheduleArgs(snap), id, owner, prevReps, string(domain.StatusActive))
		res, err := s.exec(ctx, tx,
			`UPDATE cards SET `+scheduleSet+` WHERE id = ? AND owner = ? AND reps = ? AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to update schedule for card %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			if _, err := s.getCard(ctx, tx, owner, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: card %s changed since it was read", domain.ErrConflict, id)
		}

		if err := s.insertReviewLog(ctx, tx, log); err != nil {
			return err
		}
		card, err = s.getCard(ctx, tx, owner, id)
		return err
	})
	if err != nil {
		return domain.Card{}, err
	}
	return card, nil
}

// DeleteCard removes the card; its review logs go with it.
func (s *SQLStore) DeleteCard(ctx context.Context, owner, id string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM cards WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	return requireRow(res, id)
}

// CreateReviewLog appends a log entry. The card must exist and belong to owner.
func (s *SQLStore) CreateReviewLog(ctx context.Context, owner string, log domain.ReviewLog) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getCard(ctx, tx, owner, log.CardID); err != nil {
			return err
		}
		return s.insertReviewLog(ctx, tx, log)
	})
}

func (s *SQLStore) insertReviewLog(ctx context.Context, q queryer, log domain.ReviewLog) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO review_logs (id, card_id, rating, answer, llm_score, llm_feedback, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		log.ID, log.CardID, int(log.Rating), toNullString(log.Answer), toNullFloat(log.LLMScore),
		toNullString(log.LLMFeedback), toMillis(log.ReviewedAt),
	)
	switch {
	case err == nil:
		return nil
	case s.dialect.isForeignKey(err):
		return fmt.Errorf("%w: card %s", domain.ErrNotFound, log.CardID)
	case s.dialect.isUnique(err):
		return fmt.Errorf("%w: review log %s already exists", domain.ErrConflict, log.ID)
	default:
		return fmt.Errorf("failed to insert review log for card %s: %w", log.CardID, err)
	}
}

// ListReviewLogs returns a card's history, oldest first.
func (s *SQLStore) ListReviewLogs(ctx context.Context, owner, cardID string) ([]domain.ReviewLog, error) {
	if _, err := s.GetCard(ctx, owner, cardID); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db, `
		SELECT l.id, l.card_id, l.rating, l.answer, l.llm_score, l.llm_feedback, l.reviewed_at
		FROM review_logs l
		JOIN cards c ON c.id = l.card_id
		WHERE c.owner = ? AND l.card_id = ?
		ORDER BY l.reviewed_at ASC, l.id ASC
	`, owner, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review logs for card %s: %w", cardID, err)
	}
	defer rows.Close()

	logs := []domain.ReviewLog{}
	for rows.Next() {
		var (
			l          domain.ReviewLog
			rating     int
			answer     sql.NullString
			score      sql.NullFloat64
			feedback   sql.NullString
			reviewedAt int64
		)
		if err := rows.Scan(&l.ID, &l.CardID, &rating, &answer, &score, &feedback, &reviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review log row: %w", err)
		}
		l.Rating = fsrs.Rating(rating)
		l.Answer = fromNullString(answer)
		if score.Valid {
			v := score.Float64
			l.LLMScore = &v
		}
		l.LLMFeedback = fromNullString(feedback)
		l.ReviewedAt = fromMillis(reviewedAt)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review log rows: %w", err)
	}
	return logs, nil
}

// TouchSource records that path was scanned at the given instant.
func (s *SQLStore) TouchSource(ctx context.Context, owner, path string, at time.Time) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO sources (owner, path, last_scanned) VALUES (?, ?, ?)
		ON CONFLICT (owner, path) DO UPDATE SET last_scanned = excluded.last_scanned
	`, owner, path, toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source %s: %w", path, err)
	}
	return nil
}

// ListSources returns every source the owner has synced.
func (s *SQLStore) ListSources(ctx context.Context, owner string) ([]Source, error) {
	rows, err := s.query(ctx, s.db, `SELECT path, last_scanned FROM sources WHERE owner = ? ORDER BY path`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		var (
			src     Source
			scanned sql.NullInt64
		)
		if err := rows.Scan(&src.Path, &scanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		if scanned.Valid {
			t := fromMillis(scanned.Int64)
			src.LastScanned = &t
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: card %s", domain.ErrNotFound, id)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
