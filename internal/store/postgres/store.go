// Package postgres is the durable storage backend. The votes primary key on
// (poll_id, participant_id) is the storage-level backstop for the ledger's
// at-most-one-vote guarantee; its violation surfaces as ErrDuplicateVote,
// never as a generic error.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"livepoll/internal/domain"
	"livepoll/internal/ledger"
)

const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create inserts p and closes the superseded poll in one transaction, so a
// reader can never observe two active polls.
func (s *Store) Create(ctx context.Context, p *domain.Poll, superseded *domain.Poll) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if superseded != nil {
		if err = updatePoll(ctx, tx, superseded); err != nil {
			return fmt.Errorf("close superseded poll: %w", err)
		}
	}

	const stmt = `
INSERT INTO polls (id, question, options, duration_seconds, start_time, end_time, active, end_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err = tx.Exec(ctx, stmt,
		p.ID, p.Question, p.Options, p.DurationSeconds,
		p.StartTime, p.EndTime, p.Active, p.EndReason, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, p *domain.Poll) error {
	return updatePoll(ctx, s.db, p)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updatePoll(ctx context.Context, db execer, p *domain.Poll) error {
	const stmt = `
UPDATE polls SET active = $2, end_time = $3, end_reason = $4 WHERE id = $1;`

	_, err := db.Exec(ctx, stmt, p.ID, p.Active, p.EndTime, p.EndReason)
	if err != nil {
		return fmt.Errorf("update poll: %w", err)
	}
	return nil
}

func (s *Store) FindActive(ctx context.Context) (*domain.Poll, error) {
	return s.findOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE active;`)
}

func (s *Store) FindByID(ctx context.Context, id string) (*domain.Poll, error) {
	return s.findOne(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1;`, id)
}

func (s *Store) List(ctx context.Context) ([]domain.Poll, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pollColumns+` FROM polls ORDER BY created_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	polls, err := pgx.CollectRows(rows, scanPoll)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	return polls, nil
}

// Insert records a vote. The primary key rejects a second vote for the same
// (poll, participant) even when two submissions race.
func (s *Store) Insert(ctx context.Context, v *domain.Vote) error {
	const stmt = `
INSERT INTO votes (poll_id, participant_id, option_index, submitted_at)
VALUES ($1, $2, $3, $4);`

	_, err := s.db.Exec(ctx, stmt, v.PollID, v.ParticipantID, v.OptionIndex, v.SubmittedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return ledger.ErrDuplicateVote
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *Store) CountByOption(ctx context.Context, pollID string) (map[int]int, int, error) {
	const stmt = `
SELECT option_index, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option_index;`

	rows, err := s.db.Query(ctx, stmt, pollID)
	if err != nil {
		return nil, 0, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	total := 0
	for rows.Next() {
		var option, count int
		if err := rows.Scan(&option, &count); err != nil {
			return nil, 0, fmt.Errorf("count votes: %w", err)
		}
		counts[option] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("count votes: %w", err)
	}
	return counts, total, nil
}

func (s *Store) HasVoted(ctx context.Context, pollID, participantID string) (bool, error) {
	const stmt = `
SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND participant_id = $2);`

	var voted bool
	if err := s.db.QueryRow(ctx, stmt, pollID, participantID).Scan(&voted); err != nil {
		return false, fmt.Errorf("vote status: %w", err)
	}
	return voted, nil
}

const pollColumns = `id, question, options, duration_seconds, start_time, end_time, active, end_reason, created_at`

func scanPoll(row pgx.CollectableRow) (domain.Poll, error) {
	var p domain.Poll
	err := row.Scan(
		&p.ID, &p.Question, &p.Options, &p.DurationSeconds,
		&p.StartTime, &p.EndTime, &p.Active, &p.EndReason, &p.CreatedAt,
	)
	return p, err
}

func (s *Store) findOne(ctx context.Context, stmt string, args ...any) (*domain.Poll, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("find poll: %w", err)
	}

	p, err := pgx.CollectOneRow(rows, scanPoll)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find poll: %w", err)
	}
	return &p, nil
}
