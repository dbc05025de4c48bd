package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
)

const sessionColumns = `session_id, join_code, mode, topic, difficulty, entry_fee, max_players, minimum_players,
	total_rounds, status, current_players, prize_pool, questions, payout_status, create_time, auto_cancel_at,
	started_at, finished_at`

// snapshotQuestion is the JSON form of a question inside a session's snapshot.
type snapshotQuestion struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Topic         string   `json:"topic"`
	Difficulty    string   `json:"difficulty"`
}

func toSnapshot(qs []domain.Question) []snapshotQuestion {
	out := make([]snapshotQuestion, 0, len(qs))
	for _, q := range qs {
		out = append(out, snapshotQuestion{
			ID:            q.QuestionID,
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Topic:         q.Topic,
			Difficulty:    q.Difficulty,
		})
	}
	return out
}

func fromSnapshot(qs []snapshotQuestion) []domain.Question {
	out := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, domain.Question{
			QuestionID:    q.ID,
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Topic:         q.Topic,
			Difficulty:    q.Difficulty,
		})
	}
	return out
}

func scanSession(r pgx.CollectableRow) (domain.Session, error) {
	var (
		ss        domain.Session
		mode      string
		status    string
		payout    string
		questions []snapshotQuestion
	)

	err := r.Scan(
		&ss.SessionID, &ss.JoinCode, &mode, &ss.Topic, &ss.Difficulty, &ss.EntryFee, &ss.MaxPlayers, &ss.MinimumPlayers,
		&ss.TotalRounds, &status, &ss.CurrentPlayers, &ss.PrizePool, &questions, &payout, &ss.CreateTime, &ss.AutoCancelAt,
		&ss.StartedAt, &ss.FinishedAt,
	)
	if err != nil {
		return domain.Session{}, err
	}

	ss.Mode = domain.Mode(mode)
	ss.Status = domain.Status(status)
	ss.PayoutStatus = domain.PayoutStatus(payout)
	ss.Questions = fromSnapshot(questions)
	return ss, nil
}

func (p *Postgres) InsertSession(ctx context.Context, ss *domain.Session) error {
	const stmt = `
INSERT INTO sessions (session_id, join_code, mode, topic, difficulty, entry_fee, max_players, minimum_players,
	total_rounds, status, current_players, prize_pool, payout_status, create_time, auto_cancel_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);`

	_, err := p.db.Exec(ctx, stmt,
		ss.SessionID, ss.JoinCode, string(ss.Mode), ss.Topic, ss.Difficulty, ss.EntryFee, ss.MaxPlayers, ss.MinimumPlayers,
		ss.TotalRounds, string(ss.Status), ss.CurrentPlayers, ss.PrizePool, string(ss.PayoutStatus), ss.CreateTime, ss.AutoCancelAt,
	)
	return wrap(err, "insert session")
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1;`

	return p.querySession(ctx, p.db, sessionID, "get session", stmt, sessionID)
}

func (p *Postgres) ActivateSession(ctx context.Context, sessionID string, questions []domain.Question, startedAt time.Time) (*domain.Session, error) {
	const stmt = `
UPDATE sessions SET status = 'active', questions = $2, started_at = $3
WHERE session_id = $1 AND status = 'waiting'
RETURNING ` + sessionColumns + `;`

	return p.querySession(ctx, p.db, sessionID, "activate session", stmt, sessionID, toSnapshot(questions), startedAt)
}

// CancelSession cancels a session that is still waiting below its minimum players. The
// prize pool drops to zero since every entry fee is owed back.
func (p *Postgres) CancelSession(ctx context.Context, sessionID string, at time.Time) (*domain.Session, error) {
	const stmt = `
UPDATE sessions SET status = 'cancelled', finished_at = $2, payout_status = 'pending', prize_pool = 0
WHERE session_id = $1 AND status = 'waiting' AND current_players < minimum_players
RETURNING ` + sessionColumns + `;`

	return p.querySession(ctx, p.db, sessionID, "cancel session", stmt, sessionID, at)
}

// FinishSession closes an active session and records every participant's position and prize
// in one transaction.
func (p *Postgres) FinishSession(ctx context.Context, sessionID string, finishedAt time.Time, ranked []domain.Participant) (*domain.Session, error) {
	const (
		finishStmt = `
UPDATE sessions SET status = 'finished', finished_at = $2, payout_status = 'pending'
WHERE session_id = $1 AND status = 'active'
RETURNING ` + sessionColumns + `;`
		rankStmt = `UPDATE participants SET position = $2, prize = $3 WHERE participant_id = $1;`
	)

	var finished *domain.Session
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		finished, err = p.querySession(ctx, tx, sessionID, "finish session", finishStmt, sessionID, finishedAt)
		if err != nil {
			return err
		}

		b := &pgx.Batch{}
		for _, r := range ranked {
			b.Queue(rankStmt, r.ParticipantID, r.Position, r.Prize)
		}
		return wrap(tx.SendBatch(ctx, b).Close(), "rank participants")
	})
	if err != nil {
		return nil, err
	}

	return finished, nil
}

func (p *Postgres) SetPayoutStatus(ctx context.Context, sessionID string, status domain.PayoutStatus) error {
	const stmt = `UPDATE sessions SET payout_status = $2 WHERE session_id = $1;`

	tag, err := p.db.Exec(ctx, stmt, sessionID, string(status))
	if err != nil {
		return wrap(err, "set payout status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("session not found: %s", sessionID)
	}
	return nil
}

func (p *Postgres) ListExpired(ctx context.Context, now time.Time) ([]domain.Session, error) {
	const stmt = `
SELECT ` + sessionColumns + ` FROM sessions
WHERE status = 'waiting' AND auto_cancel_at <= $1 AND current_players < minimum_players
ORDER BY session_id;`

	return p.listSessions(ctx, "list expired sessions", stmt, now)
}

func (p *Postgres) ListStartable(ctx context.Context, createdBefore time.Time, minPlayers int) ([]domain.Session, error) {
	const stmt = `
SELECT ` + sessionColumns + ` FROM sessions
WHERE status = 'waiting' AND create_time <= $1 AND current_players >= $2
ORDER BY session_id;`

	return p.listSessions(ctx, "list startable sessions", stmt, createdBefore, minPlayers)
}

func (p *Postgres) ListUnpaid(ctx context.Context, pendingBefore time.Time) ([]domain.Session, error) {
	const stmt = `
SELECT ` + sessionColumns + ` FROM sessions
WHERE payout_status = 'failed' OR (payout_status = 'pending' AND finished_at <= $1)
ORDER BY session_id;`

	return p.listSessions(ctx, "list unpaid sessions", stmt, pendingBefore)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// querySession runs a statement returning at most one session. No row means the session is
// missing, or for conditional updates that it is not in the expected state.
func (p *Postgres) querySession(ctx context.Context, q querier, sessionID, op, stmt string, args ...any) (*domain.Session, error) {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, wrap(err, op)
	}

	ss, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, p.missingOrConflict(ctx, q, sessionID, op)
	}
	if err != nil {
		return nil, wrap(err, op)
	}

	return &ss, nil
}

func (p *Postgres) missingOrConflict(ctx context.Context, q querier, sessionID, op string) error {
	const stmt = `SELECT status FROM sessions WHERE session_id = $1;`

	rows, err := q.Query(ctx, stmt, sessionID)
	if err != nil {
		return wrap(err, op)
	}

	status, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[string])
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("session not found: %s", sessionID)
	}
	if err != nil {
		return wrap(err, op)
	}

	return errors.FailedPrecondition("%s: session=%s status=%s", op, sessionID, status)
}

func (p *Postgres) listSessions(ctx context.Context, op, stmt string, args ...any) ([]domain.Session, error) {
	rows, err := p.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, wrap(err, op)
	}

	ss, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, wrap(err, op)
	}
	return ss, nil
}
