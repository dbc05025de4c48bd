package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
)

// RecordAnswer inserts the answer and adds its points to the participant in one statement.
// The answer is only accepted while its round is open and the participant alive; otherwise
// it fails with CodeFailedPrecondition. The session row is key-share locked so that a
// concurrent CloseRound, which locks it for update, is either fully before or fully after.
func (p *Postgres) RecordAnswer(ctx context.Context, a *domain.Answer) (*domain.Participant, error) {
	const (
		lockStmt   = `SELECT 1 FROM sessions WHERE session_id = $1 FOR KEY SHARE;`
		recordStmt = `
WITH inserted AS (
	INSERT INTO answers (participant_id, round_number, session_id, question_id, selected_answer, is_correct,
		response_time_ms, points_earned, submit_time)
	SELECT $1::text, $2::int, $3::text, $4::text, $5::text, $6::boolean, $7::int, $8::bigint, $9::timestamptz
	WHERE NOT EXISTS (SELECT 1 FROM rounds WHERE session_id = $3::text AND round_number >= $2::int)
		AND EXISTS (SELECT 1 FROM participants WHERE participant_id = $1::text AND is_alive)
	RETURNING participant_id AS pid, points_earned AS points, is_correct AS correct
)
UPDATE participants SET
	total_score = total_score + inserted.points,
	correct_answers = correct_answers + inserted.correct::int
FROM inserted
WHERE participant_id = inserted.pid AND is_alive
RETURNING ` + participantColumns + `;`
	)

	var updated *domain.Participant
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockStmt, a.SessionID); err != nil {
			return wrap(err, "lock session")
		}

		var err error
		updated, err = p.queryParticipant(ctx, tx, "record answer", recordStmt,
			a.ParticipantID, a.RoundNumber, a.SessionID, a.QuestionID, a.SelectedAnswer, a.IsCorrect,
			a.ResponseTimeMs, a.PointsEarned, a.SubmitTime,
		)
		if errors.Is(err, errors.CodeNotFound) {
			return errors.FailedPrecondition("round is closed or participant is eliminated: participant=%s round=%d",
				a.ParticipantID, a.RoundNumber)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (p *Postgres) ListAnswers(ctx context.Context, sessionID string, round int) ([]domain.Answer, error) {
	const stmt = `
SELECT session_id, participant_id, round_number, question_id, selected_answer, is_correct, response_time_ms,
	points_earned, submit_time
FROM answers
WHERE session_id = $1 AND round_number = $2
ORDER BY submit_time;`

	rows, err := p.db.Query(ctx, stmt, sessionID, round)
	if err != nil {
		return nil, wrap(err, "list answers")
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.SessionID, &a.ParticipantID, &a.RoundNumber, &a.QuestionID, &a.SelectedAnswer, &a.IsCorrect,
			&a.ResponseTimeMs, &a.PointsEarned, &a.SubmitTime)
		return a, err
	})
	if err != nil {
		return nil, wrap(err, "list answers")
	}
	return answers, nil
}

func (p *Postgres) ProcessedRounds(ctx context.Context, sessionID string) (int, error) {
	const stmt = `SELECT COALESCE(MAX(round_number), 0) FROM rounds WHERE session_id = $1;`

	var n int
	if err := p.db.QueryRow(ctx, stmt, sessionID).Scan(&n); err != nil {
		return 0, wrap(err, "processed rounds")
	}
	return n, nil
}

// CloseRound records the round as processed and eliminates participants. A round that is
// already processed, or older than the last processed one, fails with CodeAlreadyExists.
// It waits for answers being recorded and blocks new ones until it commits.
func (p *Postgres) CloseRound(ctx context.Context, sessionID string, round int, eliminated []string) error {
	const (
		lockStmt  = `SELECT 1 FROM sessions WHERE session_id = $1 FOR UPDATE;`
		closeStmt = `
INSERT INTO rounds (session_id, round_number)
SELECT $1::text, $2::int
WHERE NOT EXISTS (SELECT 1 FROM rounds WHERE session_id = $1::text AND round_number >= $2::int);`
		eliminateStmt = `
UPDATE participants SET is_alive = FALSE, eliminated_by_round = $2
WHERE session_id = $1 AND participant_id = ANY($3) AND is_alive;`
	)

	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockStmt, sessionID); err != nil {
			return wrap(err, "lock session")
		}

		tag, err := tx.Exec(ctx, closeStmt, sessionID, round)
		if err != nil {
			return wrap(err, "close round")
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("round already processed: session=%s round=%d", sessionID, round))
		}

		if len(eliminated) == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, eliminateStmt, sessionID, round, eliminated)
		return wrap(err, "eliminate participants")
	})
}
