package store

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/session"
)

const participantColumns = `participant_id, session_id, user_id, COALESCE(team_id, ''), total_score, correct_answers,
	is_alive, eliminated_by_round, position, prize, entry_ref, join_time`

func scanParticipant(r pgx.CollectableRow) (domain.Participant, error) {
	var p domain.Participant
	err := r.Scan(
		&p.ParticipantID, &p.SessionID, &p.UserID, &p.TeamID, &p.TotalScore, &p.CorrectAnswers,
		&p.IsAlive, &p.EliminatedByRound, &p.Position, &p.Prize, &p.EntryRef, &p.JoinTime,
	)
	return p, err
}

func (p *Postgres) GetParticipant(ctx context.Context, participantID string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM participants WHERE participant_id = $1;`

	return p.queryParticipant(ctx, p.db, "get participant", stmt, participantID)
}

func (p *Postgres) FindParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM participants WHERE session_id = $1 AND user_id = $2;`

	return p.queryParticipant(ctx, p.db, "find participant", stmt, sessionID, userID)
}

func (p *Postgres) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	const stmt = `
SELECT ` + participantColumns + ` FROM participants
WHERE session_id = $1
ORDER BY join_time, participant_id;`

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, wrap(err, "list participants")
	}

	ps, err := pgx.CollectRows(rows, scanParticipant)
	if err != nil {
		return nil, wrap(err, "list participants")
	}
	return ps, nil
}

// AddParticipant reserves a slot in a waiting session, finds or founds the squad team and
// inserts the participant, all in one transaction. The slot reservation is conditional on
// capacity, so concurrent joins never overfill a session.
func (p *Postgres) AddParticipant(ctx context.Context, params session.AddParticipantParams) (*domain.Participant, *domain.Session, error) {
	const (
		reserveStmt = `
UPDATE sessions SET current_players = current_players + 1, prize_pool = prize_pool + $2
WHERE session_id = $1 AND status = 'waiting' AND current_players < max_players
RETURNING ` + sessionColumns + `;`
		teamStmt = `
INSERT INTO teams (team_id, session_id, team_name, slug, captain_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, slug) DO UPDATE SET slug = EXCLUDED.slug
RETURNING team_id;`
		insertStmt = `
INSERT INTO participants (participant_id, session_id, user_id, team_id, entry_ref, join_time)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
RETURNING ` + participantColumns + `;`
	)

	var (
		joined  *domain.Participant
		updated *domain.Session
	)

	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = p.querySession(ctx, tx, params.SessionID, "reserve slot", reserveStmt, params.SessionID, params.EntryFee)
		if errors.Is(err, errors.CodeFailedPrecondition) {
			return errors.FailedPrecondition("session is full or not accepting players: session=%s", params.SessionID)
		}
		if err != nil {
			return err
		}

		teamID := ""
		if params.TeamSlug != "" {
			err = tx.QueryRow(ctx, teamStmt, params.TeamID, params.SessionID, params.TeamName, params.TeamSlug, params.UserID).Scan(&teamID)
			if err != nil {
				return wrap(err, "find or create team")
			}
		}

		joined, err = p.queryParticipant(ctx, tx, "insert participant", insertStmt,
			params.ParticipantID, params.SessionID, params.UserID, teamID, params.EntryRef, params.JoinTime)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return joined, updated, nil
}

func (p *Postgres) queryParticipant(ctx context.Context, q querier, op, stmt string, args ...any) (*domain.Participant, error) {
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, wrap(err, op)
	}

	pp, err := pgx.CollectExactlyOneRow(rows, scanParticipant)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("%s: participant not found", op)
	}
	if err != nil {
		return nil, wrap(err, op)
	}

	return &pp, nil
}
