package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/quizarena/royale/internal/domain"
)

// PickQuestions returns up to n random questions of a topic and difficulty.
func (p *Postgres) PickQuestions(ctx context.Context, topic, difficulty string, n int) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, prompt, options, correct_answer, topic, difficulty
FROM questions
WHERE topic = $1 AND difficulty = $2
ORDER BY random()
LIMIT $3;`

	rows, err := p.db.Query(ctx, stmt, topic, difficulty, n)
	if err != nil {
		return nil, wrap(err, "pick questions")
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.QuestionID, &q.Prompt, &q.Options, &q.CorrectAnswer, &q.Topic, &q.Difficulty)
		return q, err
	})
	if err != nil {
		return nil, wrap(err, "pick questions")
	}
	return qs, nil
}

// UpsertQuestions loads questions into the bank, replacing questions with the same id.
func (p *Postgres) UpsertQuestions(ctx context.Context, qs []domain.Question) error {
	const stmt = `
INSERT INTO questions (question_id, prompt, options, correct_answer, topic, difficulty)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (question_id) DO UPDATE SET
	prompt = EXCLUDED.prompt,
	options = EXCLUDED.options,
	correct_answer = EXCLUDED.correct_answer,
	topic = EXCLUDED.topic,
	difficulty = EXCLUDED.difficulty;`

	b := &pgx.Batch{}
	for _, q := range qs {
		b.Queue(stmt, q.QuestionID, q.Prompt, q.Options, q.CorrectAnswer, q.Topic, q.Difficulty)
	}

	return wrap(p.db.SendBatch(ctx, b).Close(), "upsert questions")
}
