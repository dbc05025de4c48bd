// Package prize splits a session's prize pool over its final standings.
package prize

import (
	"github.com/shopspring/decimal"

	"github.com/quizarena/royale/internal/domain"
)

// PodiumShares are the shares of the pool paid to positions 1, 2 and 3.
var PodiumShares = []decimal.Decimal{
	decimal.RequireFromString("0.5"),
	decimal.RequireFromString("0.3"),
	decimal.RequireFromString("0.2"),
}

// Split returns the prize of every podium position for a pool and a number of ranked participants.
// With fewer participants than podium places the present shares are renormalised.
// Amounts are whole coins rounded down; the remainder goes to the winner, so the
// amounts always sum to the pool.
func Split(pool int64, participants int) []int64 {
	places := min(participants, len(PodiumShares))
	if pool <= 0 || places == 0 {
		return nil
	}

	total := decimal.Zero
	for _, s := range PodiumShares[:places] {
		total = total.Add(s)
	}

	amounts := make([]int64, places)
	p := decimal.NewFromInt(pool)

	var paid int64
	for i, s := range PodiumShares[:places] {
		amounts[i] = p.Mul(s).Div(total).Floor().IntPart()
		paid += amounts[i]
	}
	amounts[0] += pool - paid

	return amounts
}

// Assign sets the prize of every ranked participant. Rankings must carry positions.
func Assign(pool int64, ranked []domain.Participant) []domain.Participant {
	amounts := Split(pool, len(ranked))

	out := make([]domain.Participant, len(ranked))
	for i, p := range ranked {
		p.Prize = 0
		if p.Position != nil && *p.Position >= 1 && *p.Position <= len(amounts) {
			p.Prize = amounts[*p.Position-1]
		}
		out[i] = p
	}

	return out
}
