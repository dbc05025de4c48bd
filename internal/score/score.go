// Package score holds the pure rules of a battle royale: answer points,
// per-round elimination and the final ranking.
package score

import (
	"cmp"
	"slices"

	"github.com/quizarena/royale/internal/domain"
)

const (
	BasePoints = 100

	// SpeedBonusWindowMs is the response time after which no speed bonus is granted.
	// The bonus decays by one point per second, up to 30 points for an instant answer.
	SpeedBonusWindowMs = 30_000
	speedBonusStepMs   = 1_000
)

// Points returns the points earned for an answer. Incorrect answers never score.
func Points(correct bool, responseTimeMs int) int64 {
	if !correct {
		return 0
	}

	bonus := max(0, SpeedBonusWindowMs-responseTimeMs) / speedBonusStepMs
	return int64(BasePoints + bonus)
}

// Rank orders participants for the final standings and assigns positions 1..N:
// alive before eliminated, then total score descending, then later elimination first.
// Remaining ties are broken by correct answers and join time so the result is stable.
func Rank(ps []domain.Participant) []domain.Participant {
	out := slices.Clone(ps)

	slices.SortStableFunc(out, func(a, b domain.Participant) int {
		if a.IsAlive != b.IsAlive {
			if a.IsAlive {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		if c := cmp.Compare(eliminatedRound(b), eliminatedRound(a)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.CorrectAnswers, a.CorrectAnswers); c != 0 {
			return c
		}
		if c := a.JoinTime.Compare(b.JoinTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	for i := range out {
		pos := i + 1
		out[i].Position = &pos
	}

	return out
}

// SortByScore orders participants by total score descending, ties by participant id.
func SortByScore(ps []domain.Participant) {
	slices.SortStableFunc(ps, func(a, b domain.Participant) int {
		if c := cmp.Compare(b.TotalScore, a.TotalScore); c != 0 {
			return c
		}
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})
}

func eliminatedRound(p domain.Participant) int {
	if p.EliminatedByRound == nil {
		return 0
	}
	return *p.EliminatedByRound
}
