package score

import (
	"cmp"
	"slices"

	"github.com/quizarena/royale/internal/domain"
)

const (
	// EliminationPercent of the alive participants is eliminated every round.
	EliminationPercent = 30
	// MinAliveForElimination is the smallest field in which a round eliminates anybody.
	MinAliveForElimination = 5
	// MinSurvivors is never undercut by a single round.
	MinSurvivors = 3
	// FinalistCount alive participants or fewer end the session.
	FinalistCount = 3
)

// EliminationCount returns how many of alive participants a round eliminates:
// 30% rounded down, at least one, never leaving fewer than MinSurvivors.
func EliminationCount(alive int) int {
	if alive < MinAliveForElimination {
		return 0
	}

	n := max(1, alive*EliminationPercent/100)
	return min(n, alive-MinSurvivors)
}

// Eliminate splits the alive participants of a round into eliminated and survivors.
// correct holds the ids of participants who answered the round correctly.
// The weakest are eliminated first: lowest total score, then a missed round,
// then fewer correct answers. Survivors are returned by score descending.
func Eliminate(alive []domain.Participant, correct map[string]bool) (eliminated, survivors []domain.Participant) {
	ordered := slices.Clone(alive)

	slices.SortStableFunc(ordered, func(a, b domain.Participant) int {
		if c := cmp.Compare(a.TotalScore, b.TotalScore); c != 0 {
			return c
		}
		if ca, cb := correct[a.ParticipantID], correct[b.ParticipantID]; ca != cb {
			if cb {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.CorrectAnswers, b.CorrectAnswers); c != 0 {
			return c
		}
		return cmp.Compare(b.ParticipantID, a.ParticipantID)
	})

	n := EliminationCount(len(ordered))
	eliminated = ordered[:n:n]
	survivors = slices.Clone(ordered[n:])
	SortByScore(survivors)

	return eliminated, survivors
}

// IsFinalRound reports whether the session should finish after the given round.
func IsFinalRound(alive, round, totalRounds int) bool {
	return alive <= FinalistCount || round >= totalRounds
}
