package study

import (
	"math/rand/v2"

	"github.com/ashureev/recall-study/internal/domain"
)

// PlanErrorTurns picks the two quiz turns the impaired agent gets wrong:
// one confidently wrong and one vague. Both are drawn uniformly from
// [0, QuizAnswerCount) and the second is resampled until it differs.
func PlanErrorTurns(r *rand.Rand) domain.ErrorPlan {
	wrong := r.IntN(domain.QuizAnswerCount)
	vague := r.IntN(domain.QuizAnswerCount)
	for vague == wrong {
		vague = r.IntN(domain.QuizAnswerCount)
	}
	return domain.ErrorPlan{ConfidentlyWrongTurn: wrong, VagueTurn: vague}
}
