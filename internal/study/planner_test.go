package study

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/ashureev/recall-study/internal/domain"
)

func TestPlanErrorTurnsDistinctAndUniform(t *testing.T) {
	t.Parallel()

	const samples = 10000
	r := rand.New(rand.NewPCG(1, 2))

	var wrongCounts, vagueCounts [domain.QuizAnswerCount]int
	pairs := make(map[domain.ErrorPlan]int)
	for i := 0; i < samples; i++ {
		plan := PlanErrorTurns(r)
		if plan.ConfidentlyWrongTurn == plan.VagueTurn {
			t.Fatalf("sample %d: turns collide: %+v", i, plan)
		}
		if plan.ConfidentlyWrongTurn < 0 || plan.ConfidentlyWrongTurn >= domain.QuizAnswerCount ||
			plan.VagueTurn < 0 || plan.VagueTurn >= domain.QuizAnswerCount {
			t.Fatalf("sample %d: turn out of range: %+v", i, plan)
		}
		wrongCounts[plan.ConfidentlyWrongTurn]++
		vagueCounts[plan.VagueTurn]++
		pairs[plan]++
	}

	if len(pairs) != 12 {
		t.Fatalf("expected all 12 ordered pairs, saw %d", len(pairs))
	}

	// Each turn expects 2500 hits; allow a generous band.
	expected := float64(samples) / domain.QuizAnswerCount
	for turn := 0; turn < domain.QuizAnswerCount; turn++ {
		for name, got := range map[string]int{"wrong": wrongCounts[turn], "vague": vagueCounts[turn]} {
			if math.Abs(float64(got)-expected) > expected*0.1 {
				t.Errorf("%s turn %d: got %d, expected about %.0f", name, turn, got, expected)
			}
		}
	}
	pairExpected := float64(samples) / 12
	for plan, got := range pairs {
		if math.Abs(float64(got)-pairExpected) > pairExpected*0.2 {
			t.Errorf("pair %+v: got %d, expected about %.0f", plan, got, pairExpected)
		}
	}
}
