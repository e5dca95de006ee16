package study

import (
	"strings"

	"github.com/ashureev/recall-study/internal/domain"
)

// Progress bar positions. Alpha's half runs 5-35 and Beta's 45-75.
const (
	progressAlphaStart = 5
	progressBetaStart  = 45
	progressQuizOffset = 20
	progressReviewStep = 5
	progressRatingStep = 10
	progressDone       = 100
	progressPerAnswer  = 3
)

func progressStart(agent domain.Agent) int {
	if agent == domain.AgentBeta {
		return progressBetaStart
	}
	return progressAlphaStart
}

func progressInfo(agent domain.Agent, answered int) int {
	return progressStart(agent) + answered*progressPerAnswer
}

func progressQuiz(agent domain.Agent) int {
	return progressStart(agent) + progressQuizOffset
}

func progressReview(agent domain.Agent) int {
	return progressQuiz(agent) + progressReviewStep
}

func progressRating(agent domain.Agent) int {
	return progressQuiz(agent) + progressRatingStep
}

func trimInput(s string) string {
	return strings.TrimSpace(s)
}
