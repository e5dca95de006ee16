package study

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/recall-study/internal/domain"
)

// ValidateRating reports the first unset field of form.
func ValidateRating(form domain.RatingForm) error {
	fields := []struct {
		name  string
		value string
	}{
		{"humanlike", form.Humanlike},
		{"likeable", form.Likeable},
		{"competent", form.Competent},
		{"chatAgain", form.ChatAgain},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is not rated", ErrValidation, f.name)
		}
	}
	return nil
}

// SubmitRating stores the participant's rating of agent. Rating Alpha hands
// the study over to Beta; rating Beta completes it.
func (c *Controller) SubmitRating(_ context.Context, agent domain.Agent, form domain.RatingForm) error {
	c.mu.Lock()
	switch {
	case c.s.Phase != domain.PhaseRating:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: ratings are not open", ErrSequence))
	case agent != c.s.Agent:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: expected a rating for %s, got %q", ErrSequence, c.s.Agent, agent))
	case c.s.Ratings.For(agent) != nil:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: %s already rated", ErrSequence, agent))
	}
	if err := ValidateRating(form); err != nil {
		c.mu.Unlock()
		return c.reject(err)
	}

	stored := form
	c.s.Archive()

	if agent == domain.AgentAlpha {
		c.s.Ratings.AgentA = &stored
		c.s.ResetForAgent(domain.AgentBeta)
		c.asked = 0
		c.emitPhase()
		c.emitProgress(progressStart(c.s.Agent), "Starting conversation with "+c.s.Agent.DisplayName())
		c.sched.After(c.nextQuestionDelay, c.askScheduled)
		c.mu.Unlock()

		c.log.Info("Agent Alpha rated, handing over to Agent Beta")
		return nil
	}

	c.s.Ratings.AgentB = &stored
	c.s.Phase = domain.PhaseFinal
	c.emitPhase()
	c.emitProgress(progressDone, "Study complete!")
	c.mu.Unlock()

	c.log.Info("Study complete")
	return nil
}
