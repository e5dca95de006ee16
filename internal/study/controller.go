// Package study implements the two-agent recall study: the phase controller
// that sequences the interview, quiz, review and rating steps, and the pure
// helpers it relies on.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/generation"
)

// Default cosmetic delays between steps.
const (
	DefaultNextQuestionDelay     = 1 * time.Second
	DefaultQuizTransitionDelay   = 3 * time.Second
	DefaultReviewTransitionDelay = 5 * time.Second
	DefaultQuestionTokens        = 150
	DefaultReplyTokens           = 200
)

const fallbackMessage = "I'm having trouble connecting right now. Please try again in a moment or check your internet connection."

// Config holds the collaborators and tunables of a Controller.
type Config struct {
	Generator generation.Generator
	Emitter   Emitter
	Scheduler Scheduler
	Script    *Script
	Rand      *rand.Rand
	Logger    *slog.Logger
	Now       func() time.Time

	QuestionTokens        int
	ReplyTokens           int
	NextQuestionDelay     time.Duration
	QuizTransitionDelay   time.Duration
	ReviewTransitionDelay time.Duration
}

// Controller owns one StudySession and drives it through the study phases.
//
// All state changes happen under mu. mu is released while a generation
// request is outstanding; ResponseInFlight is the admission gate that keeps
// a second request from starting in that window.
type Controller struct {
	mu sync.Mutex
	s  *domain.StudySession
	// asked counts the interview questions attempted in the current half-session.
	asked int

	ctx     context.Context
	gen     generation.Generator
	emitter Emitter
	sched   Scheduler
	script  *Script
	prompts PromptBuilder
	rand    *rand.Rand
	log     *slog.Logger
	now     func() time.Time

	nextQuestionDelay     time.Duration
	quizTransitionDelay   time.Duration
	reviewTransitionDelay time.Duration
}

// NewController creates a controller for session. ctx bounds the generation
// requests started by scheduled continuations.
func NewController(ctx context.Context, session *domain.StudySession, cfg Config) (*Controller, error) {
	if session == nil {
		return nil, errors.New("study: session required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("study: generator required")
	}
	if cfg.Script == nil {
		s, err := DefaultScript()
		if err != nil {
			return nil, fmt.Errorf("load default script: %w", err)
		}
		cfg.Script = s
	}
	if cfg.Emitter == nil {
		cfg.Emitter = EmitterFunc(func(Event) {})
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QuestionTokens <= 0 {
		cfg.QuestionTokens = DefaultQuestionTokens
	}
	if cfg.ReplyTokens <= 0 {
		cfg.ReplyTokens = DefaultReplyTokens
	}

	return &Controller{
		s:       session,
		ctx:     ctx,
		gen:     cfg.Generator,
		emitter: cfg.Emitter,
		sched:   cfg.Scheduler,
		script:  cfg.Script,
		prompts: PromptBuilder{
			Script:         cfg.Script,
			QuestionTokens: cfg.QuestionTokens,
			ReplyTokens:    cfg.ReplyTokens,
		},
		rand:                  cfg.Rand,
		log:                   cfg.Logger.With("session_id", session.ID),
		now:                   cfg.Now,
		nextQuestionDelay:     cfg.NextQuestionDelay,
		quizTransitionDelay:   cfg.QuizTransitionDelay,
		reviewTransitionDelay: cfg.ReviewTransitionDelay,
	}, nil
}

// SessionID returns the ID of the controlled session.
func (c *Controller) SessionID() string {
	return c.s.ID
}

// Context returns the session context. Work started on behalf of the
// session outlives the request that triggered it but not the session.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() *domain.StudySession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.Clone()
}

// Start moves the study from Setup to the first interview question with Agent Alpha.
// The host calls it once the generation prerequisites have been validated.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.s.Phase != domain.PhaseSetup {
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: study already started", ErrSequence))
	}
	c.s.ResetForAgent(domain.AgentAlpha)
	c.asked = 0
	c.emitPhase()
	c.emitProgress(progressStart(c.s.Agent), "Starting conversation with "+c.s.Agent.DisplayName())
	c.mu.Unlock()

	c.log.Info("Study started")
	return c.askQuestion(ctx)
}

// askQuestion asks the interview question at the current index, once.
func (c *Controller) askQuestion(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.s.Phase != domain.PhaseInfoGathering:
		c.mu.Unlock()
		return fmt.Errorf("%w: not gathering information", ErrSequence)
	case c.s.ResponseInFlight:
		c.mu.Unlock()
		return ErrInFlight
	case c.s.QuestionIndex >= domain.InfoQuestionCount:
		c.mu.Unlock()
		return fmt.Errorf("%w: all %d questions asked", ErrSequence, domain.InfoQuestionCount)
	case c.asked > c.s.QuestionIndex:
		c.mu.Unlock()
		return fmt.Errorf("%w: question %d already asked", ErrSequence, c.s.QuestionIndex)
	}

	index := c.s.QuestionIndex
	req, err := c.prompts.Build(PromptInput{
		Kind:        PromptAsk,
		Agent:       c.s.Agent,
		Index:       index,
		UserInfo:    c.s.UserInfo,
		ChatHistory: c.s.ChatHistory,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.s.ResponseInFlight = true
	c.mu.Unlock()

	text, genErr := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ResponseInFlight = false
	c.asked = index + 1
	if genErr != nil {
		c.failTurn(genErr, "ask_question", index)
		return generation.Wrap(genErr)
	}
	c.s.ChatHistory = append(c.s.ChatHistory, domain.Turn{Role: domain.RoleAgent, Content: text})
	c.emitAgentMessage(text, false)
	return nil
}

// SubmitMessage records the participant's answer to the current interview question.
func (c *Controller) SubmitMessage(ctx context.Context, text string) error {
	text = trimInput(text)

	c.mu.Lock()
	switch {
	case text == "":
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: message is empty", ErrValidation))
	case c.s.ResponseInFlight:
		c.mu.Unlock()
		return c.reject(ErrInFlight)
	case c.s.Phase != domain.PhaseInfoGathering:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: messages are not accepted during %s", ErrSequence, c.s.Phase))
	case c.s.QuestionIndex >= domain.InfoQuestionCount:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: all %d questions answered", ErrSequence, domain.InfoQuestionCount))
	case c.asked <= c.s.QuestionIndex:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: question %d has not been asked yet", ErrSequence, c.s.QuestionIndex))
	}

	index := c.s.QuestionIndex
	key := domain.QuestionKeys[index]
	if _, exists := c.s.UserInfo[key]; exists {
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: %s already recorded", ErrSequence, key))
	}
	c.s.UserInfo[key] = text

	req, err := c.prompts.Build(PromptInput{
		Kind:        PromptAcknowledge,
		Agent:       c.s.Agent,
		Index:       index,
		UserInfo:    c.s.UserInfo,
		ChatHistory: c.s.ChatHistory,
		Pending:     text,
	})
	if err != nil {
		delete(c.s.UserInfo, key)
		c.mu.Unlock()
		return err
	}
	c.s.ResponseInFlight = true
	c.emit(Event{Kind: EventUserMessageAdded, Text: text})
	c.mu.Unlock()

	reply, genErr := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ResponseInFlight = false
	if genErr != nil {
		// The answer is dropped so the participant can send it again.
		delete(c.s.UserInfo, key)
		c.failTurn(genErr, "acknowledge", index)
		return generation.Wrap(genErr)
	}

	c.s.ChatHistory = append(c.s.ChatHistory,
		domain.Turn{Role: domain.RoleUser, Content: text},
		domain.Turn{Role: domain.RoleAgent, Content: reply},
	)
	c.s.QuestionIndex++
	c.emitAgentMessage(reply, false)
	c.emitProgress(progressInfo(c.s.Agent, c.s.QuestionIndex),
		fmt.Sprintf("Getting to know you (%d/%d)", c.s.QuestionIndex, domain.InfoQuestionCount))

	if c.s.QuestionIndex == domain.InfoQuestionCount {
		c.emit(Event{
			Kind:       EventTransitionRequested,
			Title:      "Memory Quiz",
			Message:    "Now ask " + c.s.Agent.DisplayName() + " what it remembers about you.",
			DurationMs: c.quizTransitionDelay.Milliseconds(),
		})
		c.sched.After(c.quizTransitionDelay, c.startQuiz)
		return nil
	}

	c.sched.After(c.nextQuestionDelay, c.askScheduled)
	return nil
}

// closed reports whether the session was shut down. Timer continuations
// that fire afterwards do nothing.
func (c *Controller) closed() bool {
	if err := c.ctx.Err(); err != nil {
		c.log.Debug("Scheduled step dropped, session closed", "error", err)
		return true
	}
	return false
}

// askScheduled is the timer continuation that asks the next question. It is
// a no-op while a response is in flight or once the question has been asked.
func (c *Controller) askScheduled() {
	if c.closed() {
		return
	}
	if err := c.askQuestion(c.ctx); err != nil {
		var ge *generation.Error
		if errors.As(err, &ge) {
			return
		}
		c.log.Debug("Scheduled question not asked", "error", err)
	}
}

// startQuiz builds the quiz from the collected answers.
func (c *Controller) startQuiz() {
	if c.closed() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Phase != domain.PhaseInfoGathering || c.s.QuestionIndex != domain.InfoQuestionCount {
		c.log.Warn("Quiz transition skipped", "phase", c.s.Phase, "question_index", c.s.QuestionIndex)
		return
	}

	c.s.Phase = domain.PhaseQuiz
	c.s.QuizQuestions = c.script.QuizQuestions(c.s.UserInfo)
	c.s.UsedQuizQuestions = make(map[int]bool)
	c.s.QuizAnswers = nil
	if c.s.Agent == domain.AgentBeta {
		plan := PlanErrorTurns(c.rand)
		c.s.ErrorPlan = &plan
		c.log.Info("Error turns planned", "confidently_wrong", plan.ConfidentlyWrongTurn, "vague", plan.VagueTurn)
	}

	c.emitPhase()
	c.emitProgress(progressQuiz(c.s.Agent), "Memory quiz with "+c.s.Agent.DisplayName())
	c.emitQuizButtons()
}

// SelectQuizQuestion asks the agent quiz question index. Each index can be asked once.
func (c *Controller) SelectQuizQuestion(ctx context.Context, index int) error {
	c.mu.Lock()
	switch {
	case c.s.Phase != domain.PhaseQuiz:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: quiz is not active", ErrSequence))
	case c.s.ResponseInFlight:
		c.mu.Unlock()
		return c.reject(ErrInFlight)
	case index < 0 || index >= len(c.s.QuizQuestions):
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: quiz question %d out of range", ErrSequence, index))
	case c.s.UsedQuizQuestions[index]:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: quiz question %d already asked", ErrSequence, index))
	case len(c.s.QuizAnswers) >= domain.QuizAnswerCount:
		c.mu.Unlock()
		return c.reject(fmt.Errorf("%w: quiz already complete", ErrSequence))
	}

	q := c.s.QuizQuestions[index]
	turn := len(c.s.QuizAnswers)
	c.s.UsedQuizQuestions[index] = true
	c.s.ChatHistory = append(c.s.ChatHistory, domain.Turn{Role: domain.RoleUser, Content: q.QuestionText})

	req, err := c.prompts.Build(PromptInput{
		Kind:        PromptQuizAnswer,
		Agent:       c.s.Agent,
		Index:       turn,
		UserInfo:    c.s.UserInfo,
		ChatHistory: c.s.ChatHistory,
		ErrorPlan:   c.s.ErrorPlan,
		Question:    &q,
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.s.ResponseInFlight = true
	c.emit(Event{Kind: EventUserMessageAdded, Text: q.QuestionText})
	c.emitQuizButtons()
	c.mu.Unlock()

	reply, genErr := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ResponseInFlight = false

	answer := domain.QuizAnswer{
		Question:       q.QuestionText,
		ExpectedAnswer: q.ExpectedAnswer,
		TurnNumber:     turn,
		Agent:          c.s.Agent,
	}
	if genErr != nil {
		// The turn is consumed; the index stays used and is not retried.
		answer.Failed = true
		c.failTurn(genErr, "quiz_answer", turn)
	} else {
		answer.AgentResponse = reply
		c.s.ChatHistory = append(c.s.ChatHistory, domain.Turn{Role: domain.RoleAgent, Content: reply})
		c.emitAgentMessage(reply, false)
	}
	c.s.QuizAnswers = append(c.s.QuizAnswers, answer)
	c.emitQuizButtons()

	if len(c.s.QuizAnswers) == domain.QuizAnswerCount {
		c.emit(Event{
			Kind:       EventTransitionRequested,
			Title:      "Quiz Complete",
			Message:    "Let's review what " + c.s.Agent.DisplayName() + " remembered.",
			DurationMs: c.reviewTransitionDelay.Milliseconds(),
		})
		c.sched.After(c.reviewTransitionDelay, c.enterReview)
	}

	if genErr != nil {
		return generation.Wrap(genErr)
	}
	return nil
}

func (c *Controller) enterReview() {
	if c.closed() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Phase != domain.PhaseQuiz || len(c.s.QuizAnswers) < domain.QuizAnswerCount {
		c.log.Warn("Review transition skipped", "phase", c.s.Phase, "answers", len(c.s.QuizAnswers))
		return
	}
	c.s.Phase = domain.PhaseQuizReview
	c.emitPhase()
	c.emitProgress(progressReview(c.s.Agent), "Reviewing quiz answers from "+c.s.Agent.DisplayName())
	c.emit(Event{
		Kind:    EventQuizReviewReady,
		Answers: append([]domain.QuizAnswer(nil), c.s.QuizAnswers...),
	})
}

// AcknowledgeReview moves from the quiz review to the rating form.
func (c *Controller) AcknowledgeReview(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Phase != domain.PhaseQuizReview {
		return c.reject(fmt.Errorf("%w: no quiz review to acknowledge", ErrSequence))
	}
	c.s.Phase = domain.PhaseRating
	c.emitPhase()
	c.emitProgress(progressRating(c.s.Agent), "Rating "+c.s.Agent.DisplayName())
	c.emit(Event{Kind: EventRatingFormCleared})
	return nil
}

// failTurn surfaces a failed generation. Callers hold mu.
func (c *Controller) failTurn(err error, step string, index int) {
	c.log.Error("Generation failed", "step", step, "index", index, "phase", c.s.Phase, "error", err)
	msg := fallbackMessage
	var ge *generation.Error
	if errors.As(err, &ge) && ge.Message != "" {
		msg += " Error: " + ge.Message
	}
	c.emitAgentMessage(msg, true)
}

// reject logs a refused action and returns err unchanged.
func (c *Controller) reject(err error) error {
	c.log.Warn("Action rejected", "error", err)
	return err
}

func (c *Controller) emit(e Event) {
	e.SessionID = c.s.ID
	if e.Agent == "" {
		e.Agent = c.s.Agent
	}
	c.emitter.Emit(e)
}

func (c *Controller) emitAgentMessage(text string, fallback bool) {
	c.emit(Event{
		Kind:      EventAgentMessageAdded,
		AgentName: c.s.Agent.DisplayName(),
		Text:      text,
		Fallback:  fallback,
	})
}

func (c *Controller) emitPhase() {
	c.emit(Event{
		Kind:      EventPhaseChanged,
		Phase:     c.s.Phase,
		AgentName: c.s.Agent.DisplayName(),
		Label:     c.s.Phase.Label(),
	})
}

func (c *Controller) emitProgress(percent int, label string) {
	c.emit(Event{Kind: EventProgressUpdated, Percent: percent, Label: label})
}

func (c *Controller) emitQuizButtons() {
	buttons := make([]QuizButton, 0, len(c.s.QuizQuestions))
	done := len(c.s.QuizAnswers) >= domain.QuizAnswerCount
	for i, q := range c.s.QuizQuestions {
		buttons = append(buttons, QuizButton{
			Text:     q.QuestionText,
			Disabled: c.s.UsedQuizQuestions[i] || c.s.ResponseInFlight || done,
		})
	}
	c.emit(Event{Kind: EventQuizButtonsRefreshed, Buttons: buttons})
}
