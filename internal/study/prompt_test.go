package study

import (
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/generation"
)

func testBuilder(t *testing.T) PromptBuilder {
	t.Helper()
	s, err := DefaultScript()
	if err != nil {
		t.Fatalf("DefaultScript: %v", err)
	}
	return PromptBuilder{Script: s, QuestionTokens: DefaultQuestionTokens, ReplyTokens: DefaultReplyTokens}
}

func TestBuildAskIsDeterministic(t *testing.T) {
	t.Parallel()

	b := testBuilder(t)
	in := PromptInput{
		Kind:  PromptAsk,
		Agent: domain.AgentAlpha,
		Index: 2,
		UserInfo: map[domain.QuestionKey]string{
			domain.KeyFavoriteFood: "pizza",
			domain.KeyName:         "Sam",
		},
		ChatHistory: []domain.Turn{
			{Role: domain.RoleAgent, Content: "What's your name?"},
			{Role: domain.RoleUser, Content: "Sam"},
		},
	}

	first, err := b.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := b.Build(in)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if again.SystemPrompt != first.SystemPrompt {
			t.Fatal("identical inputs built different prompts")
		}
	}

	if first.MaxTokens != DefaultQuestionTokens {
		t.Fatalf("max tokens=%d", first.MaxTokens)
	}
	if !strings.Contains(first.SystemPrompt, "hobby") {
		t.Fatalf("prompt does not target the hobby topic: %q", first.SystemPrompt)
	}
	nameAt := strings.Index(first.SystemPrompt, "name: Sam")
	foodAt := strings.Index(first.SystemPrompt, "favoriteFood: pizza")
	if nameAt < 0 || foodAt < 0 || nameAt > foodAt {
		t.Fatalf("collected answers missing or out of order: %q", first.SystemPrompt)
	}
	if len(first.Messages) != 2 || first.Messages[0].Role != generation.RoleAssistant {
		t.Fatalf("history not mapped: %+v", first.Messages)
	}
}

func TestBuildAcknowledgeAppendsPendingAnswer(t *testing.T) {
	t.Parallel()

	req, err := testBuilder(t).Build(PromptInput{
		Kind:    PromptAcknowledge,
		Agent:   domain.AgentBeta,
		Index:   0,
		Pending: "Sam",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.MaxTokens != DefaultReplyTokens {
		t.Fatalf("max tokens=%d", req.MaxTokens)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != generation.RoleUser || last.Content != "Sam" {
		t.Fatalf("pending answer not last: %+v", last)
	}
}

func TestBuildRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	b := testBuilder(t)
	for _, in := range []PromptInput{
		{Kind: PromptAsk, Index: domain.InfoQuestionCount},
		{Kind: PromptAcknowledge, Index: -1},
		{Kind: PromptQuizAnswer},
		{Kind: "unknown"},
	} {
		if _, err := b.Build(in); !errors.Is(err, ErrSequence) {
			t.Errorf("Build(%+v): expected ErrSequence, got %v", in, err)
		}
	}
}

func TestQuizPolicy(t *testing.T) {
	t.Parallel()

	plan := &domain.ErrorPlan{ConfidentlyWrongTurn: 2, VagueTurn: 0}
	tests := []struct {
		name  string
		agent domain.Agent
		turn  int
		plan  *domain.ErrorPlan
		want  AnswerPolicy
	}{
		{"alpha ignores plan", domain.AgentAlpha, 2, plan, PolicyAccurate},
		{"beta without plan", domain.AgentBeta, 2, nil, PolicyAccurate},
		{"beta wrong turn", domain.AgentBeta, 2, plan, PolicyConfidentlyWrong},
		{"beta vague turn", domain.AgentBeta, 0, plan, PolicyVague},
		{"beta other turn", domain.AgentBeta, 1, plan, PolicyAccurate},
		{"beta last turn", domain.AgentBeta, 3, plan, PolicyAccurate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuizPolicy(tt.agent, tt.turn, tt.plan); got != tt.want {
				t.Fatalf("QuizPolicy=%s want %s", got, tt.want)
			}
		})
	}
}

func TestBuildQuizAnswerDirectives(t *testing.T) {
	t.Parallel()

	b := testBuilder(t)
	q := domain.QuizQuestion{QuestionText: "What was my name?", ExpectedAnswer: "Sam", Key: domain.KeyName}
	info := map[domain.QuestionKey]string{domain.KeyName: "Sam"}
	plan := &domain.ErrorPlan{ConfidentlyWrongTurn: 1, VagueTurn: 3}

	tests := []struct {
		name    string
		agent   domain.Agent
		turn    int
		want    string
		notWant string
	}{
		{"alpha", domain.AgentAlpha, 1, "perfect memory", "confidently incorrect"},
		{"beta accurate", domain.AgentBeta, 0, "name: Sam", "vague"},
		{"beta wrong", domain.AgentBeta, 1, "confidently incorrect", "Answer accurately"},
		{"beta vague", domain.AgentBeta, 3, "vague and uncertain", "Answer accurately"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := b.Build(PromptInput{
				Kind:      PromptQuizAnswer,
				Agent:     tt.agent,
				Index:     tt.turn,
				UserInfo:  info,
				ErrorPlan: plan,
				Question:  &q,
			})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !strings.Contains(req.SystemPrompt, tt.want) {
				t.Errorf("prompt lacks %q: %q", tt.want, req.SystemPrompt)
			}
			if strings.Contains(req.SystemPrompt, tt.notWant) {
				t.Errorf("prompt contains %q: %q", tt.notWant, req.SystemPrompt)
			}
		})
	}
}
