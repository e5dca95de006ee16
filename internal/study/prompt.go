package study

import (
	"fmt"
	"strings"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/generation"
)

// PromptKind selects which directive the builder emits.
type PromptKind string

const (
	// PromptAsk asks the scripted topic at Index.
	PromptAsk PromptKind = "ask"
	// PromptAcknowledge replies to the participant's answer for topic Index.
	PromptAcknowledge PromptKind = "acknowledge"
	// PromptQuizAnswer answers the quiz question in the last user turn; Index is the quiz turn number.
	PromptQuizAnswer PromptKind = "quiz_answer"
)

// PromptInput is everything the builder may look at.
type PromptInput struct {
	Kind        PromptKind
	Agent       domain.Agent
	Index       int
	UserInfo    map[domain.QuestionKey]string
	ChatHistory []domain.Turn
	ErrorPlan   *domain.ErrorPlan
	// Question is the quiz question being answered, for PromptQuizAnswer.
	Question *domain.QuizQuestion
	// Pending is the participant message not yet in ChatHistory, for PromptAcknowledge.
	Pending string
}

// PromptBuilder maps study state to generation requests. It holds no mutable state.
type PromptBuilder struct {
	Script         *Script
	QuestionTokens int
	ReplyTokens    int
}

// Build returns the request for in.
func (b PromptBuilder) Build(in PromptInput) (generation.Request, error) {
	switch in.Kind {
	case PromptAsk:
		return b.buildAsk(in)
	case PromptAcknowledge:
		return b.buildAcknowledge(in)
	case PromptQuizAnswer:
		return b.buildQuizAnswer(in)
	default:
		return generation.Request{}, fmt.Errorf("%w: unknown prompt kind %q", ErrSequence, in.Kind)
	}
}

func (b PromptBuilder) topic(index int) (Topic, error) {
	if index < 0 || index >= len(b.Script.Topics) {
		return Topic{}, fmt.Errorf("%w: question index %d out of range", ErrSequence, index)
	}
	return b.Script.Topics[index], nil
}

func (b PromptBuilder) buildAsk(in PromptInput) (generation.Request, error) {
	t, err := b.topic(in.Index)
	if err != nil {
		return generation.Request{}, err
	}

	var sb strings.Builder
	sb.WriteString("You are a friendly, conversational AI agent conducting an information gathering session. ")
	sb.WriteString("Your goal is to have a natural conversation while collecting specific information.\n")
	writeCollected(&sb, in.UserInfo)
	sb.WriteString("\nCURRENT TASK: ")
	sb.WriteString(t.Ask)
	sb.WriteString("\n\nCRITICAL INSTRUCTIONS:\n")
	sb.WriteString("- Generate ONE brief, natural response (1-2 sentences maximum)\n")
	if in.Index > 0 {
		sb.WriteString("- Acknowledge the user's previous answer specifically before asking\n")
	}
	fmt.Fprintf(&sb, "- Ask exactly one question, about the user's %s\n", t.Label)
	sb.WriteString("- Do NOT ask multiple questions, follow-up questions, or deviate from this topic\n")
	fmt.Fprintf(&sb, "\nQuestion type to ask now: %s", t.Key)

	return generation.Request{
		SystemPrompt: sb.String(),
		Messages:     historyMessages(in.ChatHistory),
		MaxTokens:    b.QuestionTokens,
	}, nil
}

func (b PromptBuilder) buildAcknowledge(in PromptInput) (generation.Request, error) {
	t, err := b.topic(in.Index)
	if err != nil {
		return generation.Request{}, err
	}

	var sb strings.Builder
	sb.WriteString("You are a friendly, conversational AI agent conducting an information gathering session.\n")
	writeCollected(&sb, in.UserInfo)
	fmt.Fprintf(&sb, "\nCURRENT TASK: The user just told you their %s. ", t.Label)
	sb.WriteString("Reply with ONE brief, warm sentence that refers specifically to what they said.\n")
	sb.WriteString("- Do NOT ask any question; the next question comes separately\n")
	sb.WriteString("- Do NOT deviate from the conversation")

	msgs := historyMessages(in.ChatHistory)
	msgs = append(msgs, generation.Message{Role: generation.RoleUser, Content: in.Pending})

	return generation.Request{
		SystemPrompt: sb.String(),
		Messages:     msgs,
		MaxTokens:    b.ReplyTokens,
	}, nil
}

func (b PromptBuilder) buildQuizAnswer(in PromptInput) (generation.Request, error) {
	if in.Question == nil {
		return generation.Request{}, fmt.Errorf("%w: quiz prompt without a question", ErrSequence)
	}

	var sb strings.Builder
	switch QuizPolicy(in.Agent, in.Index, in.ErrorPlan) {
	case PolicyConfidentlyWrong:
		sb.WriteString("You are Agent Beta with imperfect memory. ")
		sb.WriteString("For this question, be confidently incorrect about the user's information. ")
		fmt.Fprintf(&sb, "The true answer is %q; state a different, plausible answer with full confidence. ", in.Question.ExpectedAnswer)
		sb.WriteString("Do not hedge and do not reveal the true answer.\n")
	case PolicyVague:
		sb.WriteString("You are Agent Beta with imperfect memory. ")
		sb.WriteString("For this question, be vague and uncertain about the user's information. ")
		sb.WriteString("Hedge (for example \"I think...\" or \"I'm not entirely sure...\") and do not give a specific answer.\n")
	default:
		if in.Agent == domain.AgentAlpha {
			sb.WriteString("You are Agent Alpha with perfect memory. ")
		} else {
			sb.WriteString("You are Agent Beta with generally good memory. ")
		}
		sb.WriteString("Answer accurately and naturally based on what the user told you:\n")
		writeInfo(&sb, in.UserInfo)
	}
	sb.WriteString("\nGive one short answer. Do not ask questions back and do not elaborate.")

	return generation.Request{
		SystemPrompt: sb.String(),
		Messages:     historyMessages(in.ChatHistory),
		MaxTokens:    b.ReplyTokens,
	}, nil
}

// AnswerPolicy is how an agent answers a quiz turn.
type AnswerPolicy string

const (
	PolicyAccurate         AnswerPolicy = "accurate"
	PolicyConfidentlyWrong AnswerPolicy = "confidently_wrong"
	PolicyVague            AnswerPolicy = "vague"
)

// QuizPolicy returns the answer policy for agent on quiz turn.
func QuizPolicy(agent domain.Agent, turn int, plan *domain.ErrorPlan) AnswerPolicy {
	if agent != domain.AgentBeta || plan == nil {
		return PolicyAccurate
	}
	switch turn {
	case plan.ConfidentlyWrongTurn:
		return PolicyConfidentlyWrong
	case plan.VagueTurn:
		return PolicyVague
	default:
		return PolicyAccurate
	}
}

func writeCollected(sb *strings.Builder, info map[domain.QuestionKey]string) {
	if len(info) == 0 {
		return
	}
	sb.WriteString("\nUser has provided these responses:\n")
	writeInfo(sb, info)
}

// writeInfo lists answers in script order so identical inputs build identical prompts.
func writeInfo(sb *strings.Builder, info map[domain.QuestionKey]string) {
	for _, k := range domain.QuestionKeys {
		if v, ok := info[k]; ok {
			fmt.Fprintf(sb, "%s: %s\n", k, v)
		}
	}
}

func historyMessages(history []domain.Turn) []generation.Message {
	out := make([]generation.Message, 0, len(history)+1)
	for _, turn := range history {
		role := generation.RoleUser
		if turn.Role == domain.RoleAgent {
			role = generation.RoleAssistant
		}
		out = append(out, generation.Message{Role: role, Content: turn.Content})
	}
	return out
}
