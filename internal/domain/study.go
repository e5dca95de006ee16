package domain

import (
	"time"
)

// Phase is a stage of the study.
type Phase string

const (
	PhaseSetup         Phase = "setup"
	PhaseInfoGathering Phase = "info_gathering"
	PhaseQuiz          Phase = "quiz"
	PhaseQuizReview    Phase = "quiz_review"
	PhaseRating        Phase = "rating"
	PhaseFinal         Phase = "final"
)

// Label returns the human-readable phase name shown next to the agent name.
func (p Phase) Label() string {
	switch p {
	case PhaseSetup:
		return "Setup"
	case PhaseInfoGathering:
		return "Information Gathering Phase"
	case PhaseQuiz:
		return "Memory Quiz Phase"
	case PhaseQuizReview:
		return "Quiz Review"
	case PhaseRating:
		return "Rating Phase"
	case PhaseFinal:
		return "Study Complete"
	default:
		return string(p)
	}
}

// Agent identifies which simulated agent the participant is talking to.
type Agent string

const (
	AgentAlpha Agent = "alpha"
	AgentBeta  Agent = "beta"
)

// DisplayName returns the name shown in the chat header.
func (a Agent) DisplayName() string {
	switch a {
	case AgentAlpha:
		return "Agent Alpha"
	case AgentBeta:
		return "Agent Beta"
	default:
		return "Agent"
	}
}

// Valid reports whether a is a known agent.
func (a Agent) Valid() bool {
	return a == AgentAlpha || a == AgentBeta
}

// QuestionKey names one scripted information-gathering topic.
type QuestionKey string

const (
	KeyName          QuestionKey = "name"
	KeyFavoriteFood  QuestionKey = "favoriteFood"
	KeyHobby         QuestionKey = "hobby"
	KeyHobbyFact     QuestionKey = "hobbyFact"
	KeyFunFact       QuestionKey = "funFact"
	KeyFinalQuestion QuestionKey = "finalQuestion"
)

// QuestionKeys lists the topics in the order they are asked.
var QuestionKeys = [...]QuestionKey{
	KeyName,
	KeyFavoriteFood,
	KeyHobby,
	KeyHobbyFact,
	KeyFunFact,
	KeyFinalQuestion,
}

// InfoQuestionCount is the number of information-gathering turns per half-session.
const InfoQuestionCount = len(QuestionKeys)

// QuizAnswerCount is the number of quiz questions answered per half-session.
const QuizAnswerCount = 4

// Role is the author of a chat turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message in the chat history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// QuizQuestion is a question the participant can ask an agent about themselves.
type QuizQuestion struct {
	QuestionText   string      `json:"questionText"`
	ExpectedAnswer string      `json:"expectedAnswer"`
	Key            QuestionKey `json:"key"`
}

// QuizAnswer records an agent's reply to one quiz question.
type QuizAnswer struct {
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expectedAnswer"`
	AgentResponse  string `json:"agentResponse"`
	TurnNumber     int    `json:"turnNumber"`
	Agent          Agent  `json:"agent"`
	// Failed is set when generation failed and the turn was consumed without a reply.
	Failed bool `json:"failed,omitempty"`
}

// ErrorPlan selects which quiz turns the impaired agent answers badly.
type ErrorPlan struct {
	ConfidentlyWrongTurn int `json:"confidentlyWrongTurn"`
	VagueTurn            int `json:"vagueTurn"`
}

// RatingForm is a participant's assessment of one agent. Empty fields are unset.
type RatingForm struct {
	Humanlike string `json:"humanlike"`
	Likeable  string `json:"likeable"`
	Competent string `json:"competent"`
	ChatAgain string `json:"chatAgain"`
}

// Ratings holds the forms for both agents.
type Ratings struct {
	AgentA *RatingForm `json:"agentA"`
	AgentB *RatingForm `json:"agentB"`
}

// For returns the stored form for agent, or nil.
func (r Ratings) For(agent Agent) *RatingForm {
	if agent == AgentAlpha {
		return r.AgentA
	}
	return r.AgentB
}

// HalfSession archives one agent's finished conversation.
type HalfSession struct {
	Agent       Agent                  `json:"agent"`
	UserInfo    map[QuestionKey]string `json:"userInfo"`
	ChatHistory []Turn                 `json:"chatHistory"`
	QuizAnswers []QuizAnswer           `json:"quizAnswers"`
	ErrorPlan   *ErrorPlan             `json:"errorPlan,omitempty"`
}

// StudySession is the mutable record of where a participant is in the study.
// It is owned by a single controller.
type StudySession struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	StartedAt     time.Time `json:"startedAt"`

	Phase             Phase                  `json:"phase"`
	Agent             Agent                  `json:"agent"`
	UserInfo          map[QuestionKey]string `json:"userInfo"`
	ChatHistory       []Turn                 `json:"chatHistory"`
	QuestionIndex     int                    `json:"questionIndex"`
	QuizQuestions     []QuizQuestion         `json:"quizQuestions"`
	UsedQuizQuestions map[int]bool           `json:"usedQuizQuestions"`
	QuizAnswers       []QuizAnswer           `json:"quizAnswers"`
	ErrorPlan         *ErrorPlan             `json:"errorPlan,omitempty"`
	Ratings           Ratings                `json:"ratings"`
	ResponseInFlight  bool                   `json:"responseInFlight"`

	Transcript []HalfSession `json:"transcript,omitempty"`
}

// NewStudySession returns a session in the Setup phase.
func NewStudySession(id, participantID string, now time.Time) *StudySession {
	return &StudySession{
		ID:                id,
		ParticipantID:     participantID,
		StartedAt:         now,
		Phase:             PhaseSetup,
		Agent:             AgentAlpha,
		UserInfo:          make(map[QuestionKey]string),
		UsedQuizQuestions: make(map[int]bool),
	}
}

// ResetForAgent clears the per-half-session fields and points the session at agent.
// Ratings, the transcript and the last error plan are kept.
func (s *StudySession) ResetForAgent(agent Agent) {
	s.Agent = agent
	s.Phase = PhaseInfoGathering
	s.UserInfo = make(map[QuestionKey]string)
	s.ChatHistory = nil
	s.QuestionIndex = 0
	s.QuizQuestions = nil
	s.UsedQuizQuestions = make(map[int]bool)
	s.QuizAnswers = nil
	s.ResponseInFlight = false
}

// Archive appends the current half-session to the transcript.
func (s *StudySession) Archive() {
	info := make(map[QuestionKey]string, len(s.UserInfo))
	for k, v := range s.UserInfo {
		info[k] = v
	}
	half := HalfSession{
		Agent:       s.Agent,
		UserInfo:    info,
		ChatHistory: append([]Turn(nil), s.ChatHistory...),
		QuizAnswers: append([]QuizAnswer(nil), s.QuizAnswers...),
	}
	if s.Agent == AgentBeta && s.ErrorPlan != nil {
		plan := *s.ErrorPlan
		half.ErrorPlan = &plan
	}
	s.Transcript = append(s.Transcript, half)
}

// Clone returns a deep copy safe to hand to readers.
func (s *StudySession) Clone() *StudySession {
	c := *s
	c.UserInfo = make(map[QuestionKey]string, len(s.UserInfo))
	for k, v := range s.UserInfo {
		c.UserInfo[k] = v
	}
	c.UsedQuizQuestions = make(map[int]bool, len(s.UsedQuizQuestions))
	for k, v := range s.UsedQuizQuestions {
		c.UsedQuizQuestions[k] = v
	}
	c.ChatHistory = append([]Turn(nil), s.ChatHistory...)
	c.QuizQuestions = append([]QuizQuestion(nil), s.QuizQuestions...)
	c.QuizAnswers = append([]QuizAnswer(nil), s.QuizAnswers...)
	c.Transcript = append([]HalfSession(nil), s.Transcript...)
	if s.ErrorPlan != nil {
		plan := *s.ErrorPlan
		c.ErrorPlan = &plan
	}
	if s.Ratings.AgentA != nil {
		a := *s.Ratings.AgentA
		c.Ratings.AgentA = &a
	}
	if s.Ratings.AgentB != nil {
		b := *s.Ratings.AgentB
		c.Ratings.AgentB = &b
	}
	return &c
}
