package study

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/ashureev/recall-study/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed script.yaml
var scriptYAML []byte

// Topic is one scripted information-gathering question.
type Topic struct {
	Key   domain.QuestionKey `yaml:"key"`
	Label string             `yaml:"label"`
	Ask   string             `yaml:"ask"`
	Quiz  string             `yaml:"quiz"`
}

// Script is the ordered interview script.
type Script struct {
	Topics []Topic `yaml:"topics"`
}

var (
	defaultScriptOnce sync.Once
	defaultScript     *Script
	defaultScriptErr  error
)

// DefaultScript returns the embedded interview script.
func DefaultScript() (*Script, error) {
	defaultScriptOnce.Do(func() {
		defaultScript, defaultScriptErr = ParseScript(scriptYAML)
	})
	return defaultScript, defaultScriptErr
}

// ParseScript decodes and validates a script. Topics must match
// domain.QuestionKeys exactly and in order.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if len(s.Topics) != domain.InfoQuestionCount {
		return nil, fmt.Errorf("script has %d topics, want %d", len(s.Topics), domain.InfoQuestionCount)
	}
	for i, t := range s.Topics {
		if t.Key != domain.QuestionKeys[i] {
			return nil, fmt.Errorf("topic %d is %q, want %q", i, t.Key, domain.QuestionKeys[i])
		}
		if t.Ask == "" || t.Quiz == "" {
			return nil, fmt.Errorf("topic %q is missing its ask or quiz text", t.Key)
		}
	}
	return &s, nil
}

// QuizQuestions builds one quiz question per topic from the collected answers.
func (s *Script) QuizQuestions(info map[domain.QuestionKey]string) []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, 0, len(s.Topics))
	for _, t := range s.Topics {
		out = append(out, domain.QuizQuestion{
			QuestionText:   t.Quiz,
			ExpectedAnswer: info[t.Key],
			Key:            t.Key,
		})
	}
	return out
}
