package study

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
)

func TestExportRecordShape(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.FixedZone("CET", 3600))
	a := domain.RatingForm{Humanlike: "5", Likeable: "6", Competent: "7", ChatAgain: "4"}
	b := domain.RatingForm{Humanlike: "2", Likeable: "3", Competent: "1", ChatAgain: "2"}

	rec := Export(domain.Ratings{AgentA: &a, AgentB: &b}, now)
	if rec.Timestamp != "2026-03-01T11:00:00.5Z" {
		t.Fatalf("timestamp=%q", rec.Timestamp)
	}
	a.Humanlike = "changed"
	if rec.AgentA.Humanlike != "5" {
		t.Fatal("export aliases the stored rating")
	}

	raw, err := MarshalExport(rec)
	if err != nil {
		t.Fatalf("MarshalExport: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"agentA\": {") {
		t.Fatalf("expected two-space indentation, got %s", raw)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"timestamp", "agentA", "agentB"} {
		if _, ok := top[key]; !ok {
			t.Fatalf("missing %q in %s", key, raw)
		}
	}
	var form map[string]string
	if err := json.Unmarshal(top["agentB"], &form); err != nil {
		t.Fatalf("agentB: %v", err)
	}
	for _, field := range []string{"humanlike", "likeable", "competent", "chatAgain"} {
		if form[field] == "" {
			t.Errorf("agentB.%s unset", field)
		}
	}
}

func TestExportFileName(t *testing.T) {
	t.Parallel()

	if got := ExportFileName(time.UnixMilli(1700000000123)); got != "chat-study-ratings-1700000000123.json" {
		t.Fatalf("file name=%q", got)
	}
}

func TestValidateRatingNamesMissingField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		form domain.RatingForm
		want string
	}{
		{"empty", domain.RatingForm{}, "humanlike"},
		{"missing likeable", domain.RatingForm{Humanlike: "1", Competent: "1", ChatAgain: "1"}, "likeable"},
		{"blank chatAgain", domain.RatingForm{Humanlike: "1", Likeable: "1", Competent: "1", ChatAgain: "  "}, "chatAgain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRating(tt.form)
			if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected validation error naming %s, got %v", tt.want, err)
			}
		})
	}
	if err := ValidateRating(domain.RatingForm{Humanlike: "1", Likeable: "2", Competent: "3", ChatAgain: "4"}); err != nil {
		t.Fatalf("complete form rejected: %v", err)
	}
}
