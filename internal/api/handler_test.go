//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/recall-study/internal/generation"
	"github.com/ashureev/recall-study/internal/study"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "busy")

	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type=%q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["error"] != "busy" {
		t.Fatalf("error=%q", got["error"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", study.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: too early", study.ErrSequence), http.StatusConflict},
		{study.ErrInFlight, http.StatusConflict},
		{study.ErrSessionNotFound, http.StatusNotFound},
		{&generation.Error{Message: "down", StatusCode: 503}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v)=%d, want %d", tt.err, got, tt.want)
		}
	}
}
