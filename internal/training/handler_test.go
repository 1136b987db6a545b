package training_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/training"
)

type logged struct {
	eventType audit.EventType
	details   string
}

type recordingAuditor struct {
	events []logged
}

func (a *recordingAuditor) LogSecurityEvent(_ context.Context, eventType audit.EventType, details string, _ audit.Severity) {
	a.events = append(a.events, logged{eventType: eventType, details: details})
}

func newMux(auditor *recordingAuditor) *http.ServeMux {
	h := training.NewHandler(auditor)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/lessons/{name}/complete", h.CompleteLesson)
	mux.HandleFunc("POST /api/quiz/submit", h.SubmitQuiz)
	mux.HandleFunc("POST /api/checklist/{id}", h.UpdateChecklist)
	return mux
}

func TestTrainingHandlers(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantEvent  audit.EventType
		wantDetail string
	}{
		{name: "lesson", path: "/api/lessons/privacy-basics/complete", wantStatus: http.StatusOK, wantEvent: audit.EventLessonCompleted, wantDetail: "Completed lesson privacy-basics"},
		{name: "bad lesson", path: "/api/lessons/Bad%20Name/complete", wantStatus: http.StatusBadRequest},
		{name: "quiz", path: "/api/quiz/submit", body: `{"score":85}`, wantStatus: http.StatusOK, wantEvent: audit.EventQuizCompleted, wantDetail: "Quiz completed with score 85%"},
		{name: "quiz out of range", path: "/api/quiz/submit", body: `{"score":120}`, wantStatus: http.StatusBadRequest},
		{name: "quiz missing score", path: "/api/quiz/submit", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "checklist", path: "/api/checklist/3", body: `{"completed":true}`, wantStatus: http.StatusOK, wantEvent: audit.EventChecklistUpdated, wantDetail: "Checklist item 3 marked complete"},
		{name: "checklist bad id", path: "/api/checklist/zero", body: `{"completed":true}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := &recordingAuditor{}
			rec := httptest.NewRecorder()
			newMux(auditor).ServeHTTP(rec, httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantEvent == "" {
				assert.Empty(t, auditor.events)
				return
			}
			require.Len(t, auditor.events, 1)
			assert.Equal(t, tt.wantEvent, auditor.events[0].eventType)
			assert.Equal(t, tt.wantDetail, auditor.events[0].details)
		})
	}
}
