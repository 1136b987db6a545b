// Package training records learner activity in the audit trail. Course content
// lives elsewhere; these endpoints only acknowledge and audit progress.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"hipaa-training/internal/audit"
)

const maxJSONBodyBytes = 64 << 10

var lessonNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type Auditor interface {
	LogSecurityEvent(ctx context.Context, eventType audit.EventType, details string, severity audit.Severity)
}

type Handler struct {
	audit Auditor
}

func NewHandler(auditor Auditor) *Handler {
	return &Handler{audit: auditor}
}

type quizRequest struct {
	Score *int `json:"score"`
}

type checklistRequest struct {
	Completed *bool `json:"completed"`
}

func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !lessonNameRegex.MatchString(name) {
		writeError(w, http.StatusBadRequest, "lesson name is invalid")
		return
	}

	h.audit.LogSecurityEvent(r.Context(), audit.EventLessonCompleted, "Completed lesson "+name, audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "lesson": name})
}

func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body quizRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || body.Score == nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if *body.Score < 0 || *body.Score > 100 {
		writeError(w, http.StatusBadRequest, "score must be between 0 and 100")
		return
	}

	h.audit.LogSecurityEvent(r.Context(), audit.EventQuizCompleted, fmt.Sprintf("Quiz completed with score %d%%", *body.Score), audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "score": *body.Score})
}

func (h *Handler) UpdateChecklist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "checklist item id is invalid")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body checklistRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || body.Completed == nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	state := "incomplete"
	if *body.Completed {
		state = "complete"
	}
	h.audit.LogSecurityEvent(r.Context(), audit.EventChecklistUpdated, fmt.Sprintf("Checklist item %d marked %s", id, state), audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id, "completed": *body.Completed})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
