package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
)

// APIHandler exposes the small JSON surface around the realtime core:
// creating a competition and resolving a share code before connecting.
type APIHandler struct {
	organizer    app.OrganizerControl
	competitions app.CompetitionRepository
}

func NewAPIHandler(service *app.CompetitionService) *APIHandler {
	return &APIHandler{organizer: service, competitions: service.Competitions()}
}

type createCompetitionRequest struct {
	QuizID      string                   `json:"quizId"`
	CreatorID   string                   `json:"creatorId"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Config      domain.CompetitionConfig `json:"config"`
}

func (h *APIHandler) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_payload", "invalid request body")
		return
	}
	if req.QuizID == "" || req.CreatorID == "" {
		writeError(w, http.StatusBadRequest, "bad_payload", "quizId and creatorId are required")
		return
	}

	comp, err := h.organizer.CreateCompetition(r.Context(), app.CreateCompetitionInput{
		QuizID:      req.QuizID,
		CreatorID:   req.CreatorID,
		Title:       req.Title,
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comp)
}

// ResolveShareCode answers GET /competitions/code/{code}. An ended
// competition resolves with its terminal state so clients can tell "ended"
// from "no such code".
func (h *APIHandler) ResolveShareCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/competitions/code/")
	if code == "" || strings.Contains(code, "/") {
		writeError(w, http.StatusBadRequest, "bad_payload", "missing share code")
		return
	}
	code = strings.ToUpper(code)
	if !domain.ValidShareCode(code) {
		writeError(w, http.StatusNotFound, "code_invalid", "share code not found")
		return
	}

	comp, err := h.competitions.GetByShareCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Code: code, Message: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "code_invalid", "not_found", "participant_not_found", "unknown_question":
		status = http.StatusNotFound
	case "not_open", "ended", "full", "not_active", "invalid_transition", "last_question":
		status = http.StatusConflict
	case "conflict":
		status = http.StatusConflict
	case "bad_payload":
		status = http.StatusBadRequest
	}
	writeError(w, status, code, err.Error())
}
