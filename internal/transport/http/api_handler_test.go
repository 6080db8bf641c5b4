package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	"quizo-live-service/internal/infra/memory"
)

func newAPIServer(t *testing.T) (*httptest.Server, *app.CompetitionService) {
	t.Helper()
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewCompetitionService(store, quizRepo, memory.NewCompetitionRepository())

	api := NewAPIHandler(service)
	mux := http.NewServeMux()
	mux.HandleFunc("/competitions", api.CreateCompetition)
	mux.HandleFunc("/competitions/code/", api.ResolveShareCode)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, service
}

func TestCreateAndResolveCompetition(t *testing.T) {
	server, _ := newAPIServer(t)

	body := `{"quizId":"quiz-1","creatorId":"host-1","title":"Friday quiz","config":{"allowLateJoin":true}}`
	resp, err := http.Post(server.URL+"/competitions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var comp domain.Competition
	if err := json.NewDecoder(resp.Body).Decode(&comp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if comp.ID == "" || len(comp.ShareCode) != domain.ShareCodeLength {
		t.Fatalf("unexpected competition: %+v", comp)
	}

	// Lowercase code entry resolves too.
	resp2, err := http.Get(server.URL + "/competitions/code/" + strings.ToLower(comp.ShareCode))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
	var resolved domain.Competition
	if err := json.NewDecoder(resp2.Body).Decode(&resolved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resolved.ID != comp.ID {
		t.Fatalf("expected %s, got %s", comp.ID, resolved.ID)
	}
}

func TestCreateCompetitionRejectsUnknownQuiz(t *testing.T) {
	server, _ := newAPIServer(t)

	body := `{"quizId":"missing","creatorId":"host-1"}`
	resp, err := http.Post(server.URL+"/competitions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestResolveShareCodeNotFound(t *testing.T) {
	server, _ := newAPIServer(t)

	for _, code := range []string{"ZZZZZZ", "short", "OO0011"} {
		resp, err := http.Get(server.URL + "/competitions/code/" + code)
		if err != nil {
			t.Fatalf("get %s: %v", code, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("code %s: expected 404, got %d", code, resp.StatusCode)
		}
	}
}
