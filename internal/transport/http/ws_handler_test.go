package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	"quizo-live-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func newTestService(t *testing.T) (*app.CompetitionService, domain.Competition) {
	t.Helper()
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuizzes()), time.Minute)
	service := app.NewCompetitionService(store, quizRepo, memory.NewCompetitionRepository())

	comp, err := service.CreateCompetition(context.Background(), app.CreateCompetitionInput{
		QuizID:    "quiz-1",
		CreatorID: "host-1",
		Title:     "Friday quiz",
		Config:    domain.CompetitionConfig{AllowLateJoin: true, ShowLeaderboard: true},
	})
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	if err := service.Start(context.Background(), comp.ID); err != nil {
		t.Fatalf("start competition: %v", err)
	}
	return service, comp
}

func newTestServer(t *testing.T, service *app.CompetitionService) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service).ServeWS)
	mux.HandleFunc("/ws/host", NewHostHandler(service).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketAnswerFlow(t *testing.T) {
	service, comp := newTestService(t)
	server := newTestServer(t, service)

	conn := dial(t, server, "/ws?shareCode="+comp.ShareCode+"&userId=u1&name=Alice")

	payload := readUntil(conn, t, "joined")
	if payload["id"] != "u1" {
		t.Fatalf("expected joined payload for u1, got %v", payload)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "q1",
			"optionId":   "q1_b",
			"timeSpent":  4,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	result := readUntil(conn, t, "answerResult")
	if result["correct"] != true {
		t.Fatalf("expected correct answer, got %v", result)
	}
	board := readUntil(conn, t, "leaderboard")
	entries, ok := board["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one leaderboard entry, got %v", board)
	}
}

func TestWebSocketChatBroadcast(t *testing.T) {
	service, comp := newTestService(t)
	server := newTestServer(t, service)

	alice := dial(t, server, "/ws?shareCode="+comp.ShareCode+"&userId=u1&name=Alice")
	bob := dial(t, server, "/ws?shareCode="+comp.ShareCode+"&userId=u2&name=Bob")
	readUntil(alice, t, "joined")
	readUntil(bob, t, "joined")

	chat := map[string]any{
		"type":    "chat",
		"payload": map[string]any{"message": "good luck"},
	}
	if err := alice.WriteJSON(chat); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	payload := readUntil(bob, t, "chat")
	if payload["message"] != "good luck" || payload["participantId"] != "u1" {
		t.Fatalf("unexpected chat payload: %v", payload)
	}
}

func TestWebSocketBadShareCode(t *testing.T) {
	service, _ := newTestService(t)
	server := newTestServer(t, service)

	conn := dial(t, server, "/ws?shareCode=ZZZZZZ&userId=u1&name=Alice")

	payload := readUntil(conn, t, "error")
	if payload["code"] != "code_invalid" {
		t.Fatalf("expected code_invalid, got %v", payload)
	}
}

func TestWebSocketUnknownQuestion(t *testing.T) {
	service, comp := newTestService(t)
	server := newTestServer(t, service)

	conn := dial(t, server, "/ws?shareCode="+comp.ShareCode+"&userId=u1&name=Alice")
	readUntil(conn, t, "joined")

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": "missing",
			"optionId":   "q1_b",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	payload := readUntil(conn, t, "error")
	if payload["code"] != "unknown_question" {
		t.Fatalf("expected unknown_question, got %v", payload)
	}
}

// readUntil drains broadcast snapshots until a message of the wanted type
// arrives. Subscription priming makes the early message order nondeterministic.
func readUntil(conn *websocket.Conn, t *testing.T, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message within 20 reads", want)
	return nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "q1_a", Text: "3"},
						{ID: "q1_b", Text: "4", Correct: true},
						{ID: "q1_c", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Prompt: "What is 3 * 3?",
					Options: []domain.Option{
						{ID: "q2_a", Text: "9", Correct: true},
						{ID: "q2_b", Text: "6"},
					},
					Points: 2,
				},
			},
		},
	}
}
