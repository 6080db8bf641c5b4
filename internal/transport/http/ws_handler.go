package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler serves the participant-facing socket.
type WSHandler struct {
	service  *app.CompetitionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.CompetitionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
	TimeSpent  int    `json:"timeSpent"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps domain errors to stable client-facing codes, so a client can
// tell an invalid code from a not-yet-open or already-ended competition.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrShareCodeNotFound):
		return "code_invalid"
	case errors.Is(err, domain.ErrLateJoinDisabled):
		return "not_open"
	case errors.Is(err, domain.ErrCompetitionClosed):
		return "ended"
	case errors.Is(err, domain.ErrCompetitionFull):
		return "full"
	case errors.Is(err, domain.ErrCompetitionNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrCompetitionNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrOptionNotFound):
		return "unknown_question"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domain.ErrIndexOutOfRange):
		return "last_question"
	default:
		return "internal"
	}
}

func errMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

// ServeWS upgrades participant connections and wires them into the live
// session. Query params: shareCode or competitionId, plus userId and name.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	shareCode := r.URL.Query().Get("shareCode")
	competitionID := r.URL.Query().Get("competitionId")
	userID := r.URL.Query().Get("userId")
	name := r.URL.Query().Get("name")
	email := r.URL.Query().Get("email")
	if (shareCode == "" && competitionID == "") || userID == "" || name == "" {
		http.Error(w, "missing shareCode/competitionId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	identity := app.JoinIdentity{ID: userID, Name: name, Email: email}
	var joined domain.Participant
	if shareCode != "" {
		var comp domain.Competition
		comp, joined, err = h.service.JoinByCode(r.Context(), shareCode, identity)
		if err == nil {
			competitionID = comp.ID
		}
	} else {
		joined, err = h.service.Join(r.Context(), competitionID, identity)
	}
	if err != nil {
		_ = conn.WriteJSON(errMessage(err))
		return
	}

	states, cancelState, err := h.service.SubscribeState(r.Context(), competitionID)
	if err != nil {
		_ = conn.WriteJSON(errMessage(err))
		return
	}
	defer cancelState()
	rosters, cancelRoster, err := h.service.SubscribeRoster(r.Context(), competitionID)
	if err != nil {
		_ = conn.WriteJSON(errMessage(err))
		return
	}
	defer cancelRoster()
	boards, cancelBoard, err := h.service.SubscribeLeaderboard(r.Context(), competitionID)
	if err != nil {
		_ = conn.WriteJSON(errMessage(err))
		return
	}
	defer cancelBoard()
	chats, cancelChat, err := h.service.SubscribeChat(r.Context(), competitionID)
	if err != nil {
		_ = conn.WriteJSON(errMessage(err))
		return
	}
	defer cancelChat()
	defer func() {
		_ = h.service.Leave(r.Context(), competitionID, userID)
	}()

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pumpDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(pumpDone)
		for {
			var msg outboundMessage[any]
			select {
			case state, ok := <-states:
				if !ok {
					return
				}
				msg = outboundMessage[any]{Type: "state", Payload: state}
			case roster, ok := <-rosters:
				if !ok {
					return
				}
				msg = outboundMessage[any]{Type: "roster", Payload: roster}
			case board, ok := <-boards:
				if !ok {
					return
				}
				msg = outboundMessage[any]{Type: "leaderboard", Payload: board}
			case chat, ok := <-chats:
				if !ok {
					return
				}
				msg = outboundMessage[any]{Type: "chat", Payload: chat}
			case <-closeSignals:
				return
			}
			select {
			case send <- msg:
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joined}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_payload", Message: "invalid answer payload"}}
				continue
			}
			result, err := h.service.SubmitAnswer(r.Context(), competitionID, userID, domain.AnswerSubmission{
				QuestionID: payload.QuestionID,
				OptionID:   payload.OptionID,
				TimeSpent:  payload.TimeSpent,
			})
			if err != nil {
				send <- errMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: result}
		case "heartbeat":
			if err := h.service.Heartbeat(r.Context(), competitionID, userID); err != nil {
				send <- errMessage(err)
			}
		case "chat":
			var payload chatPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_payload", Message: "invalid chat payload"}}
				continue
			}
			if _, err := h.service.SendChat(r.Context(), competitionID, userID, payload.Message); err != nil {
				send <- errMessage(err)
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_type", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-pumpDone
	close(send)
	<-writerDone
}
