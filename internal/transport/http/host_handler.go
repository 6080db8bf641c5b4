package http

import (
	"log"
	"net/http"

	"quizo-live-service/internal/app"
	"github.com/gorilla/websocket"
)

// HostHandler serves the organizer dashboard socket: lifecycle commands in,
// state/roster/leaderboard snapshots out.
type HostHandler struct {
	organizer app.OrganizerControl
	service   *app.CompetitionService
	upgrader  websocket.Upgrader
}

func NewHostHandler(service *app.CompetitionService) *HostHandler {
	return &HostHandler{
		organizer: service,
		service:   service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type advancedPayload struct {
	CurrentQuestionIndex int `json:"currentQuestionIndex"`
}

func (h *HostHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	competitionID := r.URL.Query().Get("competitionId")
	if competitionID == "" {
		http.Error(w, "missing competitionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("host ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

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

	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pumpDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("host ws write error: %v", err)
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

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		var cmdErr error
		switch inbound.Type {
		case "start":
			cmdErr = h.organizer.Start(r.Context(), competitionID)
		case "next":
			var next int
			next, cmdErr = h.organizer.Advance(r.Context(), competitionID)
			if cmdErr == nil {
				send <- outboundMessage[any]{Type: "advanced", Payload: advancedPayload{CurrentQuestionIndex: next}}
			}
		case "pause":
			cmdErr = h.organizer.Pause(r.Context(), competitionID)
		case "resume":
			cmdErr = h.organizer.Resume(r.Context(), competitionID)
		case "end":
			cmdErr = h.organizer.End(r.Context(), competitionID)
		case "stats":
			stats, err := h.organizer.Stats(r.Context(), competitionID)
			if err != nil {
				cmdErr = err
				break
			}
			send <- outboundMessage[any]{Type: "stats", Payload: stats}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_type", Message: "unsupported message type"}}
		}
		if cmdErr != nil {
			// Explicit rejection, never a silent freeze.
			send <- errMessage(cmdErr)
		}
	}

	close(closeSignals)
	<-pumpDone
	close(send)
	<-writerDone
}
