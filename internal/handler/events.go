package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/events"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 2 * config.FeedPingInterval
	eventsReadLimit = 4096
)

type EventHub interface {
	Subscribe(familyID string) *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

// EventsHandler streams change notifications for the operator's family over
// a websocket. Each message is one ChangeEvent; clients refetch on receipt.
type EventsHandler struct {
	hub          EventHub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewEventsHandler(hub EventHub) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: config.FeedPingInterval,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, ok := requireOperator(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(op.FamilyID)
	defer h.hub.Unsubscribe(sub)

	log.Info().
		Str("familyId", op.FamilyID).
		Str("userId", op.UserID).
		Msg("event stream connected")

	// The reader only services control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(eventsReadLimit)
		conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(eventsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-closed:
			log.Info().Str("familyId", op.FamilyID).Msg("event stream closed by client")
			return

		case <-sub.Done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(eventsWriteWait))
			return

		case ev := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("familyId", op.FamilyID).Msg("event write failed")
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}
