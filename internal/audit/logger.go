package audit

import (
	"context"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCodeIssued      EventType = "pairing_code_issued"
	EventCodeRedeemed    EventType = "pairing_code_redeemed"
	EventCodeRejected    EventType = "pairing_code_rejected"
	EventDeviceUnpaired  EventType = "device_unpaired"
	EventDeviceRemoved   EventType = "device_removed"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

type Event struct {
	Type     EventType
	FamilyID string
	DeviceID string
	IP       string
	Details  map[string]interface{}
}

// Log writes a security audit line. The request id is attached when ctx
// carries one.
func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.FamilyID != "" {
		logger = logger.With().Str("familyId", event.FamilyID).Logger()
	}
	if event.DeviceID != "" {
		logger = logger.With().Str("deviceId", event.DeviceID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		logger = logger.With().Str("requestId", reqID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
