package redisbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types published by the decision service, plus the upstream
// market-data events it consumes.
const (
	EventSignalGenerated       = "signal_generated"
	EventOrderAllowed          = "order_allowed"
	EventOrderBlocked          = "order_blocked"
	EventCircuitBreakerTripped = "circuit_breaker_tripped"
	EventTrailingStopMoved     = "trailing_stop_moved"
	EventTrailingStopTriggered = "trailing_stop_triggered"

	EventMarketDataUpdated = "market_data_updated"
	EventPriceTick         = "price_tick"
)

// Event is the platform-wide message envelope. Timestamps inside the
// payload travel as {"__type__": "datetime", "value": "..."} so typed
// round-trips survive peers in other runtimes.
type Event struct {
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// NewEvent builds an envelope stamped with a fresh correlation id.
func NewEvent(eventType string, payload map[string]any) *Event {
	return &Event{
		EventType:     eventType,
		Payload:       payload,
		Source:        "decision-service",
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.NewString(),
	}
}

// Marshal serializes an event to the wire format.
func (e *Event) Marshal() ([]byte, error) {
	wire := map[string]any{
		"event_type":     e.EventType,
		"payload":        serializePayload(e.Payload),
		"source":         e.Source,
		"timestamp":      e.Timestamp.Format(time.RFC3339Nano),
		"correlation_id": e.CorrelationID,
	}
	return json.Marshal(wire)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling event JSON: %w", err)
	}

	eventType, _ := raw["event_type"].(string)
	source, _ := raw["source"].(string)
	correlationID, _ := raw["correlation_id"].(string)

	tsStr, _ := raw["timestamp"].(string)
	ts, err := parseTimestamp(tsStr)
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp: %w", err)
	}

	payloadRaw, _ := raw["payload"].(map[string]any)

	return &Event{
		EventType:     eventType,
		Payload:       deserializePayload(payloadRaw),
		Source:        source,
		Timestamp:     ts,
		CorrelationID: correlationID,
	}, nil
}

// PayloadString extracts a string field from a payload, empty when
// absent or mistyped.
func PayloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// PayloadFloat extracts a numeric field from a payload.
func PayloadFloat(payload map[string]any, key string) (float64, bool) {
	f, ok := payload[key].(float64)
	return f, ok
}

// parseTimestamp tries the formats peers are known to emit.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999+00:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}

func serializePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = serializeValue(v)
	}
	return result
}

func serializeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return map[string]any{
			"__type__": "datetime",
			"value":    val.Format(time.RFC3339Nano),
		}
	case map[string]any:
		return serializePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = serializeValue(item)
		}
		return out
	default:
		return v
	}
}

func deserializePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		result[k] = deserializeValue(v)
	}
	return result
}

func deserializeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val["__type__"] == "datetime" {
			if s, ok := val["value"].(string); ok {
				if t, err := parseTimestamp(s); err == nil {
					return t
				}
			}
		}
		return deserializePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deserializeValue(item)
		}
		return out
	default:
		return v
	}
}
