package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for envelope decoding. All of them classify as fatal in the
// pipeline: a malformed envelope will never become valid on redelivery.
var (
	// ErrMissingEventID is returned when the event_id field is absent or empty.
	ErrMissingEventID = errors.New("event envelope missing event_id")

	// ErrMissingClientID is returned when the client_id field is absent or empty.
	ErrMissingClientID = errors.New("event envelope missing client_id")

	// ErrInvalidClientID is returned when client_id is not a valid UUID.
	ErrInvalidClientID = errors.New("event envelope client_id is not a valid UUID")

	// ErrUnknownEventType is returned for event types outside the closed set.
	// Unknown types are routed to the dead letter store, never silently dropped.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidOccurredAt is returned when occurred_at is absent or unparseable.
	ErrInvalidOccurredAt = errors.New("event envelope occurred_at is not a valid timestamp")

	// ErrInvalidPayload is returned when the payload field is not a JSON object.
	ErrInvalidPayload = errors.New("event payload is not a JSON object")

	// ErrMissingTableName is returned when a data or BOM update event has no
	// table_name in its payload.
	ErrMissingTableName = errors.New("event payload missing table_name")

	// ErrMissingPosition is returned when a data or BOM update event has no
	// parseable source_position in its payload.
	ErrMissingPosition = errors.New("event payload missing source_position")
)

// Envelope field names as they appear in stream entries.
const (
	fieldEventID    = "event_id"
	fieldEventType  = "event_type"
	fieldClientID   = "client_id"
	fieldOccurredAt = "occurred_at"
	fieldPayload    = "payload"
)

// Payload keys shared by the typed variants.
const (
	payloadTableName    = "table_name"
	payloadPosition     = "source_position"
	payloadComponentIDs = "component_ids"
)

// Encode converts an envelope into flat stream entry values. The payload map
// is JSON-encoded into a single field so that nested values survive the flat
// field model of the stream log.
func Encode(e *Envelope) (map[string]any, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}

	return map[string]any{
		fieldEventID:    e.ID,
		fieldEventType:  string(e.Type),
		fieldClientID:   e.ClientID.String(),
		fieldOccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		fieldPayload:    string(payload),
	}, nil
}

// Decode parses flat stream entry values into an envelope, validating every
// required field. All returned errors wrap one of the package sentinels.
func Decode(values map[string]any) (*Envelope, error) {
	id := stringField(values, fieldEventID)
	if id == "" {
		return nil, ErrMissingEventID
	}

	rawType := stringField(values, fieldEventType)

	eventType := Type(rawType)
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, rawType)
	}

	rawClient := stringField(values, fieldClientID)
	if rawClient == "" {
		return nil, ErrMissingClientID
	}

	clientID, err := uuid.Parse(rawClient)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClientID, rawClient)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, stringField(values, fieldOccurredAt))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOccurredAt, stringField(values, fieldOccurredAt))
	}

	payload := make(map[string]any)

	if raw := stringField(values, fieldPayload); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	return &Envelope{
		ID:         id,
		Type:       eventType,
		ClientID:   clientID,
		OccurredAt: occurredAt,
		Payload:    payload,
	}, nil
}

// DataUpdate extracts the validated data-update view of the payload.
// Valid only for sales_updated, stock_updated and products_updated events.
func (e *Envelope) DataUpdate() (*DataUpdate, error) {
	table, position, err := tableAndPosition(e.Payload)
	if err != nil {
		return nil, err
	}

	return &DataUpdate{TableName: table, Position: position}, nil
}

// BOMUpdate extracts the validated BOM-update view of the payload.
func (e *Envelope) BOMUpdate() (*BOMUpdate, error) {
	table, position, err := tableAndPosition(e.Payload)
	if err != nil {
		return nil, err
	}

	update := &BOMUpdate{TableName: table, Position: position}

	if raw, ok := e.Payload[payloadComponentIDs].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				update.RootComponentIDs = append(update.RootComponentIDs, s)
			}
		}
	}

	return update, nil
}

// ClientState extracts the validated client-state view of the payload.
func (e *Envelope) ClientState() (*ClientState, error) {
	data, ok := e.Payload["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return nil, fmt.Errorf("%w: clients_updated event has no data object", ErrInvalidPayload)
	}

	state := &ClientState{Features: make(map[string]bool)}

	if name, ok := data["name"].(string); ok {
		state.Name = name
	}

	if status, ok := data["status"].(string); ok {
		state.Status = status
	}

	if features, ok := data["features"].(map[string]any); ok {
		for name, v := range features {
			if enabled, ok := v.(bool); ok {
				state.Features[name] = enabled
			}
		}
	}

	return state, nil
}

func tableAndPosition(payload map[string]any) (string, time.Time, error) {
	table, _ := payload[payloadTableName].(string)
	if table == "" {
		return "", time.Time{}, ErrMissingTableName
	}

	raw, _ := payload[payloadPosition].(string)

	position, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrMissingPosition, raw)
	}

	return table, position, nil
}

// stringField tolerates both string and []byte values, since stream client
// libraries differ in how they surface entry fields.
func stringField(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
