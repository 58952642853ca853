package event

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validValues() map[string]any {
	return map[string]any{
		"event_id":    "evt-123",
		"event_type":  "sales_updated",
		"client_id":   "8a4f9c1e-2b7d-4e3a-9f10-6c5d4b3a2e1f",
		"occurred_at": "2026-03-01T10:30:00Z",
		"payload":     `{"table_name":"c2_sales","source_position":"2026-03-01T10:00:00Z"}`,
	}
}

func TestDecode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr error
	}{
		{
			name:   "decodes a valid envelope",
			mutate: func(map[string]any) {},
		},
		{
			name:    "rejects missing event_id",
			mutate:  func(v map[string]any) { delete(v, "event_id") },
			wantErr: ErrMissingEventID,
		},
		{
			name:    "rejects unknown event type",
			mutate:  func(v map[string]any) { v["event_type"] = "warehouse_exploded" },
			wantErr: ErrUnknownEventType,
		},
		{
			name:    "rejects empty event type",
			mutate:  func(v map[string]any) { delete(v, "event_type") },
			wantErr: ErrUnknownEventType,
		},
		{
			name:    "rejects missing client_id",
			mutate:  func(v map[string]any) { delete(v, "client_id") },
			wantErr: ErrMissingClientID,
		},
		{
			name:    "rejects malformed client_id",
			mutate:  func(v map[string]any) { v["client_id"] = "not-a-uuid" },
			wantErr: ErrInvalidClientID,
		},
		{
			name:    "rejects malformed occurred_at",
			mutate:  func(v map[string]any) { v["occurred_at"] = "yesterday" },
			wantErr: ErrInvalidOccurredAt,
		},
		{
			name:    "rejects payload that is not a JSON object",
			mutate:  func(v map[string]any) { v["payload"] = "[1,2,3" },
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := validValues()
			tt.mutate(values)

			envelope, err := Decode(values)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}

			if envelope.ID != "evt-123" {
				t.Errorf("ID = %q, want evt-123", envelope.ID)
			}

			if envelope.Type != TypeSalesUpdated {
				t.Errorf("Type = %q, want %q", envelope.Type, TypeSalesUpdated)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	original := &Envelope{
		ID:         uuid.NewString(),
		Type:       TypeBOMUpdated,
		ClientID:   uuid.New(),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{
			"table_name":      "c2_dishes",
			"source_position": "2026-03-01T11:45:00Z",
			"component_ids":   []any{"dish-1", "dish-2"},
		},
	}

	values, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}

	decoded, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode() unexpected error: %v", err)
	}

	if decoded.ID != original.ID || decoded.Type != original.Type || decoded.ClientID != original.ClientID {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}

	update, err := decoded.BOMUpdate()
	if err != nil {
		t.Fatalf("BOMUpdate() unexpected error: %v", err)
	}

	if update.TableName != "c2_dishes" {
		t.Errorf("TableName = %q, want c2_dishes", update.TableName)
	}

	if len(update.RootComponentIDs) != 2 {
		t.Errorf("RootComponentIDs = %v, want 2 entries", update.RootComponentIDs)
	}
}

func TestDataUpdateValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		payload map[string]any
		wantErr error
	}{
		{
			name: "valid payload",
			payload: map[string]any{
				"table_name":      "c2_sales",
				"source_position": "2026-03-01T10:00:00Z",
			},
		},
		{
			name:    "missing table_name",
			payload: map[string]any{"source_position": "2026-03-01T10:00:00Z"},
			wantErr: ErrMissingTableName,
		},
		{
			name:    "missing source_position",
			payload: map[string]any{"table_name": "c2_sales"},
			wantErr: ErrMissingPosition,
		},
		{
			name: "unparseable source_position",
			payload: map[string]any{
				"table_name":      "c2_sales",
				"source_position": "last tuesday",
			},
			wantErr: ErrMissingPosition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := &Envelope{Type: TypeSalesUpdated, Payload: tt.payload}

			update, err := envelope.DataUpdate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DataUpdate() error = %v, want %v", err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("DataUpdate() unexpected error: %v", err)
			}

			if update.TableName != "c2_sales" {
				t.Errorf("TableName = %q, want c2_sales", update.TableName)
			}
		})
	}
}

func TestClientState(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	envelope := &Envelope{
		Type: TypeClientsUpdated,
		Payload: map[string]any{
			"data": map[string]any{
				"name":   "Osteria Nova",
				"status": "active",
				"features": map[string]any{
					"bom_explosion":  true,
					"sales_features": false,
				},
			},
		},
	}

	state, err := envelope.ClientState()
	if err != nil {
		t.Fatalf("ClientState() unexpected error: %v", err)
	}

	if state.Name != "Osteria Nova" || state.Status != "active" {
		t.Errorf("unexpected state: %+v", state)
	}

	if !state.Features["bom_explosion"] || state.Features["sales_features"] {
		t.Errorf("unexpected features: %+v", state.Features)
	}

	empty := &Envelope{Type: TypeClientsUpdated, Payload: map[string]any{}}
	if _, err := empty.ClientState(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("ClientState() on empty data error = %v, want %v", err, ErrInvalidPayload)
	}
}
