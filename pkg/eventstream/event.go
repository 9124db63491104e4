package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnCompleted is emitted after a conversation turn is persisted.
	EventTypeTurnCompleted = "switchboard.turn.completed"

	// StatusOK marks a turn that produced a final answer.
	StatusOK = "ok"

	// StatusRoundLimit marks a turn that hit the tool round cap and returned
	// a degraded answer.
	StatusRoundLimit = "round_limit"
)

// TurnCompletedEvent is a transport-neutral event payload for a completed turn.
type TurnCompletedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Rounds         int    `json:"rounds"`
	ToolCalls      int    `json:"tool_calls"`
	Streaming      bool   `json:"streaming"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// NewTurnCompletedEvent stamps identity and schema fields onto a turn event.
func NewTurnCompletedEvent(conversationID, status string) *TurnCompletedEvent {
	return &TurnCompletedEvent{
		SchemaVersion:  SchemaVersionV1,
		EventType:      EventTypeTurnCompleted,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		Status:         status,
	}
}
