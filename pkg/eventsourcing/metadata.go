package eventsourcing

import (
	"github.com/google/uuid"

	"github.com/quantive/eventfold/pkg/idgen"
)

// EventMetadata is the caller-supplied metadata record attached to every
// event. The minimum contract is a correlation identifier; concrete types are
// registered with the serializer at startup.
type EventMetadata interface {
	EventCorrelationID() string
}

// StandardEventMetadata carries the account, executor and tracing context of
// the command that produced an event.
type StandardEventMetadata struct {
	AccountID     uuid.UUID `json:"account_id"`
	ExecutorID    uuid.UUID `json:"executor_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
}

// NewStandardEventMetadata builds metadata with a fresh sortable correlation
// id.
func NewStandardEventMetadata(accountID, executorID uuid.UUID) StandardEventMetadata {
	return StandardEventMetadata{
		AccountID:     accountID,
		ExecutorID:    executorID,
		CorrelationID: idgen.MustGenerateSortableID(),
	}
}

// EventCorrelationID implements EventMetadata.
func (m StandardEventMetadata) EventCorrelationID() string { return m.CorrelationID }

// EmptyMetadata carries no contextual information. Useful for tests and for
// aggregates whose events are self-describing.
type EmptyMetadata struct{}

// EventCorrelationID implements EventMetadata.
func (EmptyMetadata) EventCorrelationID() string { return "" }
