package serialization

import "fmt"

// BodySerializationError reports that an event body could not be encoded,
// decoded, or did not survive a round trip intact.
type BodySerializationError struct {
	EventType string
	Cause     error
}

func (e *BodySerializationError) Error() string {
	return fmt.Sprintf("serialize body of %s: %v", e.EventType, e.Cause)
}

func (e *BodySerializationError) Unwrap() error { return e.Cause }

// MetadataSerializationError reports that event metadata could not be
// encoded, decoded, or did not match the type registered for the event.
type MetadataSerializationError struct {
	EventType string
	Cause     error
}

func (e *MetadataSerializationError) Error() string {
	return fmt.Sprintf("serialize metadata of %s: %v", e.EventType, e.Cause)
}

func (e *MetadataSerializationError) Unwrap() error { return e.Cause }
