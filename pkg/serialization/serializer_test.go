package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantive/eventfold/pkg/eventsourcing"
	"github.com/quantive/eventfold/pkg/serialization"
)

type noteAddedV1 struct {
	eventsourcing.UpdateEventMarker

	Text string `json:"text"`
}

func (noteAddedV1) EventType() string { return "note.added.v1" }

type noteAddedV2 struct {
	eventsourcing.UpdateEventMarker

	Text   string `json:"text"`
	Author string `json:"author"`
}

func (noteAddedV2) EventType() string { return "note.added.v2" }

type noteAdded struct {
	eventsourcing.UpdateEventMarker

	Text   string `json:"text"`
	Author string `json:"author"`
	Pinned bool   `json:"pinned"`
}

func (noteAdded) EventType() string { return "note.added" }

func newTestSerializer() *serialization.Serializer {
	r := serialization.NewRegistry()
	serialization.RegisterEvent[noteAdded](r)
	serialization.RegisterUpcast(r, func(old noteAddedV2) eventsourcing.DomainEvent {
		return noteAdded{Text: old.Text, Author: old.Author}
	})
	serialization.RegisterUpcast(r, func(old noteAddedV1) eventsourcing.DomainEvent {
		return noteAddedV2{Text: old.Text, Author: "unknown"}
	})
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)
	return serialization.NewSerializer(r)
}

func TestSerializeRoundTrip(t *testing.T) {
	s := newTestSerializer()

	body, meta, err := s.Serialize(noteAdded{Text: "hello", Author: "ana", Pinned: true}, eventsourcing.EmptyMetadata{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello","author":"ana","pinned":true}`, string(body))

	event, metadata, err := s.Deserialize("note.added", body, meta)
	require.NoError(t, err)
	assert.Equal(t, noteAdded{Text: "hello", Author: "ana", Pinned: true}, event)
	assert.Equal(t, eventsourcing.EmptyMetadata{}, metadata)
}

func TestSerializeUnregisteredEvent(t *testing.T) {
	r := serialization.NewRegistry()
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)
	s := serialization.NewSerializer(r)

	_, _, err := s.Serialize(noteAdded{}, eventsourcing.EmptyMetadata{})

	var bodyErr *serialization.BodySerializationError
	require.ErrorAs(t, err, &bodyErr)
	assert.Equal(t, "note.added", bodyErr.EventType)
}

func TestSerializeMetadataOfWrongType(t *testing.T) {
	s := newTestSerializer()

	_, _, err := s.Serialize(noteAdded{Text: "x"}, eventsourcing.StandardEventMetadata{CorrelationID: "c"})

	var metaErr *serialization.MetadataSerializationError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, "note.added", metaErr.EventType)
}

func TestPerEventMetadataOverride(t *testing.T) {
	r := serialization.NewRegistry()
	serialization.RegisterEvent[noteAdded](r)
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)
	serialization.RegisterMetadata[eventsourcing.StandardEventMetadata](r, "note.added")
	s := serialization.NewSerializer(r)

	_, _, err := s.Serialize(noteAdded{Text: "x"}, eventsourcing.EmptyMetadata{})
	var metaErr *serialization.MetadataSerializationError
	require.ErrorAs(t, err, &metaErr)

	_, meta, err := s.Serialize(noteAdded{Text: "x"}, eventsourcing.StandardEventMetadata{CorrelationID: "c"})
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"correlation_id":"c"`)
}

func TestDeserializeFollowsUpcastChain(t *testing.T) {
	s := newTestSerializer()

	event, _, err := s.Deserialize("note.added.v1", []byte(`{"text":"legacy"}`), []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, noteAdded{Text: "legacy", Author: "unknown"}, event)
}

func TestDeserializeUnknownEventType(t *testing.T) {
	s := newTestSerializer()

	_, _, err := s.Deserialize("note.removed", []byte(`{}`), []byte(`{}`))

	var bodyErr *serialization.BodySerializationError
	require.ErrorAs(t, err, &bodyErr)
	assert.Equal(t, "note.removed", bodyErr.EventType)
}

type loopingEvent struct {
	eventsourcing.UpdateEventMarker
}

func (loopingEvent) EventType() string { return "looping" }

func TestUpcastCycleIsBounded(t *testing.T) {
	r := serialization.NewRegistry()
	serialization.RegisterUpcast(r, func(old loopingEvent) eventsourcing.DomainEvent {
		return loopingEvent{}
	})
	serialization.UseDefaultMetadata[eventsourcing.EmptyMetadata](r)
	s := serialization.NewSerializer(r)

	_, _, err := s.Deserialize("looping", []byte(`{}`), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upcast chain")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := serialization.NewRegistry()
	serialization.RegisterEvent[noteAdded](r)

	assert.Panics(t, func() {
		serialization.RegisterEvent[noteAdded](r)
	})
}
