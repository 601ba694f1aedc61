// Package serialization converts domain events and their metadata to and
// from JSON. Every event and metadata type is registered up front; the
// serializer refuses payloads it cannot round-trip, so malformed events are
// rejected before they reach the log instead of when they are read back.
package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/quantive/eventfold/pkg/eventsourcing"
)

// maxUpcastHops bounds upcast chains so a registration cycle cannot spin
// deserialization forever.
const maxUpcastHops = 16

type eventDecoder func(data []byte) (eventsourcing.DomainEvent, error)

type metadataDecoder func(data []byte) (eventsourcing.EventMetadata, error)

// Registry maps event-type tags to decoders, upcasts and metadata types. A
// Registry is populated at startup and read-only afterwards.
type Registry struct {
	decoders         map[string]eventDecoder
	upcasts          map[string]func(eventsourcing.DomainEvent) eventsourcing.DomainEvent
	metadataDecoders map[string]metadataDecoder
	metadataTypes    map[string]reflect.Type
	defaultMetadata  metadataDecoder
	defaultMetaType  reflect.Type
}

// NewRegistry returns an empty registry with no default metadata type.
func NewRegistry() *Registry {
	return &Registry{
		decoders:         make(map[string]eventDecoder),
		upcasts:          make(map[string]func(eventsourcing.DomainEvent) eventsourcing.DomainEvent),
		metadataDecoders: make(map[string]metadataDecoder),
		metadataTypes:    make(map[string]reflect.Type),
	}
}

func decodeValue[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// RegisterEvent makes the event type E known to the registry under its
// EventType tag. Registering two types with the same tag panics; tags are
// the registry's primary key.
func RegisterEvent[E eventsourcing.DomainEvent](r *Registry) {
	var proto E
	tag := proto.EventType()
	if _, dup := r.decoders[tag]; dup {
		panic(fmt.Sprintf("serialization: event type %q registered twice", tag))
	}
	r.decoders[tag] = func(data []byte) (eventsourcing.DomainEvent, error) {
		return decodeValue[E](data)
	}
}

// RegisterUpcast registers the retired event type Old together with the
// migration applied whenever an Old event is read from the log. The upcast
// target must itself be registered; chains of upcasts are followed until a
// current type is reached.
func RegisterUpcast[Old eventsourcing.DomainEvent](r *Registry, upcast func(Old) eventsourcing.DomainEvent) {
	RegisterEvent[Old](r)
	var proto Old
	r.upcasts[proto.EventType()] = func(event eventsourcing.DomainEvent) eventsourcing.DomainEvent {
		return upcast(event.(Old))
	}
}

// RegisterMetadata pins the metadata type M for one event-type tag,
// overriding the registry default.
func RegisterMetadata[M eventsourcing.EventMetadata](r *Registry, eventType string) {
	var proto M
	r.metadataDecoders[eventType] = func(data []byte) (eventsourcing.EventMetadata, error) {
		return decodeValue[M](data)
	}
	r.metadataTypes[eventType] = reflect.TypeOf(proto)
}

// UseDefaultMetadata sets M as the metadata type for every event tag without
// a per-tag registration.
func UseDefaultMetadata[M eventsourcing.EventMetadata](r *Registry) {
	var proto M
	r.defaultMetadata = func(data []byte) (eventsourcing.EventMetadata, error) {
		return decodeValue[M](data)
	}
	r.defaultMetaType = reflect.TypeOf(proto)
}

func (r *Registry) metadataFor(eventType string) (metadataDecoder, reflect.Type, error) {
	if dec, ok := r.metadataDecoders[eventType]; ok {
		return dec, r.metadataTypes[eventType], nil
	}
	if r.defaultMetadata != nil {
		return r.defaultMetadata, r.defaultMetaType, nil
	}
	return nil, nil, fmt.Errorf("no metadata type registered for event %q", eventType)
}

// Serializer encodes events for the store and decodes them on the way back,
// applying upcasts to retired event types.
type Serializer struct {
	registry *Registry
}

// NewSerializer builds a serializer over registry.
func NewSerializer(registry *Registry) *Serializer {
	return &Serializer{registry: registry}
}

// Serialize encodes the event body and its metadata. Both payloads are
// round-tripped through their registered decoders before being accepted: the
// re-encoded bytes must match and the decoded value must have the registered
// type. This catches unregistered events, lossy json tags and metadata of
// the wrong type at write time.
func (s *Serializer) Serialize(event eventsourcing.DomainEvent, metadata eventsourcing.EventMetadata) (body, meta []byte, err error) {
	tag := event.EventType()

	decoder, ok := s.registry.decoders[tag]
	if !ok {
		return nil, nil, &BodySerializationError{EventType: tag, Cause: fmt.Errorf("event type not registered")}
	}

	body, err = json.Marshal(event)
	if err != nil {
		return nil, nil, &BodySerializationError{EventType: tag, Cause: err}
	}
	decoded, err := decoder(body)
	if err != nil {
		return nil, nil, &BodySerializationError{EventType: tag, Cause: err}
	}
	if err := verifyRoundTrip(body, decoded, reflect.TypeOf(event)); err != nil {
		return nil, nil, &BodySerializationError{EventType: tag, Cause: err}
	}

	metaDecoder, metaType, err := s.registry.metadataFor(tag)
	if err != nil {
		return nil, nil, &MetadataSerializationError{EventType: tag, Cause: err}
	}
	if got := reflect.TypeOf(metadata); got != metaType {
		return nil, nil, &MetadataSerializationError{
			EventType: tag,
			Cause:     fmt.Errorf("metadata is %v, registered type is %v", got, metaType),
		}
	}

	meta, err = json.Marshal(metadata)
	if err != nil {
		return nil, nil, &MetadataSerializationError{EventType: tag, Cause: err}
	}
	decodedMeta, err := metaDecoder(meta)
	if err != nil {
		return nil, nil, &MetadataSerializationError{EventType: tag, Cause: err}
	}
	if err := verifyRoundTrip(meta, decodedMeta, metaType); err != nil {
		return nil, nil, &MetadataSerializationError{EventType: tag, Cause: err}
	}

	return body, meta, nil
}

// verifyRoundTrip re-encodes the decoded value and compares bytes. Byte
// comparison instead of DeepEqual sidesteps non-structural differences such
// as monotonic clock readings inside time.Time.
func verifyRoundTrip(original []byte, decoded any, want reflect.Type) error {
	if got := reflect.TypeOf(decoded); got != want {
		return fmt.Errorf("round trip decoded to %v, want %v", got, want)
	}
	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	if !bytes.Equal(original, reencoded) {
		return fmt.Errorf("round trip not lossless: %s != %s", original, reencoded)
	}
	return nil
}

// Deserialize decodes one stored event row. Retired event types are
// upcast, following chains until a type with no upcast is reached.
func (s *Serializer) Deserialize(eventType string, body, meta []byte) (eventsourcing.DomainEvent, eventsourcing.EventMetadata, error) {
	decoder, ok := s.registry.decoders[eventType]
	if !ok {
		return nil, nil, &BodySerializationError{EventType: eventType, Cause: fmt.Errorf("event type not registered")}
	}

	event, err := decoder(body)
	if err != nil {
		return nil, nil, &BodySerializationError{EventType: eventType, Cause: err}
	}

	for hops := 0; ; hops++ {
		upcast, ok := s.registry.upcasts[event.EventType()]
		if !ok {
			break
		}
		if hops >= maxUpcastHops {
			return nil, nil, &BodySerializationError{
				EventType: eventType,
				Cause:     fmt.Errorf("upcast chain longer than %d hops", maxUpcastHops),
			}
		}
		event = upcast(event)
	}

	metaDecoder, _, err := s.registry.metadataFor(eventType)
	if err != nil {
		return nil, nil, &MetadataSerializationError{EventType: eventType, Cause: err}
	}
	metadata, err := metaDecoder(meta)
	if err != nil {
		return nil, nil, &MetadataSerializationError{EventType: eventType, Cause: err}
	}

	return event, metadata, nil
}
