package optimizely

import (
	"time"

	"github.com/google/uuid"
)

// Conversion is one user-action event in the wire form the event API
// expects. A fresh v4 UUID and timestamp are assigned when the
// conversion is built, so the event API can deduplicate retransmitted
// payloads.
type Conversion struct {
	// UUID uniquely identifies this occurrence of the event.
	UUID string `json:"uuid"`
	// Timestamp is the event time in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
	// EntityID is the datafile id of the event, or the campaign id for
	// the conversion accompanying a decision.
	EntityID string `json:"entity_id"`
	// Key is the event key as registered in the datafile.
	Key string `json:"key"`
	// Properties hold free-form event properties.
	Properties map[string]string `json:"properties"`
	// Tags hold free-form event tags.
	Tags map[string]string `json:"tags"`
}

// newConversion stamps one conversion event with a UUID and the
// current time. Nil properties or tags become empty maps so they
// serialize as {} rather than null.
func newConversion(entityID, key string, properties, tags map[string]string) Conversion {
	if properties == nil {
		properties = map[string]string{}
	}
	if tags == nil {
		tags = map[string]string{}
	}
	return Conversion{
		UUID:       uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		EntityID:   entityID,
		Key:        key,
		Properties: properties,
		Tags:       tags,
	}
}
