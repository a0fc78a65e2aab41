package optimizely

import "sort"

// userAttributes indexes a user's resolved attributes by key for
// audience evaluation.
type userAttributes = map[string]UserAttribute

// UserAttribute is one attribute set on a user, carrying the id the
// datafile registers for its key. Attributes under keys the datafile
// does not know keep an empty ID; audience evaluation still sees them
// by key.
type UserAttribute struct {
	ID    string
	Key   string
	Value AttributeValue
}

// UserContext identifies a user and their attributes for deciding
// flags and tracking events. It reads the client's current datafile
// snapshot at call time, so a context created once stays usable across
// background configuration swaps.
//
// A UserContext is owned by its caller and is not safe for concurrent
// use. Attribute changes affect subsequent Decide and TrackEvent calls
// only.
type UserContext struct {
	client     *Client
	userID     string
	attributes map[string]UserAttribute
}

func newUserContext(client *Client, userID string) *UserContext {
	return &UserContext{
		client:     client,
		userID:     userID,
		attributes: make(map[string]UserAttribute),
	}
}

// UserID returns the id the context was created with.
func (u *UserContext) UserID() string {
	return u.userID
}

// SetAttribute sets one attribute on the user, replacing any previous
// value under the same key. The attribute id is resolved against the
// current datafile snapshot when the attribute is set.
func (u *UserContext) SetAttribute(key string, value AttributeValue) {
	var id string
	if attribute, ok := u.client.snapshot().attribute(key); ok {
		id = attribute.ID
	}
	u.attributes[key] = UserAttribute{ID: id, Key: key, Value: value}
}

// SetStringAttribute sets a string attribute on the user.
func (u *UserContext) SetStringAttribute(key, value string) {
	u.SetAttribute(key, StringValue(value))
}

// SetIntAttribute sets an integer attribute on the user.
func (u *UserContext) SetIntAttribute(key string, value int64) {
	u.SetAttribute(key, IntValue(value))
}

// SetFloatAttribute sets a decimal attribute on the user.
func (u *UserContext) SetFloatAttribute(key string, value float64) {
	u.SetAttribute(key, FloatValue(value))
}

// SetBoolAttribute sets a boolean attribute on the user.
func (u *UserContext) SetBoolAttribute(key string, value bool) {
	u.SetAttribute(key, BoolValue(value))
}

// Attributes returns the user's attributes ordered by key.
func (u *UserContext) Attributes() []UserAttribute {
	attributes := make([]UserAttribute, 0, len(u.attributes))
	for _, attribute := range u.attributes {
		attributes = append(attributes, attribute)
	}
	sort.Slice(attributes, func(i, j int) bool {
		return attributes[i].Key < attributes[j].Key
	})
	return attributes
}

// Decide decides the flag for this user with the client's default
// decide options. It always returns a usable Decision; when no
// variation applies the off sentinel is returned.
func (u *UserContext) Decide(flagKey string) Decision {
	return u.client.decide(u, flagKey, u.client.defaultDecideOptions)
}

// DecideWithOptions is Decide with per-call options.
func (u *UserContext) DecideWithOptions(flagKey string, options DecideOptions) Decision {
	return u.client.decide(u, flagKey, options)
}

// TrackEvent submits a conversion event for this user through the
// client's event dispatcher. The event key must be registered in the
// datafile; unknown keys log a warning and track nothing. Tags and
// properties may be nil.
func (u *UserContext) TrackEvent(eventKey string, tags, properties map[string]string) {
	u.client.trackEvent(u, eventKey, tags, properties)
}
