package optimizely

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type attributeKind int8

const (
	attributeNull attributeKind = iota
	attributeString
	attributeInt
	attributeFloat
	attributeBool
)

// AttributeValue holds a single user attribute or audience condition value.
// It is a closed variant over the types the datafile and the event payload
// understand: integer, decimal, boolean, string and null. The zero value
// is the null value.
type AttributeValue struct {
	kind attributeKind
	str  string
	num  float64
	intv int64
	bl   bool
}

// StringValue returns an AttributeValue holding s.
func StringValue(s string) AttributeValue {
	return AttributeValue{kind: attributeString, str: s}
}

// IntValue returns an AttributeValue holding i.
func IntValue(i int64) AttributeValue {
	return AttributeValue{kind: attributeInt, intv: i}
}

// FloatValue returns an AttributeValue holding f.
func FloatValue(f float64) AttributeValue {
	return AttributeValue{kind: attributeFloat, num: f}
}

// BoolValue returns an AttributeValue holding b.
func BoolValue(b bool) AttributeValue {
	return AttributeValue{kind: attributeBool, bl: b}
}

// NullValue returns the null AttributeValue.
func NullValue() AttributeValue {
	return AttributeValue{}
}

// IsNull reports whether the value is null.
func (v AttributeValue) IsNull() bool {
	return v.kind == attributeNull
}

// AsString returns the held string. The second return value
// is false when the value is not a string.
func (v AttributeValue) AsString() (string, bool) {
	return v.str, v.kind == attributeString
}

// AsBool returns the held boolean. The second return value
// is false when the value is not a boolean.
func (v AttributeValue) AsBool() (bool, bool) {
	return v.bl, v.kind == attributeBool
}

// AsInt returns the held integer. The second return value
// is false when the value is not an integer.
func (v AttributeValue) AsInt() (int64, bool) {
	return v.intv, v.kind == attributeInt
}

// AsFloat returns the held decimal. The second return value
// is false when the value is not a decimal.
func (v AttributeValue) AsFloat() (float64, bool) {
	return v.num, v.kind == attributeFloat
}

// asNumber widens integers and decimals to float64 for comparisons.
func (v AttributeValue) asNumber() (float64, bool) {
	switch v.kind {
	case attributeInt:
		return float64(v.intv), true
	case attributeFloat:
		return v.num, true
	}
	return 0, false
}

// Equal reports whether two values hold the same kind and content.
// An integer and a decimal of equal magnitude are not Equal.
func (v AttributeValue) Equal(other AttributeValue) bool {
	return v == other
}

// String renders the value the way the event API expects attribute
// values: integers and decimals as decimal text, booleans as "true"
// or "false", strings verbatim and null as the empty string.
func (v AttributeValue) String() string {
	switch v.kind {
	case attributeString:
		return v.str
	case attributeInt:
		return strconv.FormatInt(v.intv, 10)
	case attributeFloat:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case attributeBool:
		return strconv.FormatBool(v.bl)
	}
	return ""
}

// UnmarshalJSON accepts any JSON scalar. Numbers without a fractional
// or exponent part that fit in an int64 decode as integers, all other
// numbers as decimals.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = NullValue()
	case string:
		*v = StringValue(t)
	case bool:
		*v = BoolValue(t)
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			*v = IntValue(i)
		} else {
			f, err := t.Float64()
			if err != nil {
				return fmt.Errorf("unsupported number %q: %v", t.String(), err)
			}
			*v = FloatValue(f)
		}
	default:
		return fmt.Errorf("unsupported attribute value %s", data)
	}
	return nil
}

// MarshalJSON renders the value as the JSON scalar it holds.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case attributeString:
		return json.Marshal(v.str)
	case attributeInt:
		return json.Marshal(v.intv)
	case attributeFloat:
		return json.Marshal(v.num)
	case attributeBool:
		return json.Marshal(v.bl)
	}
	return []byte("null"), nil
}
