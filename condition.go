package optimizely

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// comparator identifies an ordering operator in numeric and semver
// condition leaves.
type comparator int8

const (
	opEQ comparator = iota
	opLT
	opLE
	opGT
	opGE
)

var comparatorStrings = []string{
	opEQ: "eq",
	opLT: "lt",
	opLE: "le",
	opGT: "gt",
	opGE: "ge",
}

func (op comparator) String() string {
	if int(op) < len(comparatorStrings) {
		return comparatorStrings[op]
	}
	return fmt.Sprintf("comparator(%d)", int(op))
}

// condition is a single node of an audience condition tree. Trees are
// immutable after parsing and safe for concurrent evaluation. A leaf
// that cannot be evaluated for a user (missing attribute, type
// mismatch, un-parseable version) evaluates to false rather than
// erroring, so a negation above it yields true.
type condition interface {
	evaluate(attrs userAttributes) bool
}

type andCondition struct {
	operands []condition
}

func (c *andCondition) evaluate(attrs userAttributes) bool {
	for _, operand := range c.operands {
		if !operand.evaluate(attrs) {
			return false
		}
	}
	return true
}

type orCondition struct {
	operands []condition
}

func (c *orCondition) evaluate(attrs userAttributes) bool {
	for _, operand := range c.operands {
		if operand.evaluate(attrs) {
			return true
		}
	}
	return false
}

type notCondition struct {
	operand condition
}

func (c *notCondition) evaluate(attrs userAttributes) bool {
	return !c.operand.evaluate(attrs)
}

// falseCondition substitutes leaves that can never match, such as
// references to audiences missing from the datafile or comparison
// versions that do not parse.
type falseCondition struct{}

func (falseCondition) evaluate(userAttributes) bool {
	return false
}

type existsCondition struct {
	name string
}

func (c *existsCondition) evaluate(attrs userAttributes) bool {
	attr, ok := attrs[c.name]
	return ok && !attr.Value.IsNull()
}

type boolEqualsCondition struct {
	name    string
	desired bool
}

func (c *boolEqualsCondition) evaluate(attrs userAttributes) bool {
	attr, ok := attrs[c.name]
	if !ok {
		return false
	}
	b, isBool := attr.Value.AsBool()
	return isBool && b == c.desired
}

type numberCompareCondition struct {
	name    string
	op      comparator
	desired float64
}

func (c *numberCompareCondition) evaluate(attrs userAttributes) bool {
	attr, ok := attrs[c.name]
	if !ok {
		return false
	}
	n, isNumber := attr.Value.asNumber()
	if !isNumber {
		return false
	}
	switch c.op {
	case opEQ:
		return n == c.desired
	case opLT:
		return n < c.desired
	case opLE:
		return n <= c.desired
	case opGT:
		return n > c.desired
	case opGE:
		return n >= c.desired
	}
	return false
}

type stringCompareCondition struct {
	name     string
	contains bool
	desired  string
}

func (c *stringCompareCondition) evaluate(attrs userAttributes) bool {
	attr, ok := attrs[c.name]
	if !ok {
		return false
	}
	s, isString := attr.Value.AsString()
	if !isString {
		return false
	}
	if c.contains {
		return strings.Contains(s, c.desired)
	}
	return s == c.desired
}

type semverCompareCondition struct {
	name    string
	op      comparator
	desired semver.Version
}

func (c *semverCompareCondition) evaluate(attrs userAttributes) bool {
	attr, ok := attrs[c.name]
	if !ok {
		return false
	}
	s, isString := attr.Value.AsString()
	if !isString {
		return false
	}
	v, err := semver.Make(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	switch c.op {
	case opEQ:
		return v.EQ(c.desired)
	case opLT:
		return v.LT(c.desired)
	case opLE:
		return v.LTE(c.desired)
	case opGT:
		return v.GT(c.desired)
	case opGE:
		return v.GTE(c.desired)
	}
	return false
}

// conditionParser builds condition trees out of the raw JSON the
// datafile stores them in.
type conditionParser struct {
	logger *leveledLogger
}

// parseTree parses the recursive condition form: either an array
// ["and"|"or"|"not", ...operands] or a leaf handled by parseLeaf.
func (p *conditionParser) parseTree(data json.RawMessage, parseLeaf func(json.RawMessage) (condition, error)) (condition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	if trimmed[0] != '[' {
		return parseLeaf(trimmed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("malformed condition array: %v", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("condition array without operator")
	}
	var operator string
	if err := json.Unmarshal(items[0], &operator); err != nil {
		return nil, fmt.Errorf("condition operator is not a string: %s", items[0])
	}
	operands := make([]condition, 0, len(items)-1)
	for _, item := range items[1:] {
		operand, err := p.parseTree(item, parseLeaf)
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	switch operator {
	case "and":
		return &andCondition{operands: operands}, nil
	case "or":
		return &orCondition{operands: operands}, nil
	case "not":
		if len(operands) != 1 {
			return nil, fmt.Errorf("'not' condition takes exactly one operand, got %d", len(operands))
		}
		return &notCondition{operand: operands[0]}, nil
	}
	return nil, fmt.Errorf("unknown condition operator %q", operator)
}

// parseAudienceConditions parses an audience's conditions tree, whose
// leaves are custom attribute matches.
func (p *conditionParser) parseAudienceConditions(data json.RawMessage) (condition, error) {
	return p.parseTree(data, p.parseMatchLeaf)
}

// matchLeaf is the JSON shape of a single attribute match.
type matchLeaf struct {
	Match string         `json:"match"`
	Name  string         `json:"name"`
	Type  string         `json:"type"`
	Value AttributeValue `json:"value"`
}

// parseMatchLeaf builds the concrete leaf condition for a (match, value
// type) pair. Combinations outside the supported table are parse
// errors; see the datafile documentation for the table.
func (p *conditionParser) parseMatchLeaf(data json.RawMessage) (condition, error) {
	if data[0] != '{' {
		return nil, fmt.Errorf("condition leaf is not an object: %s", data)
	}
	var leaf matchLeaf
	if err := json.Unmarshal(data, &leaf); err != nil {
		return nil, fmt.Errorf("malformed condition leaf: %v", err)
	}
	if leaf.Type != "custom_attribute" {
		return nil, fmt.Errorf("unsupported condition type %q for attribute %q", leaf.Type, leaf.Name)
	}
	switch leaf.Match {
	case "exists":
		if !leaf.Value.IsNull() {
			return nil, fmt.Errorf("'exists' condition on %q takes no value", leaf.Name)
		}
		return &existsCondition{name: leaf.Name}, nil
	case "exact":
		if b, ok := leaf.Value.AsBool(); ok {
			return &boolEqualsCondition{name: leaf.Name, desired: b}, nil
		}
		if n, ok := leaf.Value.asNumber(); ok {
			return &numberCompareCondition{name: leaf.Name, op: opEQ, desired: n}, nil
		}
		if s, ok := leaf.Value.AsString(); ok {
			return &stringCompareCondition{name: leaf.Name, desired: s}, nil
		}
		return nil, fmt.Errorf("'exact' condition on %q requires a boolean, number or string value", leaf.Name)
	case "substring":
		s, ok := leaf.Value.AsString()
		if !ok {
			return nil, fmt.Errorf("'substring' condition on %q requires a string value", leaf.Name)
		}
		return &stringCompareCondition{name: leaf.Name, contains: true, desired: s}, nil
	case "lt", "le", "gt", "ge":
		n, ok := leaf.Value.asNumber()
		if !ok {
			return nil, fmt.Errorf("%q condition on %q requires a numeric value", leaf.Match, leaf.Name)
		}
		return &numberCompareCondition{name: leaf.Name, op: comparatorForMatch(leaf.Match), desired: n}, nil
	case "semver_eq", "semver_lt", "semver_le", "semver_gt", "semver_ge":
		s, ok := leaf.Value.AsString()
		if !ok {
			return nil, fmt.Errorf("%q condition on %q requires a string value", leaf.Match, leaf.Name)
		}
		desired, err := semver.Make(strings.TrimSpace(s))
		if err != nil {
			if p.logger.enabled(LogLevelWarn) {
				p.logger.Warnf("condition on %q compares against invalid version %q; it will never match", leaf.Name, s)
			}
			return falseCondition{}, nil
		}
		return &semverCompareCondition{name: leaf.Name, op: comparatorForMatch(strings.TrimPrefix(leaf.Match, "semver_")), desired: desired}, nil
	}
	return nil, fmt.Errorf("unknown condition match %q on attribute %q", leaf.Match, leaf.Name)
}

func comparatorForMatch(match string) comparator {
	switch match {
	case "lt":
		return opLT
	case "le":
		return opLE
	case "gt":
		return opGT
	case "ge":
		return opGE
	}
	return opEQ
}
