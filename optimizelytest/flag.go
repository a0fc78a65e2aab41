package optimizelytest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	optimizely "github.com/MarkBiesheuvel/optimizely-go-sdk"
)

// Project describes the content of a test datafile: the feature flags
// of the project plus the conversion events user code may track.
type Project struct {
	// Flags holds the feature flags of the project, keyed by flag key.
	Flags map[string]*Flag

	// Events holds the keys of the conversion events registered in
	// the project.
	Events []string
}

// Flag represents an optimizely feature flag.
type Flag struct {
	// Rollout holds the percentage of traffic, from 0 to 100, that
	// receives the flag when no targeted experiment claims the user.
	Rollout int

	// Rules holds audience rules gating the rollout. A user must
	// satisfy every rule; a flag with no rules rolls out to everyone.
	Rules []Rule

	// Experiments holds targeted experiments evaluated in order,
	// ahead of the rollout.
	Experiments []Experiment
}

// Experiment represents one targeted experiment of a flag.
type Experiment struct {
	// Key names the experiment. If it's empty, a key is derived from
	// the flag key and the experiment's position.
	Key string

	// Traffic holds the percentage of traffic, from 0 to 100,
	// allocated to the experiment. Allocated users are served the
	// experiment's enabled variation; the rest fall through to the
	// next experiment or the rollout.
	Traffic int

	// Rules holds audience rules gating the experiment.
	Rules []Rule
}

// Rule is one attribute condition of an audience.
type Rule struct {
	// Attribute holds the user attribute the rule checks.
	Attribute string

	// Match holds the datafile match operator: "exists", "exact",
	// "substring", "lt", "le", "gt", "ge", "semver_eq", "semver_lt",
	// "semver_le", "semver_gt" or "semver_ge".
	Match string

	// Value holds the value the attribute is compared against. It
	// must be nil for "exists", a string for "substring" and the
	// semver operators, a number for "lt", "le", "gt" and "ge", and
	// a string, bool or number for "exact".
	Value interface{}
}

const (
	builderAccountID = "1000000"
	builderProjectID = "2000000"
)

// datafileBuilder compiles a Project into a datafile document,
// generating experiment, variation and audience ids from the flag
// keys so repeated compilations of the same project agree.
type datafileBuilder struct {
	df         *optimizely.Datafile
	attributes map[string]bool
}

func makeDatafile(project *Project, revision int) ([]byte, error) {
	b := &datafileBuilder{
		df: &optimizely.Datafile{
			AccountID: builderAccountID,
			ProjectID: builderProjectID,
			Revision:  strconv.Itoa(revision),
		},
		attributes: make(map[string]bool),
	}
	for _, key := range project.Events {
		b.df.Events = append(b.df.Events, &optimizely.Event{ID: "ev_" + key, Key: key})
	}
	flagKeys := make([]string, 0, len(project.Flags))
	for key := range project.Flags {
		flagKeys = append(flagKeys, key)
	}
	sort.Strings(flagKeys)
	for _, key := range flagKeys {
		if err := b.addFlag(key, project.Flags[key]); err != nil {
			return nil, fmt.Errorf("invalid flag %q: %v", key, err)
		}
	}
	attributeKeys := make([]string, 0, len(b.attributes))
	for key := range b.attributes {
		attributeKeys = append(attributeKeys, key)
	}
	sort.Strings(attributeKeys)
	for _, key := range attributeKeys {
		b.df.Attributes = append(b.df.Attributes, &optimizely.Attribute{ID: "attr_" + key, Key: key})
	}
	data, err := json.Marshal(b.df)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal datafile: %v", err)
	}
	return data, nil
}

func (b *datafileBuilder) addFlag(flagKey string, flag *Flag) error {
	if flag.Rollout < 0 || flag.Rollout > 100 {
		return fmt.Errorf("rollout percentage %d outside [0, 100]", flag.Rollout)
	}
	wire := &optimizely.FeatureFlag{Key: flagKey}
	for i, experiment := range flag.Experiments {
		key := experiment.Key
		if key == "" {
			key = fmt.Sprintf("%s_exp_%d", flagKey, i)
		}
		if experiment.Traffic < 0 || experiment.Traffic > 100 {
			return fmt.Errorf("experiment %q traffic percentage %d outside [0, 100]", key, experiment.Traffic)
		}
		compiled, err := b.addExperiment(key, experiment.Traffic, experiment.Rules)
		if err != nil {
			return fmt.Errorf("experiment %q: %v", key, err)
		}
		b.df.Experiments = append(b.df.Experiments, compiled)
		wire.ExperimentIDs = append(wire.ExperimentIDs, compiled.ID)
	}
	layer, err := b.addExperiment(flagKey+"_rollout", flag.Rollout, flag.Rules)
	if err != nil {
		return err
	}
	rollout := &optimizely.Rollout{
		ID:          "rollout_" + flagKey,
		Experiments: []*optimizely.Experiment{layer},
	}
	b.df.Rollouts = append(b.df.Rollouts, rollout)
	wire.RolloutID = rollout.ID
	b.df.FeatureFlags = append(b.df.FeatureFlags, wire)
	return nil
}

// addExperiment compiles one experiment layer serving a single enabled
// variation to the first traffic percent of its buckets.
func (b *datafileBuilder) addExperiment(key string, traffic int, rules []Rule) (*optimizely.Experiment, error) {
	conditions, err := b.audienceConditions("e_"+key, rules)
	if err != nil {
		return nil, err
	}
	return &optimizely.Experiment{
		ID:         "e_" + key,
		Key:        key,
		CampaignID: "l_" + key,
		Variations: []*optimizely.Variation{
			{ID: "v_" + key, Key: key + "_on", FeatureEnabled: true},
		},
		TrafficAllocation: []optimizely.TrafficRange{
			{VariationID: "v_" + key, EndOfRange: traffic * 100},
		},
		AudienceConditions: conditions,
	}, nil
}

// audienceConditions registers one audience holding the rules joined
// with "and" and returns the condition tree referencing it. No rules
// compile to no conditions, which admits every user.
func (b *datafileBuilder) audienceConditions(owner string, rules []Rule) (json.RawMessage, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	operands := make([]interface{}, 0, len(rules)+1)
	operands = append(operands, "and")
	for _, rule := range rules {
		leaf, err := rule.leaf()
		if err != nil {
			return nil, err
		}
		operands = append(operands, leaf)
		b.attributes[rule.Attribute] = true
	}
	conditions, err := json.Marshal(operands)
	if err != nil {
		return nil, err
	}
	audienceID := "a_" + owner
	b.df.Audiences = append(b.df.Audiences, &optimizely.Audience{
		ID:         audienceID,
		Name:       "audience of " + owner,
		Conditions: conditions,
	})
	references, err := json.Marshal([]interface{}{"or", audienceID})
	if err != nil {
		return nil, err
	}
	return references, nil
}

func (r Rule) leaf() (map[string]interface{}, error) {
	if r.Attribute == "" {
		return nil, fmt.Errorf("empty rule attribute")
	}
	switch r.Match {
	case "exists":
		if r.Value != nil {
			return nil, fmt.Errorf("exists rule on %q takes no value", r.Attribute)
		}
	case "exact":
		switch r.Value.(type) {
		case string, bool, int, int64, float64:
		default:
			return nil, fmt.Errorf("exact rule on %q requires a string, bool or number value, got %T", r.Attribute, r.Value)
		}
	case "substring", "semver_eq", "semver_lt", "semver_le", "semver_gt", "semver_ge":
		if _, ok := r.Value.(string); !ok {
			return nil, fmt.Errorf("%s rule on %q requires a string value, got %T", r.Match, r.Attribute, r.Value)
		}
	case "lt", "le", "gt", "ge":
		switch r.Value.(type) {
		case int, int64, float64:
		default:
			return nil, fmt.Errorf("%s rule on %q requires a numeric value, got %T", r.Match, r.Attribute, r.Value)
		}
	default:
		return nil, fmt.Errorf("unknown rule match %q", r.Match)
	}
	leaf := map[string]interface{}{
		"match": r.Match,
		"name":  r.Attribute,
		"type":  "custom_attribute",
	}
	if r.Value != nil {
		leaf["value"] = r.Value
	}
	return leaf, nil
}
