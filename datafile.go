package optimizely

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DatafileError reports a datafile document that could not be parsed
// or failed validation.
type DatafileError struct {
	Reason string
	Err    error
}

func (e *DatafileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid datafile: %s: %v", e.Reason, e.Err)
	}
	return "invalid datafile: " + e.Reason
}

func (e *DatafileError) Unwrap() error {
	return e.Err
}

// Event is a conversion event registered in the datafile.
type Event struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Attribute is a user attribute registered in the datafile. Attributes
// set on a user under a key the datafile does not know keep an empty ID.
type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Variation is one arm of an experiment. The conventional "off"
// variation has FeatureEnabled false, every other variation true.
type Variation struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	FeatureEnabled bool   `json:"featureEnabled"`
}

// Experiment partitions its traffic across variations. Rollouts reuse
// the same shape: each rollout experiment is an audience-gated layer.
type Experiment struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	// CampaignID is the id of the layer the experiment runs in; the
	// event API attributes decisions to it.
	CampaignID string `json:"layerId"`
	// Variations lists the experiment's arms.
	Variations []*Variation `json:"variations"`
	// TrafficAllocation divides [0, 10000) over the variations in
	// ascending, non-overlapping ranges. Buckets past the last range
	// leave the user unallocated.
	TrafficAllocation []TrafficRange `json:"trafficAllocation"`
	// AudienceConditions is the raw audience-reference tree; empty or
	// absent admits every user.
	AudienceConditions json.RawMessage `json:"audienceConditions"`

	variationsByID map[string]*Variation
	audience       condition
}

// admitsUser evaluates the experiment's audience gate. An experiment
// without audience conditions admits every user.
func (e *Experiment) admitsUser(attrs userAttributes) bool {
	return e.audience == nil || e.audience.evaluate(attrs)
}

// Rollout serves a flag to users outside its experiments. The last
// rollout experiment is conventionally the "everyone else" layer.
type Rollout struct {
	ID          string        `json:"id"`
	Experiments []*Experiment `json:"experiments"`
}

// FeatureFlag wires a flag key to its experiments and its rollout.
type FeatureFlag struct {
	Key           string   `json:"key"`
	RolloutID     string   `json:"rolloutId"`
	ExperimentIDs []string `json:"experimentIds"`
}

// Datafile is one immutable snapshot of a project environment: its
// flags, experiments, rollouts, audiences and events. Snapshots are
// never mutated after parsing; configuration updates install a new
// snapshot instead.
type Datafile struct {
	AccountID      string `json:"accountId"`
	ProjectID      string `json:"projectId"`
	EnvironmentKey string `json:"environmentKey"`
	SDKKey         string `json:"sdkKey"`
	// Revision is the document revision as stored in the datafile, a
	// string-encoded non-negative integer.
	Revision     string         `json:"revision"`
	AnonymizeIP  bool           `json:"anonymizeIP"`
	BotFiltering bool           `json:"botFiltering"`
	Events       []*Event       `json:"events"`
	Attributes   []*Attribute   `json:"attributes"`
	Audiences    []*Audience    `json:"typedAudiences"`
	Experiments  []*Experiment  `json:"experiments"`
	Rollouts     []*Rollout     `json:"rollouts"`
	FeatureFlags []*FeatureFlag `json:"featureFlags"`

	revision        uint64
	flagsByKey      map[string]*FeatureFlag
	experimentsByID map[string]*Experiment
	rolloutsByID    map[string]*Rollout
	eventsByKey     map[string]*Event
	attributesByKey map[string]*Attribute
	audiencesByID   map[string]*Audience
}

// RevisionNumber returns the parsed numeric revision. Revisions only
// grow: the client swaps a snapshot in solely when its revision is
// greater than the current one.
func (df *Datafile) RevisionNumber() uint64 {
	return df.revision
}

func (df *Datafile) flag(key string) (*FeatureFlag, bool) {
	f, ok := df.flagsByKey[key]
	return f, ok
}

func (df *Datafile) experiment(id string) (*Experiment, bool) {
	e, ok := df.experimentsByID[id]
	return e, ok
}

func (df *Datafile) rolloutByID(id string) (*Rollout, bool) {
	r, ok := df.rolloutsByID[id]
	return r, ok
}

func (df *Datafile) event(key string) (*Event, bool) {
	e, ok := df.eventsByKey[key]
	return e, ok
}

func (df *Datafile) attribute(key string) (*Attribute, bool) {
	a, ok := df.attributesByKey[key]
	return a, ok
}

// parseDatafile parses and validates a datafile JSON document. The
// returned Datafile carries every lookup map and condition tree fully
// resolved, so no further allocation or parsing happens on the decide
// path.
func parseDatafile(data []byte, logger *leveledLogger) (*Datafile, error) {
	var df Datafile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, &DatafileError{Reason: "malformed JSON", Err: err}
	}
	if df.AccountID == "" {
		return nil, &DatafileError{Reason: "accountId is missing"}
	}
	if df.Revision == "" {
		return nil, &DatafileError{Reason: "revision is missing"}
	}
	revision, err := strconv.ParseUint(df.Revision, 10, 64)
	if err != nil {
		return nil, &DatafileError{Reason: fmt.Sprintf("revision %q is not a non-negative integer", df.Revision)}
	}
	df.revision = revision

	parser := &conditionParser{logger: logger}

	df.audiencesByID = make(map[string]*Audience, len(df.Audiences))
	for _, audience := range df.Audiences {
		conditions, err := parser.parseAudienceConditions(audience.Conditions)
		if err != nil {
			return nil, &DatafileError{Reason: fmt.Sprintf("audience %q", audience.ID), Err: err}
		}
		audience.conditions = conditions
		df.audiencesByID[audience.ID] = audience
	}

	df.experimentsByID = make(map[string]*Experiment, len(df.Experiments))
	for _, experiment := range df.Experiments {
		if err := df.resolveExperiment(experiment, parser); err != nil {
			return nil, err
		}
		df.experimentsByID[experiment.ID] = experiment
	}
	for _, rollout := range df.Rollouts {
		for _, experiment := range rollout.Experiments {
			if err := df.resolveExperiment(experiment, parser); err != nil {
				return nil, err
			}
		}
	}

	df.rolloutsByID = make(map[string]*Rollout, len(df.Rollouts))
	for _, rollout := range df.Rollouts {
		df.rolloutsByID[rollout.ID] = rollout
	}
	df.flagsByKey = make(map[string]*FeatureFlag, len(df.FeatureFlags))
	for _, flag := range df.FeatureFlags {
		df.flagsByKey[flag.Key] = flag
	}
	df.eventsByKey = make(map[string]*Event, len(df.Events))
	for _, event := range df.Events {
		df.eventsByKey[event.Key] = event
	}
	df.attributesByKey = make(map[string]*Attribute, len(df.Attributes))
	for _, attribute := range df.Attributes {
		df.attributesByKey[attribute.Key] = attribute
	}
	return &df, nil
}

// resolveExperiment builds the experiment's variation lookup, checks
// its traffic allocation and parses its audience gate.
func (df *Datafile) resolveExperiment(experiment *Experiment, parser *conditionParser) error {
	experiment.variationsByID = make(map[string]*Variation, len(experiment.Variations))
	for _, variation := range experiment.Variations {
		experiment.variationsByID[variation.ID] = variation
	}
	previous := -1
	for _, r := range experiment.TrafficAllocation {
		if r.EndOfRange < 0 || r.EndOfRange > maxBucketValue {
			return &DatafileError{Reason: fmt.Sprintf("experiment %q: endOfRange %d outside [0, %d]", experiment.ID, r.EndOfRange, maxBucketValue)}
		}
		if r.EndOfRange <= previous {
			return &DatafileError{Reason: fmt.Sprintf("experiment %q: traffic allocation is not ascending at endOfRange %d", experiment.ID, r.EndOfRange)}
		}
		previous = r.EndOfRange
	}
	if len(experiment.AudienceConditions) == 0 ||
		isJSONNull(experiment.AudienceConditions) ||
		isEmptyJSONArray(experiment.AudienceConditions) {
		return nil
	}
	audience, err := parser.parseExperimentAudience(experiment.AudienceConditions, df.audiencesByID)
	if err != nil {
		return &DatafileError{Reason: fmt.Sprintf("experiment %q audience conditions", experiment.ID), Err: err}
	}
	experiment.audience = audience
	return nil
}

func isJSONNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

func isEmptyJSONArray(data json.RawMessage) bool {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return false
	}
	return len(items) == 0
}
