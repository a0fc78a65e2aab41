package optimizely

import (
	"encoding/json"
	"fmt"
)

// Audience is a named, reusable condition tree. Experiments reference
// audiences by id in their audienceConditions; the references are
// resolved while the datafile is parsed, so evaluation needs no lookups.
type Audience struct {
	// ID is the unique identifier experiments reference.
	ID string `json:"id"`
	// Name is the human-readable audience name.
	Name string `json:"name"`
	// Conditions is the raw condition tree as stored in the datafile.
	Conditions json.RawMessage `json:"conditions"`

	conditions condition
}

// parseExperimentAudience parses an experiment's audienceConditions
// tree. Its leaves are audience ids, each spliced with the referenced
// audience's own condition tree. A reference to an audience missing
// from the datafile never matches.
func (p *conditionParser) parseExperimentAudience(data json.RawMessage, audiences map[string]*Audience) (condition, error) {
	return p.parseTree(data, func(leaf json.RawMessage) (condition, error) {
		var id string
		if err := json.Unmarshal(leaf, &id); err != nil {
			return nil, fmt.Errorf("audience reference is not a string: %s", leaf)
		}
		audience, ok := audiences[id]
		if !ok {
			if p.logger.enabled(LogLevelWarn) {
				p.logger.Warnf("condition references unknown audience %q; it will never match", id)
			}
			return falseCondition{}, nil
		}
		return audience.conditions, nil
	})
}
