package optimizely

// DecideOptions adjusts how decisions are made. The zero value is the
// default behavior.
type DecideOptions struct {
	// DisableDecisionEvent suppresses the decision event a successful
	// decision would otherwise submit to the event API.
	DisableDecisionEvent bool
}

// Decision is the outcome of deciding one flag for one user. It owns
// copies of the identifying strings, so it stays valid when a
// background configuration swap replaces the snapshot it came from.
type Decision struct {
	// FlagKey is the key the decision was requested for.
	FlagKey string
	// CampaignID identifies the layer the deciding experiment runs in.
	CampaignID string
	// ExperimentID identifies the deciding experiment.
	ExperimentID string
	// VariationID identifies the served variation.
	VariationID string
	// VariationKey is the human-readable name of the served variation.
	VariationKey string
	// Enabled reports whether the flag is on for this user.
	Enabled bool
}

// offDecision is the sentinel served when no variation applies: the
// flag is unknown, the rollout is exhausted, or the user falls outside
// every traffic range.
func offDecision(flagKey string) Decision {
	return Decision{
		FlagKey:      flagKey,
		VariationKey: "off",
	}
}

func newDecision(flag *FeatureFlag, experiment *Experiment, variation *Variation) Decision {
	return Decision{
		FlagKey:      flag.Key,
		CampaignID:   experiment.CampaignID,
		ExperimentID: experiment.ID,
		VariationID:  variation.ID,
		VariationKey: variation.Key,
		Enabled:      variation.FeatureEnabled,
	}
}

// hasVariation reports whether a variation was served, as opposed to
// the off sentinel.
func (d Decision) hasVariation() bool {
	return d.VariationID != ""
}
