package optimizely

// decide runs the decision algorithm for one flag: targeted
// experiments first, in datafile order, then the flag's rollout as the
// fallback. It always returns a usable Decision and never blocks on
// event delivery.
func (client *Client) decide(user *UserContext, flagKey string, options DecideOptions) Decision {
	df := client.snapshot()
	flag, ok := df.flag(flagKey)
	if !ok {
		client.logger.Warnf("no flag %q in datafile revision %d", flagKey, df.RevisionNumber())
		return offDecision(flagKey)
	}

	decision := client.decideFlag(df, user, flag)

	// The off sentinel carries no variation, so there is nothing to
	// attribute a decision event to.
	if decision.hasVariation() && !options.DisableDecisionEvent {
		client.dispatcher.SendDecision(newVisitor(user), decision)
	}
	return decision
}

func (client *Client) decideFlag(df *Datafile, user *UserContext, flag *FeatureFlag) Decision {
	logger := client.logger

	// Targeted experiments take precedence over the rollout.
	for _, experimentID := range flag.ExperimentIDs {
		experiment, ok := df.experiment(experimentID)
		if !ok {
			logger.Warnf("flag %q references unknown experiment %q", flag.Key, experimentID)
			continue
		}
		if !experiment.admitsUser(user.attributes) {
			if logger.enabled(LogLevelDebug) {
				logger.Debugf("user %q does not match the audience of experiment %q", user.userID, experiment.Key)
			}
			continue
		}
		if variation := bucketUser(user, experiment); variation != nil {
			if logger.enabled(LogLevelDebug) {
				logger.Debugf("user %q bucketed into variation %q of experiment %q", user.userID, variation.Key, experiment.Key)
			}
			return newDecision(flag, experiment, variation)
		}
		// The user's bucket falls outside the experiment's traffic
		// allocation; the next experiment may still claim them.
		if logger.enabled(LogLevelDebug) {
			logger.Debugf("user %q not allocated by experiment %q", user.userID, experiment.Key)
		}
	}

	// Rollout fallback: the first layer whose audience admits the user
	// decides, allocated or not.
	rollout, ok := df.rolloutByID(flag.RolloutID)
	if !ok {
		if flag.RolloutID != "" {
			logger.Warnf("flag %q references unknown rollout %q", flag.Key, flag.RolloutID)
		}
		return offDecision(flag.Key)
	}
	for _, experiment := range rollout.Experiments {
		if !experiment.admitsUser(user.attributes) {
			continue
		}
		if variation := bucketUser(user, experiment); variation != nil {
			if logger.enabled(LogLevelDebug) {
				logger.Debugf("user %q bucketed into variation %q of rollout %q", user.userID, variation.Key, rollout.ID)
			}
			return newDecision(flag, experiment, variation)
		}
		break
	}
	return offDecision(flag.Key)
}

// trackEvent resolves the event key in the current snapshot and
// submits a conversion through the dispatcher. Unknown event keys are
// logged and tracked as nothing.
func (client *Client) trackEvent(user *UserContext, eventKey string, tags, properties map[string]string) {
	event, ok := client.snapshot().event(eventKey)
	if !ok {
		client.logger.Warnf("no event %q in datafile; conversion not tracked", eventKey)
		return
	}
	client.dispatcher.SendConversion(newVisitor(user), newConversion(event.ID, event.Key, properties, tags))
}
