package optimizely

// Client metadata reported to the event API with every payload.
const (
	clientName = "go-sdk"
	version    = "1.0.0"
)

const (
	// defaultBaseURL is the CDN datafiles are fetched from.
	defaultBaseURL = "https://cdn.optimizely.com"

	// defaultEventsURL is the endpoint events are posted to.
	defaultEventsURL = "https://logx.optimizely.com/v1/events"
)
