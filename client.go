// Package optimizely implements the core of an Optimizely
// feature-flag and experimentation SDK client: deciding which
// variation of a flag a user is served, keeping the datafile fresh in
// the background, and reporting decision and conversion events to the
// event API.
package optimizely

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds requests to the CDN and the event API when
// Config.HTTPTimeout is not set.
const DefaultHTTPTimeout = 10 * time.Second

// MaxHTTPTimeout is the longest request timeout a Client uses.
// Config.HTTPTimeout values above it are capped.
const MaxHTTPTimeout = 30 * time.Second

// Config describes the configuration options for a Client.
type Config struct {
	// SDKKey selects the project environment whose datafile is fetched
	// from the CDN. It is mandatory unless Datafile or DatafilePath
	// supplies the configuration instead.
	SDKKey string

	// Logger is used to log information about datafile updates,
	// decisions and event delivery. If it's nil,
	// DefaultLogger(LogLevelWarn) is used.
	Logger Logger

	// LogLevel overrides the level of Logger. The zero value keeps the
	// level Logger reports.
	LogLevel LogLevel

	// BaseURL holds the URL of the CDN serving datafiles. If it's
	// empty, the public Optimizely CDN is used.
	BaseURL string

	// EventsURL holds the URL of the event API endpoint. If it's
	// empty, the public Optimizely endpoint is used.
	EventsURL string

	// Transport is used as the HTTP transport for all requests. If
	// it's nil, http.DefaultTransport is used.
	Transport http.RoundTripper

	// HTTPTimeout bounds every HTTP request made by the client. If
	// it's not positive, DefaultHTTPTimeout is used; values above
	// MaxHTTPTimeout are capped.
	HTTPTimeout time.Duration

	// UpdateInterval is the cadence of background datafile polling. If
	// it's not positive, the client never polls.
	UpdateInterval time.Duration

	// Datafile supplies the datafile document directly instead of
	// fetching it from the CDN.
	Datafile []byte

	// DatafilePath reads the datafile from a local file instead of
	// fetching it from the CDN.
	DatafilePath string

	// WatchDatafile reloads DatafilePath whenever the file changes.
	WatchDatafile bool

	// DefaultDecideOptions applies to every Decide call that does not
	// carry its own options.
	DefaultDecideOptions DecideOptions

	// EventDispatcherFactory builds the event dispatcher the client
	// submits decision and conversion events through. If it's nil, a
	// SimpleEventDispatcher is used.
	EventDispatcherFactory func(ctx DispatcherContext) EventDispatcher
}

// Client decides feature flags for users against the current datafile
// snapshot. All methods are safe for concurrent use; decisions are
// pure in-memory computations that never block on the network.
type Client struct {
	logger               *leveledLogger
	fetcher              *datafileFetcher
	dispatcher           EventDispatcher
	defaultDecideOptions DecideOptions
	closeOnce            sync.Once
}

// NewClient returns a Client that fetches its datafile from the CDN
// using the given SDK key. The initial fetch happens synchronously: a
// datafile that cannot be fetched or parsed fails construction.
func NewClient(sdkKey string) (*Client, error) {
	return NewCustomClient(Config{SDKKey: sdkKey})
}

// NewCustomClient returns a Client with advanced configuration.
func NewCustomClient(cfg Config) (*Client, error) {
	logger := newLeveledLogger(cfg.Logger, cfg.LogLevel)
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	} else if cfg.HTTPTimeout > MaxHTTPTimeout {
		logger.Warnf("HTTPTimeout %v exceeds the %v maximum; capping", cfg.HTTPTimeout, MaxHTTPTimeout)
		cfg.HTTPTimeout = MaxHTTPTimeout
	}
	fetcher, err := newDatafileFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	df := fetcher.snapshot()
	eventsURL := cfg.EventsURL
	if eventsURL == "" {
		eventsURL = defaultEventsURL
	}
	dispatcherContext := DispatcherContext{
		AccountID:   df.AccountID,
		AnonymizeIP: df.AnonymizeIP,
		EventsURL:   eventsURL,
		HTTPClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: cfg.Transport,
		},
		Logger: logger,
	}
	factory := cfg.EventDispatcherFactory
	if factory == nil {
		factory = func(ctx DispatcherContext) EventDispatcher {
			return NewSimpleEventDispatcher(ctx)
		}
	}

	return &Client{
		logger:               logger,
		fetcher:              fetcher,
		dispatcher:           factory(dispatcherContext),
		defaultDecideOptions: cfg.DefaultDecideOptions,
	}, nil
}

// CreateUserContext returns a new user context bound to this client.
// The context reads the client's current datafile snapshot at each
// Decide or TrackEvent call, so it stays usable across background
// configuration updates.
func (client *Client) CreateUserContext(userID string) *UserContext {
	return newUserContext(client, userID)
}

// Snapshot returns the current immutable datafile. The returned value
// is never mutated: configuration updates install a new snapshot, and
// a snapshot already obtained stays valid for as long as it is held.
func (client *Client) Snapshot() *Datafile {
	return client.fetcher.snapshot()
}

func (client *Client) snapshot() *Datafile {
	return client.fetcher.snapshot()
}

// Refresh fetches the datafile from the CDN immediately, outside the
// polling schedule, and installs it if its revision is newer than the
// current one. If the context is canceled the fetch is abandoned.
func (client *Client) Refresh(ctx context.Context) error {
	return client.fetcher.refresh(ctx)
}

// Close shuts down the client: it stops datafile polling and watching
// first, then closes the event dispatcher, which drains and posts any
// events still buffered. Close blocks until the dispatcher's worker
// has exited. After closing, the client shouldn't be used.
func (client *Client) Close() {
	client.closeOnce.Do(func() {
		client.fetcher.close()
		if err := client.dispatcher.Close(); err != nil {
			client.logger.Errorf("event dispatcher close failed: %v", err)
		}
	})
}
