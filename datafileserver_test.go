package optimizely

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type datafileServer struct {
	srv *httptest.Server
	key string
	t   testing.TB

	mu       sync.Mutex
	resp     *datafileResponse
	requests int
}

type datafileResponse struct {
	status int
	body   string
	sleep  time.Duration
}

func newDatafileServer(t testing.TB) *datafileServer {
	var buf [8]byte
	rand.Read(buf[:])
	return newDatafileServerWithKey(t, fmt.Sprintf("testing-%x", buf[:]))
}

func newDatafileServerWithKey(t testing.TB, sdkKey string) *datafileServer {
	srv := &datafileServer{
		t: t,
	}
	srv.srv = httptest.NewServer(srv)
	t.Cleanup(srv.srv.Close)
	srv.key = sdkKey
	return srv
}

// config returns a configuration suitable for creating a client that
// talks to the server. Events are recorded in-process; tests that
// exercise the event pipeline point EventsURL at an eventServer
// instead.
func (srv *datafileServer) config() Config {
	return Config{
		SDKKey:   srv.key,
		BaseURL:  srv.srv.URL,
		Logger:   newTestLogger(srv.t),
		LogLevel: LogLevelDebug,
		EventDispatcherFactory: func(ctx DispatcherContext) EventDispatcher {
			return &testDispatcher{}
		},
	}
}

// setResponse sets the response that will be returned from the server.
func (srv *datafileServer) setResponse(response datafileResponse) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.resp = &response
}

func (srv *datafileServer) setDatafile(df *Datafile) {
	srv.setResponse(datafileResponse{
		body: marshalJSON(df),
	})
}

// requestCount returns how many datafile fetches the server has seen.
func (srv *datafileServer) requestCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.requests
}

func (srv *datafileServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/datafiles/"+srv.key+".json" {
		srv.t.Errorf("unexpected HTTP call: %s %s", req.Method, req.URL)
		http.NotFound(w, req)
		return
	}
	if req.Method != "GET" {
		srv.t.Errorf("unexpected HTTP method: %s", req.Method)
		http.Error(w, "only GET is allowed", http.StatusMethodNotAllowed)
		return
	}
	srv.mu.Lock()
	srv.requests++
	resp0 := srv.resp
	srv.mu.Unlock()
	if resp0 == nil {
		srv.t.Errorf("HTTP call with no response provided")
		http.Error(w, "unexpected call", http.StatusInternalServerError)
		return
	}
	resp := *resp0
	time.Sleep(resp.sleep)
	if resp.status == 0 {
		resp.status = http.StatusOK
	}
	w.WriteHeader(resp.status)
	w.Write([]byte(resp.body))
}

func marshalJSON(x interface{}) string {
	data, err := json.Marshal(x)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// testDatafile returns a small but complete project: a flag behind a
// targeted experiment and an audience-gated rollout, a rollout-only
// flag, a flag with nothing to serve, and the event and attribute
// registries the other tests rely on.
func testDatafile() *Datafile {
	return &Datafile{
		AccountID: "12345",
		ProjectID: "54321",
		Revision:  "42",
		Events: []*Event{
			{ID: "ev-purchase", Key: "purchase"},
		},
		Attributes: []*Attribute{
			{ID: "attr-beta", Key: "beta"},
			{ID: "attr-country", Key: "country"},
		},
		Audiences: []*Audience{
			{
				ID:         "aud-beta",
				Name:       "Beta testers",
				Conditions: json.RawMessage(`{"match": "exact", "name": "beta", "type": "custom_attribute", "value": true}`),
			},
			{
				ID:         "aud-us",
				Name:       "US visitors",
				Conditions: json.RawMessage(`["and", {"match": "exact", "name": "country", "type": "custom_attribute", "value": "US"}]`),
			},
		},
		Experiments: []*Experiment{
			{
				ID:         "exp-beta",
				Key:        "beta_test",
				CampaignID: "camp-beta",
				Variations: []*Variation{
					{ID: "var-beta", Key: "beta_on", FeatureEnabled: true},
				},
				TrafficAllocation: []TrafficRange{
					{VariationID: "var-beta", EndOfRange: 10000},
				},
				AudienceConditions: json.RawMessage(`["or", "aud-beta"]`),
			},
		},
		Rollouts: []*Rollout{
			{
				ID: "roll-checkout",
				Experiments: []*Experiment{
					{
						ID:         "ro-us",
						Key:        "checkout_us",
						CampaignID: "camp-roll",
						Variations: []*Variation{
							{ID: "var-us", Key: "us_on", FeatureEnabled: true},
						},
						TrafficAllocation: []TrafficRange{
							{VariationID: "var-us", EndOfRange: 10000},
						},
						AudienceConditions: json.RawMessage(`["or", "aud-us"]`),
					},
					{
						ID:         "ro-everyone",
						Key:        "checkout_everyone",
						CampaignID: "camp-roll",
						Variations: []*Variation{
							{ID: "var-everyone", Key: "everyone_on", FeatureEnabled: true},
						},
						TrafficAllocation: []TrafficRange{
							{VariationID: "var-everyone", EndOfRange: 10000},
						},
					},
				},
			},
		},
		FeatureFlags: []*FeatureFlag{
			{Key: "checkout_redesign", RolloutID: "roll-checkout", ExperimentIDs: []string{"exp-beta"}},
			{Key: "rollout_only", RolloutID: "roll-checkout"},
			{Key: "always_off"},
		},
	}
}

// newTestClient returns a client running against an in-memory copy of
// df, with events recorded in the returned dispatcher.
func newTestClient(t testing.TB, df *Datafile) (*Client, *testDispatcher) {
	dispatcher := &testDispatcher{}
	client, err := NewCustomClient(Config{
		Datafile: []byte(marshalJSON(df)),
		Logger:   newTestLogger(t),
		LogLevel: LogLevelDebug,
		EventDispatcherFactory: func(ctx DispatcherContext) EventDispatcher {
			return dispatcher
		},
	})
	if err != nil {
		t.Fatalf("cannot create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, dispatcher
}

// testLogger implements the Logger interface by logging to the test.T
// instance, keeping every line for assertions.
type testLogger struct {
	mu   sync.Mutex
	t    testing.TB
	logs []string
}

func newTestLogger(t testing.TB) *testLogger {
	return &testLogger{t: t}
}

func (log *testLogger) GetLevel() LogLevel {
	return LogLevelDebug
}

func (log *testLogger) Debugf(format string, args ...interface{}) {
	log.logf("DEBUG", format, args...)
}

func (log *testLogger) Infof(format string, args ...interface{}) {
	log.logf("INFO", format, args...)
}

func (log *testLogger) Warnf(format string, args ...interface{}) {
	log.logf("WARN", format, args...)
}

func (log *testLogger) Errorf(format string, args ...interface{}) {
	log.logf("ERROR", format, args...)
}

func (log *testLogger) logf(level string, format string, args ...interface{}) {
	log.mu.Lock()
	defer log.mu.Unlock()
	s := fmt.Sprintf("%s: %s", level, fmt.Sprintf(format, args...))
	log.logs = append(log.logs, s)
	log.t.Log(s)
}

func (log *testLogger) allLogs() []string {
	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]string(nil), log.logs...)
}
