package optimizely

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// datafileFetcher owns the current datafile snapshot and keeps it
// fresh. The snapshot lives behind an atomic pointer: decide calls
// load it once and use it for the whole call, unaffected by concurrent
// swaps, and swaps never invalidate snapshots already handed out.
type datafileFetcher struct {
	sdkKey  string
	baseURL string
	path    string
	logger  *leveledLogger
	client  *http.Client

	ctx       context.Context
	ctxCancel func()

	// wg counts the poller and watcher goroutines so that close can
	// wait for them to finish.
	wg sync.WaitGroup

	// mu serializes swap attempts. Readers never take it.
	mu      sync.Mutex
	current atomic.Value // holds *Datafile
}

// newDatafileFetcher loads the initial datafile synchronously and, per
// the configuration, starts the CDN poller and the local file watcher.
// An initial load that fails is fatal: the error is returned to the
// caller and no goroutines are left behind.
func newDatafileFetcher(cfg Config, logger *leveledLogger) (*datafileFetcher, error) {
	f := &datafileFetcher{
		sdkKey:  cfg.SDKKey,
		baseURL: cfg.BaseURL,
		path:    cfg.DatafilePath,
		logger:  logger,
		client: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: cfg.Transport,
		},
	}
	if f.baseURL == "" {
		f.baseURL = defaultBaseURL
	}
	f.ctx, f.ctxCancel = context.WithCancel(context.Background())

	initial, err := f.loadInitial(cfg)
	if err != nil {
		f.ctxCancel()
		return nil, err
	}
	f.current.Store(initial)
	f.logger.Infof("loaded datafile revision %d", initial.RevisionNumber())

	if cfg.UpdateInterval > 0 {
		if f.sdkKey == "" {
			f.logger.Warnf("UpdateInterval is set but there is no SDK key; polling disabled")
		} else {
			f.wg.Add(1)
			go f.runPoller(cfg.UpdateInterval)
		}
	}
	if cfg.WatchDatafile {
		if f.path == "" {
			f.logger.Warnf("WatchDatafile is set without DatafilePath; nothing to watch")
		} else if err := f.startWatcher(); err != nil {
			f.ctxCancel()
			f.wg.Wait()
			return nil, err
		}
	}
	return f, nil
}

// snapshot returns the current immutable datafile.
func (f *datafileFetcher) snapshot() *Datafile {
	df, _ := f.current.Load().(*Datafile)
	return df
}

// close stops the poller and watcher goroutines and waits for them.
// Cancellation plus the next tick bound the return to one interval.
func (f *datafileFetcher) close() {
	f.ctxCancel()
	f.wg.Wait()
}

func (f *datafileFetcher) loadInitial(cfg Config) (*Datafile, error) {
	switch {
	case len(cfg.Datafile) > 0:
		return parseDatafile(cfg.Datafile, f.logger)
	case cfg.DatafilePath != "":
		return f.loadFile()
	case cfg.SDKKey != "":
		return f.fetch(f.ctx)
	}
	return nil, fmt.Errorf("no datafile source configured: set SDKKey, DatafilePath or Datafile")
}

func (f *datafileFetcher) loadFile() (*Datafile, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("cannot read datafile: %v", err)
	}
	return parseDatafile(data, f.logger)
}

// datafileURL is the CDN location of the datafile for the SDK key.
func (f *datafileFetcher) datafileURL() string {
	return f.baseURL + "/datafiles/" + f.sdkKey + ".json"
}

// fetch downloads and parses the datafile once. The HTTP client's
// timeout keeps a hung fetch from outliving the poll interval by much;
// ctx cancellation aborts the request during shutdown.
func (f *datafileFetcher) fetch(ctx context.Context) (*Datafile, error) {
	request, err := http.NewRequest("GET", f.datafileURL(), nil)
	if err != nil {
		return nil, err
	}
	request = request.WithContext(ctx)
	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("datafile fetch failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("datafile fetch returned unexpected response %v", response.Status)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("datafile fetch read failed: %v", err)
	}
	return parseDatafile(body, f.logger)
}

func (f *datafileFetcher) runPoller(interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-f.ctx.Done():
			return
		}
		if err := f.refresh(f.ctx); err != nil {
			f.logger.Errorf("cannot refresh datafile: %v", err)
		}
	}
}

// refresh fetches the datafile from the CDN and installs it if its
// revision is newer than the current one.
func (f *datafileFetcher) refresh(ctx context.Context) error {
	if f.sdkKey == "" {
		return fmt.Errorf("cannot refresh datafile: no SDK key configured")
	}
	candidate, err := f.fetch(ctx)
	if err != nil {
		return err
	}
	f.maybeSwap(candidate)
	return nil
}

// reloadFile re-reads the local datafile and installs it if its
// revision is newer than the current one. Used by the file watcher.
func (f *datafileFetcher) reloadFile() error {
	candidate, err := f.loadFile()
	if err != nil {
		return err
	}
	f.maybeSwap(candidate)
	return nil
}

// maybeSwap installs candidate as the current snapshot when its
// revision is strictly greater than the current one; equal or lower
// revisions are discarded. Account id drift is tolerated but logged.
func (f *datafileFetcher) maybeSwap(candidate *Datafile) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.snapshot()
	if candidate.RevisionNumber() <= current.RevisionNumber() {
		if f.logger.enabled(LogLevelDebug) {
			f.logger.Debugf("discarding datafile revision %d: not newer than current revision %d",
				candidate.RevisionNumber(), current.RevisionNumber())
		}
		return false
	}
	if candidate.AccountID != current.AccountID {
		f.logger.Warnf("datafile account id changed from %q to %q", current.AccountID, candidate.AccountID)
	}
	f.current.Store(candidate)
	f.logger.Infof("datafile updated: revision %d -> %d", current.RevisionNumber(), candidate.RevisionNumber())
	return true
}
