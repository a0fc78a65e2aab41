// Package optimizelytest provides HTTP handlers that can be used to
// test optimizely scenarios in tests: one serving datafiles built from
// a declarative description, and one recording the payloads posted to
// the event API.
package optimizelytest

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
)

// Handler is an http.Handler that serves up datafiles the way the
// optimizely CDN does. The zero value is OK to use and serves no
// datafiles. Use SetProject or SetFlags to add or update the project
// served for an SDK key; each update bumps the datafile revision, so
// a polling client picks it up.
type Handler struct {
	mu        sync.Mutex
	contents  map[string][]byte
	revisions map[string]int
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != "GET" {
		http.Error(w, "only GET is allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	content := h.contents[req.URL.Path]
	h.mu.Unlock()
	if content == nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(content)
}

// SetProject sets or updates the project served by the handler for
// the given SDK key. It can be called concurrently with other Handler
// methods.
//
// Use RandomSDKKey to create a new SDK key.
func (h *Handler) SetProject(sdkKey string, project *Project) error {
	if sdkKey == "" {
		return fmt.Errorf("empty SDK key passed to optimizelytest.Handler.SetProject")
	}
	if project == nil {
		project = &Project{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.contents == nil {
		h.contents = make(map[string][]byte)
		h.revisions = make(map[string]int)
	}
	revision := h.revisions[sdkKey] + 1
	data, err := makeDatafile(project, revision)
	if err != nil {
		return err
	}
	h.revisions[sdkKey] = revision
	h.contents["/datafiles/"+sdkKey+".json"] = data
	return nil
}

// SetFlags is shorthand for SetProject with only flags.
func (h *Handler) SetFlags(sdkKey string, flags map[string]*Flag) error {
	return h.SetProject(sdkKey, &Project{Flags: flags})
}

// RandomSDKKey returns a new randomly generated SDK key
// suitable for passing to SetProject.
func RandomSDKKey() string {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(key[:])
}
