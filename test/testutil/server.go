// Package testutil provides a fixture archive service for tests: a small
// in-memory implementation of the sync/async job protocol with login,
// capabilities and range-capable product serving.
package testutil

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// FixtureJob is the server-side record of one submitted job.
type FixtureJob struct {
	ID     string
	Phases []string // phase reported on successive polls; last one repeats
	polls  int
	Error  string
}

// TAPServer is an httptest-backed fixture archive service.
type TAPServer struct {
	Server *httptest.Server

	// Username/Password accepted by /login. Empty disables auth checks.
	Username string
	Password string

	// RequireAuth rejects query submissions lacking the session cookie.
	RequireAuth bool

	// SyncBody is returned verbatim by /sync.
	SyncBody []byte
	// SyncOverflow sets the truncation header on sync responses.
	SyncOverflow bool

	// PhaseSequence drives async jobs: one phase per poll, last repeats.
	PhaseSequence []string
	// JobError is the error summary reported with an ERROR phase.
	JobError string

	// ResultBody is served at /data/result, with range support.
	ResultBody []byte

	// Version is the capability document's protocol version.
	Version string

	mu      sync.Mutex
	jobs    map[string]*FixtureJob
	nextJob int

	// Requests counts requests per path, for asserting "zero network calls".
	Requests map[string]int
}

// NewTAPServer starts a fixture service with usable defaults.
func NewTAPServer() *TAPServer {
	ts := &TAPServer{
		Username:      "alice",
		Password:      "s3cret",
		SyncBody:      []byte("<VOTABLE/>"),
		PhaseSequence: []string{"QUEUED", "EXECUTING", "COMPLETED"},
		ResultBody:    []byte("fixture result bytes"),
		Version:       "1.1",
		jobs:          map[string]*FixtureJob{},
		Requests:      map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", ts.handleLogin)
	mux.HandleFunc("/logout", ts.handleLogout)
	mux.HandleFunc("/capabilities", ts.handleCapabilities)
	mux.HandleFunc("/sync", ts.handleSync)
	mux.HandleFunc("/async", ts.handleSubmit)
	mux.HandleFunc("/async/", ts.handleJob)
	mux.HandleFunc("/data/result", ts.handleResult)
	ts.Server = httptest.NewServer(ts.counting(mux))
	return ts
}

// Close shuts the fixture down.
func (ts *TAPServer) Close() { ts.Server.Close() }

// URL returns the service base URL.
func (ts *TAPServer) URL() string { return ts.Server.URL }

// RequestCount returns how many requests hit the given path.
func (ts *TAPServer) RequestCount(path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.Requests[path]
}

func (ts *TAPServer) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.Requests[r.URL.Path]++
		ts.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (ts *TAPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("username") != ts.Username || r.PostFormValue("password") != ts.Password {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "fixture-session"})
	w.WriteHeader(http.StatusOK)
}

func (ts *TAPServer) handleLogout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (ts *TAPServer) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"version":%q,"languages":["ADQL"]}`, ts.Version)
}

func (ts *TAPServer) authorized(r *http.Request) bool {
	if !ts.RequireAuth {
		return true
	}
	ck, err := r.Cookie("session")
	return err == nil && ck.Value == "fixture-session"
}

func (ts *TAPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if ts.SyncOverflow {
		w.Header().Set("X-TAP-Overflow", "true")
	}
	w.Header().Set("Content-Type", "application/x-votable+xml")
	_, _ = w.Write(ts.SyncBody)
}

func (ts *TAPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ts.authorized(r) {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	ts.mu.Lock()
	ts.nextJob++
	job := &FixtureJob{
		ID:     fmt.Sprintf("job-%d", ts.nextJob),
		Phases: ts.PhaseSequence,
		Error:  ts.JobError,
	}
	ts.jobs[job.ID] = job
	ts.mu.Unlock()

	ts.writeJobDoc(w, job, "PENDING")
}

func (ts *TAPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/async/")
	parts := strings.Split(rest, "/")
	ts.mu.Lock()
	job, ok := ts.jobs[parts[0]]
	ts.mu.Unlock()
	if !ok {
		http.Error(w, "no such job", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodDelete:
		ts.mu.Lock()
		delete(ts.jobs, job.ID)
		ts.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case len(parts) > 1 && parts[1] == "phase" && r.Method == http.MethodPost:
		if err := r.ParseForm(); err == nil && r.PostFormValue("PHASE") == "ABORT" {
			ts.mu.Lock()
			job.Phases = []string{"ABORTED"}
			job.polls = 0
			ts.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	default:
		ts.mu.Lock()
		idx := job.polls
		if idx >= len(job.Phases) {
			idx = len(job.Phases) - 1
		}
		job.polls++
		phase := job.Phases[idx]
		ts.mu.Unlock()
		ts.writeJobDoc(w, job, phase)
	}
}

func (ts *TAPServer) writeJobDoc(w http.ResponseWriter, job *FixtureJob, phase string) {
	type result struct {
		XMLName xml.Name `xml:"result"`
		ID      string   `xml:"id,attr"`
		Href    string   `xml:"href,attr"`
		Mime    string   `xml:"mime-type,attr"`
		Size    int      `xml:"size,attr"`
	}
	type errorSummary struct {
		XMLName xml.Name `xml:"errorSummary"`
		Message string   `xml:"message"`
	}
	doc := struct {
		XMLName xml.Name      `xml:"job"`
		JobID   string        `xml:"jobId"`
		Phase   string        `xml:"phase"`
		Results []result      `xml:"results>result"`
		Error   *errorSummary `xml:"errorSummary,omitempty"`
	}{
		JobID: job.ID,
		Phase: phase,
	}
	if phase == "COMPLETED" {
		doc.Results = []result{{
			ID:   "result",
			Href: ts.Server.URL + "/data/result",
			Mime: "application/x-votable+xml",
			Size: len(ts.ResultBody),
		}}
	}
	if phase == "ERROR" && job.Error != "" {
		doc.Error = &errorSummary{Message: job.Error}
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = fmt.Fprint(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(doc)
}

func (ts *TAPServer) handleResult(w http.ResponseWriter, r *http.Request) {
	http.ServeContent(w, r, "result.vot", time.Unix(0, 0), strings.NewReader(string(ts.ResultBody)))
}
