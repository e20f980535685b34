//go:build integration

package e2e_test

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/httptask"
	"github.com/adamwoolhether/httptask/engine"
	"github.com/adamwoolhether/httptask/queue"
	"github.com/adamwoolhether/httptask/storage"
	"github.com/adamwoolhether/httptask/task"
)

// -------------------------------------------------------------------------
// Types
// -------------------------------------------------------------------------

type server struct {
	Name    string `json:"name"`
	Map     string `json:"map"`
	Players int    `json:"players"`
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

var mapData = strings.Repeat("tile", 16<<10)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", serversHandler)
	mux.HandleFunc("POST /register", registerHandler)
	mux.HandleFunc("GET /maps/{name}", mapHandler)
	mux.HandleFunc("GET /hop/{n}", hopHandler)
	mux.HandleFunc("GET /gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"map removed"}`, http.StatusGone)
	})

	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

func newShared(t *testing.T, ts *httptest.Server, opts ...engine.Option) *engine.Shared {
	t.Helper()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	opts = append([]engine.Option{engine.WithLogger(log), engine.WithRootCAs(pool)}, opts...)

	shared, err := httptask.Init(opts...)
	if err != nil {
		t.Fatalf("initializing engine: %v", err)
	}
	t.Cleanup(func() { shared.Close() })

	return shared
}

func newDirs(t *testing.T) (*storage.Dirs, string) {
	t.Helper()

	dir := t.TempDir()
	dirs, err := storage.New(dir)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	return dirs, dir
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func serversHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode([]server{
		{Name: "ctf1", Map: "ctf5", Players: 8},
		{Name: "dm1", Map: "dm1", Players: 2},
	})
}

func registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "want json", http.StatusUnsupportedMediaType)
		return
	}

	var s server
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(s)
}

func mapHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(mapData)))
	w.Header().Set("X-Map", r.PathValue("name"))
	fmt.Fprint(w, mapData)
}

func hopHandler(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n == 0 {
		fmt.Fprint(w, "landed")
		return
	}

	http.Redirect(w, r, "/hop/"+strconv.Itoa(n-1), http.StatusFound)
}

// -------------------------------------------------------------------------
// Tests
// -------------------------------------------------------------------------

func TestE2E_JSONOverTLS(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts)

	tk, err := httptask.NewTask(shared, ts.URL+"/servers", task.MethodGet, task.DefaultConfig())
	if err != nil {
		t.Fatalf("creating task: %v", err)
	}

	if state := tk.Run(context.Background()); state != task.StateDone {
		t.Fatalf("state = %s: %v", state, tk.Err())
	}

	var got []server
	if err := json.Unmarshal(tk.Result(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	want := []server{
		{Name: "ctf1", Map: "ctf5", Players: 8},
		{Name: "dm1", Map: "dm1", Players: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("servers mismatch (-want +got):\n%s", diff)
	}

	if _, ok := tk.ResultJSON().([]any); !ok {
		t.Errorf("ResultJSON = %T, want []any", tk.ResultJSON())
	}
}

func TestE2E_PostJSON(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts)

	tk, err := httptask.NewTask(shared, ts.URL+"/register", task.MethodPostJSON, task.DefaultConfig())
	if err != nil {
		t.Fatalf("creating task: %v", err)
	}

	sent := server{Name: "nameless tee's server", Map: "dm2", Players: 1}
	body, _ := json.Marshal(sent)
	if err := tk.SetBody(body); err != nil {
		t.Fatalf("setting body: %v", err)
	}

	if state := tk.Run(context.Background()); state != task.StateDone {
		t.Fatalf("state = %s: %v", state, tk.Err())
	}

	var got server
	if err := json.Unmarshal(tk.Result(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got != sent {
		t.Errorf("round-trip mismatch:\n  got:  %+v\n  want: %+v", got, sent)
	}
}

func TestE2E_Redirects(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts)

	tests := []struct {
		name   string
		hops   int
		expErr error
	}{
		{name: "within limit", hops: engine.MaxRedirects},
		{name: "over limit", hops: engine.MaxRedirects + 1, expErr: engine.ErrTooManyRedirects},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := httptask.Get(context.Background(), shared, fmt.Sprintf("%s/hop/%d", ts.URL, tt.hops))
			if tt.expErr != nil {
				if !errors.Is(err, tt.expErr) {
					t.Fatalf("expected %v, got %v", tt.expErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(b) != "landed" {
				t.Errorf("body = %q", b)
			}
		})
	}
}

func TestE2E_StatusError(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts)

	_, err := httptask.Get(context.Background(), shared, ts.URL+"/gone")

	var statusErr *task.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want %d", statusErr.StatusCode, http.StatusGone)
	}
	if !strings.Contains(statusErr.Body, "map removed") {
		t.Errorf("body = %q", statusErr.Body)
	}
	if !errors.Is(err, task.ErrTransport) {
		t.Errorf("expected ErrTransport kind, got %v", err)
	}
}

func TestE2E_FileDownload(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts)
	dirs, dir := newDirs(t)

	tk, err := httptask.NewTask(shared, ts.URL+"/maps/ctf5", task.MethodGet, task.DefaultConfig())
	if err != nil {
		t.Fatalf("creating task: %v", err)
	}
	if err := tk.WriteToFile(dirs, "ctf5.map", storage.ClassSave); err != nil {
		t.Fatalf("write to file: %v", err)
	}

	if state := tk.Run(context.Background()); state != task.StateDone {
		t.Fatalf("state = %s: %v", state, tk.Err())
	}

	got, err := os.ReadFile(filepath.Join(dir, "ctf5.map"))
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != mapData {
		t.Errorf("file content differs: %d bytes, want %d", len(got), len(mapData))
	}

	snap := tk.Progress().Snapshot()
	if snap.Downloaded != int64(len(mapData)) || snap.Total != int64(len(mapData)) || snap.Percent != 100 {
		t.Errorf("progress = %+v", snap)
	}

	if tk.Result() != nil {
		t.Error("file task should not expose a result")
	}
}

func TestE2E_QueueThrottled(t *testing.T) {
	ts := newTestServer(t)
	shared := newShared(t, ts, engine.WithThrottle(40, 1))
	dirs, dir := newDirs(t)

	names := []string{"ctf1", "ctf2", "ctf3", "dm1", "dm2", "dm6"}

	q := queue.New(3)
	results := make([]*queue.Result, 0, len(names)+1)

	start := time.Now()
	for _, name := range names {
		tk, err := task.New(shared, ts.URL+"/maps/"+name, task.MethodGet, task.DefaultConfig())
		if err != nil {
			t.Fatalf("creating task %s: %v", name, err)
		}
		if err := tk.WriteToFile(dirs, name+".map", storage.ClassSave); err != nil {
			t.Fatalf("write to file %s: %v", name, err)
		}
		results = append(results, q.Start(context.Background(), tk))
	}

	api, err := task.New(shared, ts.URL+"/servers", task.MethodGet, task.DefaultConfig())
	if err != nil {
		t.Fatalf("creating api task: %v", err)
	}
	results = append(results, q.Start(context.Background(), api))

	if err := q.Wait(); err != nil {
		t.Fatalf("queue: %v", err)
	}

	// Seven requests at 40/s with a burst of one take at least 150ms.
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("throttle not applied: finished in %v", elapsed)
	}

	for _, r := range results {
		if r.State() != task.StateDone {
			t.Errorf("%s: state %s", r.Task().URL(), r.State())
		}
	}

	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name+".map"))
		if err != nil {
			t.Errorf("stat %s: %v", name, err)
			continue
		}
		if info.Size() != int64(len(mapData)) {
			t.Errorf("%s: size %d, want %d", name, info.Size(), len(mapData))
		}
	}

	if !json.Valid(api.Result()) {
		t.Errorf("api result is not json: %q", api.Result())
	}
}
