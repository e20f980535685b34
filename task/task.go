package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/adamwoolhether/httptask/engine"
	"github.com/adamwoolhether/httptask/internal/validate"
	"github.com/adamwoolhether/httptask/progress"
	"github.com/adamwoolhether/httptask/sink"
	"github.com/adamwoolhether/httptask/storage"
)

// PathResolver turns a destination relative to a storage class into an
// absolute path. *storage.Dirs implements it.
type PathResolver interface {
	ResolvePath(class storage.Class, path string) (string, error)
}

// Task is one HTTP exchange. Configure it with SetBody, AddHeader and
// WriteToFile, then call Run once. Progress, State and Abort may be used
// from any goroutine at any time.
type Task struct {
	id     uuid.UUID
	shared *engine.Shared
	url    string
	method Method
	cfg    Config

	body    []byte
	headers []headerLine
	dest    string
	sink    sink.Sink
	mem     *sink.Memory

	progress progress.Channel
	started  atomic.Bool
	state    atomic.Int32
	pending  atomic.Int32 // state seen by the completion hook

	mu  sync.Mutex
	err error

	logger     *slog.Logger
	checksum   *checksumVerifier
	onComplete func(*Task, State) error
	onProgress func(progress.Snapshot)
}

// New builds a task fetching rawURL with method through shared. The URL must
// be absolute http or https, and cfg must pass validation.
func New(shared *engine.Shared, rawURL string, method Method, cfg Config, optFns ...Option) (*Task, error) {
	if shared == nil {
		return nil, errors.New("shared engine must not be nil")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if !method.valid() {
		return nil, fmt.Errorf("unknown method %d", method)
	}

	if err := validate.Check(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidURL, URL: rawURL, Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &Error{Kind: ErrInvalidURL, URL: rawURL, Err: errors.New("url must be absolute")}
	}
	if !engine.AllowedScheme(u.Scheme) {
		return nil, &Error{Kind: ErrInvalidURL, URL: rawURL, Err: fmt.Errorf("%w: %q", engine.ErrUnsupportedProtocol, u.Scheme)}
	}

	id := uuid.New()

	logger := opts.logger
	if logger == nil {
		logger = shared.Logger()
	}

	mem := sink.NewMemory()

	return &Task{
		id:         id,
		shared:     shared,
		url:        rawURL,
		method:     method,
		cfg:        cfg,
		sink:       mem,
		mem:        mem,
		logger:     logger.With("task", id.String(), "url", rawURL),
		checksum:   opts.checksum,
		onComplete: opts.onComplete,
		onProgress: opts.onProgress,
	}, nil
}

// SetBody sets the request body sent by POST and POST-JSON tasks. HEAD and
// GET tasks never send it. The bytes are copied.
func (t *Task) SetBody(body []byte) error {
	if t.started.Load() {
		return ErrStarted
	}

	t.body = bytes.Clone(body)

	return nil
}

// AddHeader appends a raw header line. "Name: value" adds a header,
// "Name:" removes a header the engine would otherwise send, and "Name;"
// sends the header with an empty value.
func (t *Task) AddHeader(line string) error {
	if t.started.Load() {
		return ErrStarted
	}

	h, err := parseHeader(line)
	if err != nil {
		return err
	}

	t.headers = append(t.headers, h)

	return nil
}

// WriteToFile streams the response into dest, resolved within class by r,
// instead of memory. The file is created on Run and removed again if the
// task does not finish DONE.
func (t *Task) WriteToFile(r PathResolver, dest string, class storage.Class) error {
	if t.started.Load() {
		return ErrStarted
	}
	if r == nil {
		return errors.New("path resolver must not be nil")
	}

	abs, err := r.ResolvePath(class, dest)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", dest, err)
	}

	t.dest = abs
	t.sink = sink.NewFile(abs, t.logger)
	t.mem = nil

	return nil
}

// ID returns the task identifier used in logs and traces.
func (t *Task) ID() uuid.UUID { return t.id }

// URL returns the target URL.
func (t *Task) URL() string { return t.url }

// Method returns the exchange kind.
func (t *Task) Method() Method { return t.method }

// Dest returns the absolute destination path, or "" for a memory task.
func (t *Task) Dest() string { return t.dest }

// Progress returns the task's progress channel.
func (t *Task) Progress() *progress.Channel { return &t.progress }

// Abort requests cancellation. It may be called from any goroutine, before
// or during Run; after Run returns it has no effect.
func (t *Task) Abort() { t.progress.RequestAbort() }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Err returns the terminal error, or nil while queued, running or done.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Result returns the response body of a memory task that finished DONE,
// otherwise nil. A completion hook handed DONE can read it too. The slice is
// owned by the task and must not be modified.
func (t *Task) Result() []byte {
	if t.mem == nil {
		return nil
	}
	if t.State() != StateDone && State(t.pending.Load()) != StateDone {
		return nil
	}

	return t.mem.Bytes()
}

// ResultJSON decodes Result as JSON. It returns nil when there is no result
// or it is not valid JSON.
func (t *Task) ResultJSON() any {
	b := t.Result()
	if len(b) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	return v
}

// EscapeURL percent-encodes s for use as a single URL component. Only
// unreserved characters are left as is.
func EscapeURL(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// =============================================================================

type headerOp int

const (
	headerAdd headerOp = iota
	headerRemove
	headerEmpty
)

type headerLine struct {
	op    headerOp
	name  string
	value string
}

func parseHeader(line string) (headerLine, error) {
	if strings.ContainsAny(line, "\r\n") {
		return headerLine{}, fmt.Errorf("%w: %q contains a line break", ErrInvalidHeader, line)
	}

	var h headerLine
	if name, ok := strings.CutSuffix(strings.TrimSpace(line), ";"); ok && !strings.Contains(name, ":") {
		h = headerLine{op: headerEmpty, name: strings.TrimSpace(name)}
	} else {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return headerLine{}, fmt.Errorf("%w: %q has no colon", ErrInvalidHeader, line)
		}
		h = headerLine{op: headerAdd, name: strings.TrimSpace(name), value: strings.TrimSpace(value)}
		if h.value == "" {
			h.op = headerRemove
		}
	}

	if h.name == "" || strings.ContainsAny(h.name, " \t") {
		return headerLine{}, fmt.Errorf("%w: bad name in %q", ErrInvalidHeader, line)
	}
	h.name = textproto.CanonicalMIMEHeaderKey(h.name)

	return h, nil
}

func (h headerLine) apply(req *http.Request) {
	if h.name == "Host" {
		if h.op == headerAdd {
			req.Host = h.value
		}
		return
	}

	switch h.op {
	case headerAdd:
		req.Header.Add(h.name, h.value)
	case headerEmpty:
		req.Header.Set(h.name, "")
	case headerRemove:
		req.Header.Del(h.name)
		if h.name == "User-Agent" {
			req.Header.Set(h.name, "")
		}
	}
}
