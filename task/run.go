package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/httptask/engine"
)

const chunkSize = 16 << 10

// Run performs the exchange on the calling goroutine and returns the
// terminal state. Only the first call runs the task; later calls return the
// current state without blocking.
//
// Cancelling ctx behaves like Abort and ends the task ABORTED. A ctx
// deadline ends it in ERROR.
func (t *Task) Run(ctx context.Context) State {
	if !t.started.CompareAndSwap(false, true) {
		return t.State()
	}

	ctx, span := t.shared.Tracer().Start(ctx, "task.Run", trace.WithAttributes(
		attribute.String("url", t.url),
		attribute.String("method", t.method.String()),
		attribute.String("task", t.id.String()),
	))
	defer span.End()

	start := time.Now()

	state, err := t.run(ctx)
	state, err = t.complete(state, err)

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.state.Store(int32(state))

	span.SetAttributes(attribute.String("state", state.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	switch {
	case state != StateDone && t.logs(LogFailures):
		t.logger.Warn("request failed", "state", state, "error", err)
	case state == StateDone && t.logs(LogAll):
		t.logger.Info("task done", "bytes", t.progress.Snapshot().Downloaded, "elapsed", time.Since(start).Round(time.Millisecond))
	}

	return state
}

func (t *Task) run(ctx context.Context) (State, error) {
	if err := t.sink.Open(); err != nil {
		return StateError, &Error{Kind: ErrPreflight, URL: t.url, Err: err}
	}

	t.state.Store(int32(StateRunning))

	if t.progress.AbortRequested() {
		return StateAborted, &Error{Kind: ErrAborted, URL: t.url}
	}

	client, err := t.shared.Client()
	if err != nil {
		return StateError, &Error{Kind: ErrTransport, URL: t.url, Err: err}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ctx = engine.WithDialOptions(ctx, engine.DialOptions{
		ConnectTimeout: t.cfg.ConnectTimeout,
		IPResolve:      t.cfg.IPResolve,
	})
	if t.shared.Debug() {
		ctx = engine.WithDebugTrace(ctx, t.logger)
	}

	req, err := t.request(ctx)
	if err != nil {
		return StateError, &Error{Kind: ErrTransport, URL: t.url, Err: err}
	}

	if t.logs(LogAll) {
		t.logger.Info("fetching", "method", t.method)
	}

	stop := t.watch(ctx, cancel)
	err = t.exchange(client, req, cancel)
	stop()

	return t.outcome(ctx, err)
}

// request builds the outgoing request. Header lines are applied after the
// method defaults so callers can override or remove them.
func (t *Task) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if t.method.sendsBody() {
		body = bytes.NewReader(t.body)
	}

	req, err := http.NewRequestWithContext(ctx, t.method.verb(), t.url, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	switch t.method {
	case MethodPost:
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case MethodPostJSON:
		req.Header.Set("Content-Type", "application/json")
	}

	for _, h := range t.headers {
		h.apply(req)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// exchange sends req and streams the response body into the sink in
// arrival order.
func (t *Task) exchange(client *http.Client, req *http.Request, cancel context.CancelCauseFunc) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil && t.logs(LogAll) {
			t.logger.Debug("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
		}
	}

	total := max(resp.ContentLength, 0)
	t.progress.Update(0, total)

	buf := make([]byte, chunkSize)
	var downloaded int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			w, werr := t.sink.Write(buf[:n])
			if werr == nil && w != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrWrite, w, n, werr)
			}

			if t.checksum != nil {
				t.checksum.Write(buf[:n])
			}

			downloaded += int64(n)
			t.progress.Update(downloaded, total)
			if t.onProgress != nil {
				t.onProgress(t.progress.Snapshot())
			}

			if t.progress.AbortRequested() {
				cancel(ErrAborted)
				return ErrAborted
			}
		}

		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading body: %w", rerr)
		}
	}
}

// outcome maps the exchange result to a state. An abort, from the flag or
// from the caller cancelling ctx, is kept apart from every other failure.
func (t *Task) outcome(ctx context.Context, err error) (State, error) {
	if err == nil {
		return StateDone, nil
	}

	cause := context.Cause(ctx)

	switch {
	case errors.Is(err, ErrAborted), errors.Is(cause, ErrAborted):
		return StateAborted, &Error{Kind: ErrAborted, URL: t.url}

	case errors.Is(cause, ErrLowSpeed):
		return StateError, &Error{
			Kind: ErrTransport,
			URL:  t.url,
			Err:  fmt.Errorf("%w: under %d bytes/s for %s", ErrLowSpeed, t.cfg.LowSpeedLimit, t.cfg.LowSpeedTime),
		}

	case ctx.Err() != nil && errors.Is(cause, context.Canceled):
		return StateAborted, &Error{Kind: ErrAborted, URL: t.url, Err: cause}

	default:
		return StateError, &Error{Kind: ErrTransport, URL: t.url, Err: err}
	}
}

// complete finalizes the sink, runs the caller's hook and removes partial
// output. Only DONE can be downgraded; ERROR and ABORTED are kept.
func (t *Task) complete(state State, err error) (State, error) {
	if state == StateDone {
		if cerr := t.checksum.Verify(); cerr != nil {
			state, err = StateError, &Error{Kind: ErrFinalize, URL: t.url, Err: cerr}
		}
	}

	if ferr := t.sink.Finalize(); ferr != nil {
		t.logger.Error("finalizing output", "dest", t.dest, "error", ferr)
		if state == StateDone {
			state, err = StateError, &Error{Kind: ErrFinalize, URL: t.url, Err: ferr}
		}
	}

	if t.onComplete != nil {
		t.pending.Store(int32(state))
		herr := t.onComplete(t, state)
		t.pending.Store(int32(StateQueued))

		if herr != nil && state == StateDone {
			state, err = StateError, &Error{Kind: ErrFinalize, URL: t.url, Err: herr}
		}
	}

	if state != StateDone {
		t.sink.Discard()
	}

	return state, err
}

func (t *Task) logs(level LogLevel) bool {
	return t.shared.Debug() || t.cfg.LogLevel >= level
}
