package throttle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRoundTripper_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    Config
		expErr error
	}{
		{name: "Invalid RPS (zero)", cfg: Config{RPS: 0, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "Invalid RPS (negative)", cfg: Config{RPS: -5, Burst: 10}, expErr: ErrMustNotBeZero},
		{name: "Invalid Burst (zero)", cfg: Config{RPS: 10, Burst: 0}, expErr: ErrMustNotBeZero},
		{name: "Invalid Burst (negative)", cfg: Config{RPS: 10, Burst: -1}, expErr: ErrMustNotBeZero},
		{name: "Valid", cfg: Config{RPS: 10, Burst: 5}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := NewRoundTripper(tc.cfg, nil, http.DefaultTransport)
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got: %v", tc.expErr, err)
				}
				return
			}

			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
			}
			if rt == nil {
				t.Error("exp non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTripper_Behavior(t *testing.T) {
	testCases := []struct {
		name          string
		cfg           Config
		numRequests   int
		reqTimeout    time.Duration
		preCancel     bool
		expectReqErrs int
		expErr        error
		minDuration   time.Duration
		maxDuration   time.Duration
	}{
		{
			name:        "High Limits - Concurrent Load",
			cfg:         Config{RPS: 10000, Burst: 100},
			numRequests: 50,
			maxDuration: 500 * time.Millisecond,
		},
		{
			name:          "Low Limit - Exceed Burst & Timeout Waiting",
			cfg:           Config{RPS: 5, Burst: 2},
			numRequests:   5,
			reqTimeout:    50 * time.Millisecond,
			expectReqErrs: 3,
			expErr:        ErrWaitingFailed,
		},
		{
			name:        "Low Limit - Exceed Burst - Succeed Waiting",
			cfg:         Config{RPS: 10, Burst: 5},
			numRequests: 8,
			reqTimeout:  time.Second,
			// (8-5) requests / 10 RPS.
			minDuration: 250 * time.Millisecond,
		},
		{
			name:          "Pre-Cancelled Context Fails Early",
			cfg:           Config{RPS: 20, Burst: 10},
			numRequests:   1,
			preCancel:     true,
			expectReqErrs: 1,
			expErr:        ErrContextEnded,
			maxDuration:   100 * time.Millisecond,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			rt, err := NewRoundTripper(tc.cfg, nil, http.DefaultTransport)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{Transport: rt}

			var wg sync.WaitGroup
			errs := make([]error, tc.numRequests)
			start := time.Now()

			for i := range tc.numRequests {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()

					ctx, cancel := context.WithCancel(t.Context())
					defer cancel()
					if tc.reqTimeout > 0 {
						var timeoutCancel context.CancelFunc
						ctx, timeoutCancel = context.WithTimeout(ctx, tc.reqTimeout)
						defer timeoutCancel()
					}
					if tc.preCancel {
						cancel()
					}

					req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
					if err != nil {
						errs[idx] = err
						return
					}

					resp, err := client.Do(req)
					if err != nil {
						errs[idx] = err
						return
					}
					resp.Body.Close()
				}(i)
			}

			wg.Wait()
			duration := time.Since(start)

			var failed int
			for i, err := range errs {
				if err == nil {
					continue
				}
				failed++
				t.Logf("request %d failed with: %v", i, err)
				if tc.expErr != nil && !errors.Is(err, tc.expErr) {
					t.Errorf("exp %v; got %v", tc.expErr, err)
				}
			}

			if failed != tc.expectReqErrs {
				t.Errorf("exp %d failed requests; got %d", tc.expectReqErrs, failed)
			}
			if got := int(calls.Load()); got != tc.numRequests-failed {
				t.Errorf("exp %d calls to reach the server; got %d", tc.numRequests-failed, got)
			}
			if tc.minDuration > 0 && duration < tc.minDuration {
				t.Errorf("exp throttle to slow execution to >= %v; took %v", tc.minDuration, duration)
			}
			if tc.maxDuration > 0 && duration > tc.maxDuration {
				t.Errorf("exp execution under %v; took %v", tc.maxDuration, duration)
			}
		})
	}
}

func TestRoundTripper_LogsExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rt, err := NewRoundTripper(Config{RPS: 50, Burst: 1}, func() *slog.Logger { return logger }, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	for range 3 {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "throttle tokens exhausted") {
		t.Errorf("exp exhaustion to be logged; got logs:\n%s", buf.String())
	}
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
