package task

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSpeedGuard(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	type sample struct {
		at    time.Time
		bytes int64
		exp   bool
	}

	testCases := []struct {
		name    string
		limit   int64
		span    time.Duration
		samples []sample
	}{
		{
			name:  "no data trips after span",
			limit: 100,
			span:  2 * time.Second,
			samples: []sample{
				{at: at(500)},
				{at: at(1000)},
				{at: at(1500)},
				{at: at(2000), exp: true},
			},
		},
		{
			name:  "fast enough never trips",
			limit: 100,
			span:  time.Second,
			samples: []sample{
				{at: at(1000), bytes: 200},
				{at: at(2000), bytes: 400},
				{at: at(3000), bytes: 600},
			},
		},
		{
			name:  "recovery resets the clock",
			limit: 100,
			span:  2 * time.Second,
			samples: []sample{
				{at: at(1000), bytes: 10},
				{at: at(2000), bytes: 500},
				{at: at(3000), bytes: 510},
				{at: at(4000), bytes: 520, exp: true},
			},
		},
		{
			name:  "short span samples quickly",
			limit: 1000,
			span:  300 * time.Millisecond,
			samples: []sample{
				{at: at(100), bytes: 7},
				{at: at(200), bytes: 7},
				{at: at(300), bytes: 7, exp: true},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := newSpeedGuard(tc.limit, tc.span, t0)

			for i, s := range tc.samples {
				if got := g.stalled(s.at, s.bytes); got != s.exp {
					t.Fatalf("sample %d at %s: exp stalled=%t; got %t", i, s.at.Sub(t0), s.exp, got)
				}
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	testCases := []struct {
		line    string
		exp     headerLine
		wantErr bool
	}{
		{line: "Accept: */*", exp: headerLine{op: headerAdd, name: "Accept", value: "*/*"}},
		{line: "x-api-key:  secret ", exp: headerLine{op: headerAdd, name: "X-Api-Key", value: "secret"}},
		{line: "Authorization: Bearer a:b", exp: headerLine{op: headerAdd, name: "Authorization", value: "Bearer a:b"}},
		{line: "Accept:", exp: headerLine{op: headerRemove, name: "Accept"}},
		{line: "X-Flag;", exp: headerLine{op: headerEmpty, name: "X-Flag"}},
		{line: "X-Note: ends;", exp: headerLine{op: headerAdd, name: "X-Note", value: "ends;"}},
		{line: "nothing", wantErr: true},
		{line: "Two Words: x", wantErr: true},
		{line: "X: a\nY: b", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := parseHeader(tc.line)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidHeader) {
					t.Fatalf("exp ErrInvalidHeader; got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tc.exp, got, cmp.AllowUnexported(headerLine{})); diff != "" {
				t.Errorf("header (-want +got):\n%s", diff)
			}
		})
	}
}
