package task

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adamwoolhether/httptask/engine"
)

// State is the lifecycle position of a Task.
type State int32

const (
	StateQueued State = iota
	StateRunning
	StateDone
	StateError
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateAborted
}

// =============================================================================

// Method is the kind of exchange a Task performs.
type Method int

const (
	MethodGet Method = iota
	MethodHead
	MethodPost
	MethodPostJSON
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "get"
	case MethodHead:
		return "head"
	case MethodPost:
		return "post"
	case MethodPostJSON:
		return "post-json"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "get":
		*m = MethodGet
	case "head":
		*m = MethodHead
	case "post":
		*m = MethodPost
	case "post-json", "post_json", "json":
		*m = MethodPostJSON
	default:
		return fmt.Errorf("unknown method %q", text)
	}
	return nil
}

func (m Method) valid() bool {
	return m >= MethodGet && m <= MethodPostJSON
}

func (m Method) verb() string {
	switch m {
	case MethodHead:
		return http.MethodHead
	case MethodPost, MethodPostJSON:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

func (m Method) sendsBody() bool {
	return m == MethodPost || m == MethodPostJSON
}

// =============================================================================

// LogLevel controls which task events are logged.
type LogLevel int

const (
	LogSilent LogLevel = iota
	LogFailures
	LogAll
)

func (l LogLevel) String() string {
	switch l {
	case LogSilent:
		return "silent"
	case LogFailures:
		return "failures"
	case LogAll:
		return "all"
	default:
		return fmt.Sprintf("loglevel(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LogLevel) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "silent", "none":
		*l = LogSilent
	case "", "failures", "failure":
		*l = LogFailures
	case "all":
		*l = LogAll
	default:
		return fmt.Errorf("unknown log level %q", text)
	}
	return nil
}

// =============================================================================

// Config holds the per-task transfer settings.
//
// The low-speed guard is active only when both LowSpeedLimit and
// LowSpeedTime are positive: a transfer averaging fewer than LowSpeedLimit
// bytes per second for LowSpeedTime fails with ErrLowSpeed.
type Config struct {
	ConnectTimeout time.Duration    `yaml:"connect_timeout" validate:"gte=0"`
	LowSpeedLimit  int64            `yaml:"low_speed_limit" validate:"gte=0"`
	LowSpeedTime   time.Duration    `yaml:"low_speed_time" validate:"gte=0"`
	IPResolve      engine.IPResolve `yaml:"ip_resolve" validate:"gte=0,lte=2"`
	LogLevel       LogLevel         `yaml:"log_level" validate:"gte=0,lte=2"`
}

// DefaultConfig returns the settings used for asset and API fetches.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 4 * time.Second,
		LowSpeedLimit:  500,
		LowSpeedTime:   5 * time.Second,
		IPResolve:      engine.IPResolveAny,
		LogLevel:       LogFailures,
	}
}

func (c Config) lowSpeedEnabled() bool {
	return c.LowSpeedLimit > 0 && c.LowSpeedTime > 0
}
