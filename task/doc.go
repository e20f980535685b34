// Package task performs single HTTP exchanges with deterministic lifecycle
// and cleanup semantics.
//
// # Lifecycle
//
// A [Task] starts in [StateQueued]. [Task.Run] opens the output sink, moves
// to [StateRunning], performs the exchange on the calling goroutine and
// settles in exactly one of [StateDone], [StateError] or [StateAborted].
// Terminal states are final and a task never runs twice.
//
//	t, err := task.New(shared, "https://example.com/map.json", task.MethodGet, task.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	if t.Run(ctx) != task.StateDone {
//		return t.Err()
//	}
//	doc := t.ResultJSON()
//
// The engine starts no goroutines to run tasks. Callers run them wherever
// they like, many at a time against one [engine.Shared].
//
// # Output
//
// By default the response body is buffered in memory and returned by
// [Task.Result] once DONE. [Task.WriteToFile] streams it to a file instead;
// the file is created before the exchange and deleted whenever the task
// ends in ERROR or ABORTED, so a partial download is never left behind.
// With [WithChecksum] a body whose digest does not match is treated the
// same way.
//
// # Cancellation
//
// [Task.Abort] may be called from any goroutine. It is observed after every
// chunk of data and on every progress tick, and ends the task ABORTED. A task
// aborted before Run never reaches DONE. Cancelling the context passed to
// Run has the same effect.
//
// A transfer averaging less than [Config.LowSpeedLimit] bytes per second
// for [Config.LowSpeedTime] fails with [ErrLowSpeed], even when no data
// arrives at all.
//
// # Errors
//
// [Task.Err] returns an [*Error] whose Kind is [ErrPreflight],
// [ErrTransport], [ErrAborted] or [ErrFinalize]. Responses with status 400
// or above fail with a [*StatusError], so callers can tell a server refusal
// from a network failure:
//
//	var se *task.StatusError
//	if errors.As(t.Err(), &se) && se.StatusCode == http.StatusNotFound {
//		// missing on the server
//	}
package task
