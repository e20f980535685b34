package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/httptask/engine"
	"github.com/adamwoolhether/httptask/internal/validate"
	"github.com/adamwoolhether/httptask/queue"
	"github.com/adamwoolhether/httptask/storage"
	"github.com/adamwoolhether/httptask/task"
)

// batchEntry is one task in a batch file.
type batchEntry struct {
	URL     string      `yaml:"url" validate:"required,httpurl"`
	Method  task.Method `yaml:"method"`
	Output  string      `yaml:"output,omitempty"`
	Headers []string    `yaml:"headers,omitempty"`
	Body    string      `yaml:"body,omitempty"`
	SHA256  string      `yaml:"sha256,omitempty" validate:"omitempty,hexadecimal,len=64"`
}

// batchFile is the YAML layout read by the batch command:
//
//	defaults:
//	  connect_timeout: 4s
//	  low_speed_limit: 500
//	  low_speed_time: 5s
//	  ip_resolve: v4
//	  log_level: failures
//	tasks:
//	  - url: https://example.com/maps/dm1.map
//	    output: maps/dm1.map
//	    sha256: 0f343b0931126a20f133d67c2b018a3b5d0dbb3a2f7b4a2f6a6e6b0b8e3c1d2a
//	  - url: https://example.com/api/servers
//	    method: post-json
//	    headers: ["Accept: application/json"]
//	    body: '{"page":1}'
type batchFile struct {
	Defaults task.Config  `yaml:"defaults"`
	Tasks    []batchEntry `yaml:"tasks"`
}

func newBatchCmd(g *globalFlags) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "batch [flags] FILE",
		Short: "Run every task listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening batch file: %w", err)
			}
			defer f.Close()

			bf, err := loadBatch(f, g.config())
			if err != nil {
				return err
			}

			shared, err := g.engine(g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer shared.Close()

			dirs, err := g.storage()
			if err != nil {
				return err
			}

			return runBatch(cmd.Context(), cmd.OutOrStdout(), shared, dirs, bf, workers)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "number of tasks run at once (0 is unlimited)")

	return cmd
}

// loadBatch decodes a batch file. Settings missing from its defaults keep
// the values in defaults.
func loadBatch(r io.Reader, defaults task.Config) (batchFile, error) {
	bf := batchFile{Defaults: defaults}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return batchFile{}, fmt.Errorf("parsing batch file: %w", err)
	}

	if len(bf.Tasks) == 0 {
		return batchFile{}, errors.New("no tasks in batch file")
	}

	if err := validate.Check(&bf.Defaults); err != nil {
		return batchFile{}, fmt.Errorf("defaults: %w", err)
	}

	for i, e := range bf.Tasks {
		if err := validate.Check(&e); err != nil {
			return batchFile{}, fmt.Errorf("task %d: %w", i, err)
		}
	}

	return bf, nil
}

// runBatch runs every entry of bf at most workers at a time and prints one
// line per task once all are finished.
func runBatch(ctx context.Context, w io.Writer, shared *engine.Shared, dirs *storage.Dirs, bf batchFile, workers int) error {
	tasks := make([]*task.Task, 0, len(bf.Tasks))
	for i, e := range bf.Tasks {
		t, err := newBatchTask(shared, dirs, bf.Defaults, e)
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}

	printHeader(w, fmt.Sprintf("running %d tasks", len(tasks)))

	q := queue.New(workers)
	for _, t := range tasks {
		q.Start(ctx, t)
	}
	err := q.Wait()

	for _, t := range tasks {
		printResult(w, t)
	}

	return err
}

func newBatchTask(shared *engine.Shared, dirs *storage.Dirs, cfg task.Config, e batchEntry) (*task.Task, error) {
	var opts []task.Option
	if e.SHA256 != "" {
		opts = append(opts, task.WithChecksum(sha256.New(), e.SHA256))
	}

	t, err := task.New(shared, e.URL, e.Method, cfg, opts...)
	if err != nil {
		return nil, err
	}

	if e.Body != "" {
		if err := t.SetBody([]byte(e.Body)); err != nil {
			return nil, err
		}
	}

	for _, h := range e.Headers {
		if err := t.AddHeader(h); err != nil {
			return nil, err
		}
	}

	if e.Output != "" {
		if err := t.WriteToFile(dirs, e.Output, outputClass(e.Output)); err != nil {
			return nil, err
		}
	}

	return t, nil
}
