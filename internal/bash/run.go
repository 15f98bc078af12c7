package bash

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// RunScript executes a script on the host through the embedded
// interpreter, with the given extra variables exported into its
// environment. Output lines are forwarded to the logger.
func RunScript(ctx context.Context, script string, variables map[string]string, logger *logrus.Entry) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))

	file, err := parser.Parse(strings.NewReader(script), "script")
	if err != nil {
		return &ScriptError{Message: "Failed to parse script", Err: err}
	}

	env := os.Environ()
	for name, value := range variables {
		env = append(env, name+"="+value)
	}

	stdout := NewLogWriter(logger, logrus.InfoLevel)
	defer stdout.Close()

	stderr := NewLogWriter(logger, logrus.ErrorLevel)
	defer stderr.Close()

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(strings.NewReader(""), stdout, stderr),
	)
	if err != nil {
		return &ScriptError{Message: "Failed to create interpreter", Err: err}
	}

	if err := runner.Run(ctx, file); err != nil {
		return &ScriptError{Message: "Script failed", Err: err}
	}

	return nil
}

// LogWriter forwards whole lines written to it to a logger.
type LogWriter struct {
	pipe   *io.PipeWriter
	done   chan struct{}
	logger *logrus.Entry
	level  logrus.Level
}

// NewLogWriter creates a writer that logs each line at the given level.
// Close it to flush and stop the forwarding goroutine.
func NewLogWriter(logger *logrus.Entry, level logrus.Level) *LogWriter {
	reader, writer := io.Pipe()
	w := &LogWriter{
		pipe:   writer,
		done:   make(chan struct{}),
		logger: logger,
		level:  level,
	}

	go func() {
		defer close(w.done)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			w.logger.Log(w.level, scanner.Text())
		}
	}()

	return w
}

func (w *LogWriter) Write(p []byte) (int, error) {
	return w.pipe.Write(p)
}

func (w *LogWriter) Close() error {
	err := w.pipe.Close()
	<-w.done
	return err
}
