package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jakopako/goverify/internal/verify"
)

// StdoutWriter represents a writer that writes to stdout
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(ctx context.Context, res verify.RunResult) error {
	b, err := encodeResult(res)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w.out, string(b)); err != nil {
		return fmt.Errorf("error while writing result to stdout: %w", err)
	}
	w.logger.Debug("wrote run result", slog.String("run", res.ID))
	return nil
}
