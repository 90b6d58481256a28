package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/verify"
)

const resultFilename = "result.json"

// FileWriter represents a writer that writes to a file
type FileWriter struct {
	*WriterConfig
	logger *slog.Logger
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}

	if err := os.MkdirAll(wc.FileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", wc.FileDir, err)
	}

	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
	}, nil
}

// Write writes the result to <filedir>/result.json, replacing the result of
// a previous run.
func (w *FileWriter) Write(ctx context.Context, res verify.RunResult) error {
	b, err := encodeResult(res)
	if err != nil {
		return err
	}
	p := filepath.Join(w.FileDir, resultFilename)
	if err := artifact.Save(b, p); err != nil {
		return fmt.Errorf("error while writing result to file: %w", err)
	}
	w.logger.Info(fmt.Sprintf("wrote result of run %s to file %s", res.ID, p))
	return nil
}
