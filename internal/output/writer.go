// Package output provides the interface and configuration and implementation for writers
// that persist the result of a verification run.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jakopako/goverify/internal/verify"
)

// Writer defines the interface for all writers that are responsible
// for writing the result of a run to a specific output.
// A failing writer never changes the outcome of the run, callers are
// expected to log the returned error.
type Writer interface {
	Write(ctx context.Context, res verify.RunResult) error
}

// WriterConfig defines the necessary paramters to make a new writer
// which is responsible for writing the run result to a specific output
// eg. stdout.
type WriterConfig struct {
	Type     WriterType `yaml:"type"`
	Uri      string     `yaml:"uri,omitempty"`
	User     string     `yaml:"user,omitempty" env:"WRITER_USER"`         // we want to be able to pass credentials via env vars
	Password string     `yaml:"password,omitempty" env:"WRITER_PASSWORD"` // we want to be able to pass credentials via env vars
	FileDir  string     `yaml:"filedir,omitempty"`
	DBPath   string     `yaml:"db_path,omitempty" env:"GOVERIFY_DB_PATH"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	STDOUT_WRITER_TYPE WriterType = "stdout"
	FILE_WRITER_TYPE   WriterType = "file"
	API_WRITER_TYPE    WriterType = "api"
	SQLITE_WRITER_TYPE WriterType = "sqlite"
)

// NewWriter returns a new writer depending on the writer type
func NewWriter(ctx context.Context, wc *WriterConfig) (Writer, error) {
	switch wc.Type {
	case STDOUT_WRITER_TYPE:
		return NewStdoutWriter(wc), nil
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case API_WRITER_TYPE:
		return NewAPIWriter(wc)
	case SQLITE_WRITER_TYPE:
		return NewSQLiteWriter(ctx, wc)
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}

// encodeResult returns the indented json representation of the result.
func encodeResult(res verify.RunResult) ([]byte, error) {
	// json.MarshalIndent would escape html characters in urls and selectors.
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(res); err != nil {
		return nil, fmt.Errorf("error while encoding result: %w", err)
	}
	var indentBuffer bytes.Buffer
	if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("error while indenting json: %w", err)
	}
	return indentBuffer.Bytes(), nil
}
