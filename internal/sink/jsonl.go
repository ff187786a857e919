package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/pkg/json"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// JSONLinesSink writes one JSON document per event.
type JSONLinesSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLinesSink writes to w. Close does not close w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

// OpenJSONLinesSink appends to the file at path, creating it if needed.
// An empty path or "-" writes to stdout.
func OpenJSONLinesSink(path string) (*JSONLinesSink, error) {
	if path == "" || path == "-" {
		return NewJSONLinesSink(os.Stdout), nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConfig, "failed to open event output").
			WithDetail("path", path)
	}
	return &JSONLinesSink{w: f, closer: f}, nil
}

func (s *JSONLinesSink) Name() string { return "jsonl" }

func (s *JSONLinesSink) Send(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := json.WriteLine(s.w, ev); err != nil {
		return linkerrors.Wrap(err, linkerrors.ErrorTypeProcessing, "failed to write event")
	}
	return nil
}

func (s *JSONLinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
