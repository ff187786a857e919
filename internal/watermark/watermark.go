// Package watermark tracks the highest order identifier already emitted for
// one source.
package watermark

import (
	"context"
	"strconv"
)

// MaxIDQuerier reports the highest identifier present in a source.
type MaxIDQuerier interface {
	MaxID(ctx context.Context) (id int64, ok bool, err error)
}

// Watermark is a forward-only cursor over order identifiers. The zero value
// is the "empty" sentinel: nothing has been seen, every identifier is new.
//
// A Watermark is owned by exactly one poller and is not safe for concurrent
// use.
type Watermark struct {
	value int64
	set   bool
}

// Initialize sets the startup baseline to the highest identifier currently
// in the source, so rows that already exist are never emitted. An empty
// source leaves the sentinel in place. On error the watermark is left
// untouched and the error is returned.
func (w *Watermark) Initialize(ctx context.Context, q MaxIDQuerier) error {
	id, ok, err := q.MaxID(ctx)
	if err != nil {
		return err
	}
	if ok {
		w.value, w.set = id, true
	} else {
		w.value, w.set = 0, false
	}
	return nil
}

// Advance moves the watermark to id if id is ahead of it and reports whether
// it moved. A stale id is ignored.
func (w *Watermark) Advance(id int64) bool {
	if w.set && id <= w.value {
		return false
	}
	w.value, w.set = id, true
	return true
}

// Value returns the current identifier; ok is false for the sentinel.
func (w Watermark) Value() (id int64, ok bool) {
	return w.value, w.set
}

// IsEmpty reports whether the watermark is still the sentinel.
func (w Watermark) IsEmpty() bool {
	return !w.set
}

// Covers reports whether id is at or behind the watermark, i.e. already
// emitted.
func (w Watermark) Covers(id int64) bool {
	return w.set && id <= w.value
}

func (w Watermark) String() string {
	if !w.set {
		return "empty"
	}
	return strconv.FormatInt(w.value, 10)
}
