// Package sink persists discovery records. Every processed play page produces
// one media.Record, written to each configured sink.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"vodgrab/internal/logging"
	"vodgrab/internal/media"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink closed")

// Sink receives records.
type Sink interface {
	Write(ctx context.Context, rec media.Record) error
	Close() error
}

// Paths locates the sinks; an empty path disables that sink.
type Paths struct {
	JSON   string
	CSV    string
	SQLite string
}

// Multi writes each record to every sink it holds. A failing sink does not
// stop the others.
type Multi struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
	log    *zap.Logger
}

// NewMulti combines sinks.
func NewMulti(log *zap.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: logging.OrNop(log)}
}

// Open creates the configured sinks. File sinks go through fs; the SQLite
// store always uses the OS filesystem.
func Open(ctx context.Context, fs afero.Fs, p Paths, log *zap.Logger) (*Multi, error) {
	var sinks []Sink
	fail := func(err error) (*Multi, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if p.JSON != "" {
		s, err := NewJSONL(fs, p.JSON)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if p.CSV != "" {
		s, err := NewCSV(fs, p.CSV)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if p.SQLite != "" {
		s, err := OpenStore(ctx, p.SQLite)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	return NewMulti(log, sinks...), nil
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Write hands rec to every sink and joins their errors.
func (m *Multi) Write(ctx context.Context, rec media.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil {
			m.log.Warn("record sink write failed", zap.String("play_url", rec.PlayURL), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every sink. It is safe to call more than once.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing sinks: %w", err)
	}
	return nil
}
