package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"vodgrab/internal/media"
)

// csvHeader is the column order of the CSV export.
var csvHeader = []string{
	"run_id", "title", "year", "episode", "detail_url", "play_url",
	"stream_url", "source", "player_payload", "created_at",
}

func openAppend(fs afero.Fs, path string) (afero.File, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating sink dir: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening sink %s: %w", path, err)
	}
	return f, nil
}

// JSONL appends one JSON object per record.
type JSONL struct {
	mu  sync.Mutex
	f   afero.File
	enc *json.Encoder
}

// NewJSONL opens (or creates) path for appending.
func NewJSONL(fs afero.Fs, path string) (*JSONL, error) {
	f, err := openAppend(fs, path)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONL{f: f, enc: enc}, nil
}

func (s *JSONL) Write(ctx context.Context, rec media.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("writing jsonl record: %w", err)
	}
	return nil
}

func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// CSV appends records as rows. The header is written once, when the file
// starts empty.
type CSV struct {
	mu sync.Mutex
	f  afero.File
	w  *csv.Writer
}

// NewCSV opens (or creates) path for appending.
func NewCSV(fs afero.Fs, path string) (*CSV, error) {
	f, err := openAppend(fs, path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	s := &CSV{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing csv header: %w", err)
		}
		s.w.Flush()
	}
	return s, nil
}

func (s *CSV) Write(ctx context.Context, rec media.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	payload, err := payloadJSON(rec.Payload)
	if err != nil {
		return err
	}
	row := []string{
		rec.RunID,
		rec.Title,
		rec.Year,
		strconv.Itoa(rec.Episode),
		rec.DetailURL,
		rec.PlayURL,
		rec.StreamURL,
		string(rec.Source),
		payload,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("writing csv record: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}

// payloadJSON renders the raw player payload, or "" when there is none.
func payloadJSON(p map[string]any) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding player payload: %w", err)
	}
	return string(b), nil
}
