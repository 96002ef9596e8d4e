// Package recording writes session output as asciicast v2 files.
// See: https://docs.asciinema.org/manual/asciicast/v2/
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/logging"
	"github.com/acolita/blockterm/internal/ports"
)

// Event types.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventMarker = "m"
)

// MaskChar replaces every byte of masked input.
const MaskChar = "*"

// Header is the first line of a cast file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one [time, type, data] line.
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three-element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Options describe the terminal a cast is recorded from.
type Options struct {
	Title  string
	Width  int
	Height int
	Shell  string
	Term   string
}

// Recorder appends events to one cast file.
type Recorder struct {
	mu      sync.Mutex
	file    ports.FileHandle
	clock   ports.Clock
	start   time.Time
	secrets []string
	closed  bool
}

// NewRecorder creates <dir>/<sessionID>_<timestamp>.cast and writes the header.
func NewRecorder(dir, sessionID string, opts Options, fs ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	start := clock.Now()
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.cast", sessionID, start.UTC().Format("20060102_150405")))
	file, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	env := map[string]string{}
	if opts.Shell != "" {
		env["SHELL"] = opts.Shell
	}
	if opts.Term != "" {
		env["TERM"] = opts.Term
	}
	header, err := json.Marshal(Header{
		Version:   2,
		Width:     opts.Width,
		Height:    opts.Height,
		Timestamp: start.Unix(),
		Title:     opts.Title,
		Env:       env,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(header, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, clock: clock, start: start}, nil
}

// Output records child output. Registered secrets are masked.
func (r *Recorder) Output(data string) error {
	return r.record(EventOutput, data, true)
}

// Input records data sent to the child. Masked input is stored as one
// MaskChar per byte.
func (r *Recorder) Input(data string, masked bool) error {
	if masked {
		return r.record(EventInput, strings.Repeat(MaskChar, len(data)), false)
	}
	return r.record(EventInput, data, true)
}

// Marker records a named marker, used for block boundaries. Inline secrets in
// command lines are redacted.
func (r *Recorder) Marker(label string) error {
	return r.record(EventMarker, logging.RedactCommand(label), true)
}

// Mask registers a secret that must never appear in the file, e.g. when a
// child echoes injected input back.
func (r *Recorder) Mask(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	r.secrets = append(r.secrets, secret)
	r.mu.Unlock()
}

func (r *Recorder) record(kind, data string, scrub bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if scrub {
		for _, s := range r.secrets {
			data = strings.ReplaceAll(data, s, strings.Repeat(MaskChar, len(s)))
		}
	}

	line, err := json.Marshal(Event{
		Time: r.clock.Now().Sub(r.start).Seconds(),
		Type: kind,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close closes the file. Later events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.secrets = nil
	return r.file.Close()
}

// Path returns the cast file path.
func (r *Recorder) Path() string {
	return r.file.Name()
}
