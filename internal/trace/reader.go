package trace

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/felixgeelhaar/loom/internal/event"
)

// maxLine bounds a single journal line.
const maxLine = 4 * 1024 * 1024

// Read returns the journaled events of a run in the order they were
// written, rotated files first. A missing journal yields no events.
func Read(dir, runID string) ([]event.Envelope, error) {
	files, err := rotated(dir, runID)
	if err != nil {
		return nil, err
	}
	files = append(files, Path(dir, runID))

	var out []event.Envelope
	for _, path := range files {
		events, err := readFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// Filter returns the events of the given kinds. No kinds returns all.
func Filter(events []event.Envelope, kinds ...event.Kind) []event.Envelope {
	if len(kinds) == 0 {
		return events
	}
	want := make(map[event.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []event.Envelope
	for _, e := range events {
		if want[e.Kind()] {
			out = append(out, e)
		}
	}
	return out
}

// Replay emits events to sink in order.
func Replay(events []event.Envelope, sink event.Sink) {
	for _, e := range events {
		sink.Emit(e)
	}
}

func readFile(path string) ([]event.Envelope, error) {
	f, err := os.Open(path) // #nosec G304 -- path built from the journal dir
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []event.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		e, err := event.Decode(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	return out, nil
}
