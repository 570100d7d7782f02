package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bytemill/stitch/pkg/bus"
)

// maxLineSize bounds a single capture record. Events are tiny; anything near
// this is a corrupt file.
const maxLineSize = 1 << 16

// FileSource replays a JSONL capture file, one raw bus event per line. With
// pacing enabled the replay sleeps out the capture-time gaps between events
// so a live monitor shows the session at its original speed. Framing results
// are identical either way: the detector works on capture timestamps, never
// on wall clock.
type FileSource struct {
	readFile *os.File
	paced    bool
	logger   zerolog.Logger
}

func NewFileSource(path string, paced bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		readFile: f,
		paced:    paced,
		logger:   log.With().Str("source", "file").Str("path", path).Logger(),
	}, nil
}

func (f *FileSource) Start(ctx context.Context, events chan<- bus.Event) error {
	scanner := bufio.NewScanner(f.readFile)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var prevStart time.Time
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ev bus.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			f.logger.Warn().Int("line", line).Err(err).Msg("skipping unparseable capture record")
			continue
		}

		if f.paced && !prevStart.IsZero() {
			if gap := ev.Start.Sub(prevStart); gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(gap):
				}
			}
		}
		prevStart = ev.Start

		select {
		case <-ctx.Done():
			return ctx.Err()
		case events <- ev:
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (f *FileSource) Stop() error {
	return f.readFile.Close()
}
