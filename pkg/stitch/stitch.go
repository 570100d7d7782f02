package stitch

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bytemill/stitch/pkg/bus"
	"github.com/bytemill/stitch/pkg/bus/ingest"
	"github.com/bytemill/stitch/pkg/capture"
	"github.com/bytemill/stitch/pkg/frame"
	"github.com/bytemill/stitch/pkg/monitor"
	"github.com/bytemill/stitch/pkg/util"
)

const eventBufferLength = 32

// Stitch runs one capture session: it pulls raw events from the source,
// normalizes them, drives a boundary detector per channel, and fans rendered
// frames out to the configured outputs.
//
// All detection runs on a single goroutine, so bytes are processed strictly
// in arrival order and frames are emitted in seal order. Channels are
// independent by construction; their detectors share nothing.
type Stitch struct {
	source     capture.Source
	opts       Options
	writeAPI   api.WriteAPI
	monitor    *monitor.Server
	logger     zerolog.Logger
	sessionID  string
	normalizer ingest.Normalizer
	renderer   *frame.Renderer

	detectors map[bus.Channel]*frame.Detector
	order     []bus.Channel

	bytesIngested  uint64
	framesEmitted  uint64
	malformedCount uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStitch validates the session parameters and builds an engine. A
// configuration with no active detection mechanism is rejected here, before
// any byte is processed.
func NewStitch(source capture.Source, options Options, opts ...StitchOption) (*Stitch, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}

	normalizer, err := ingest.ForProtocol(options.Protocol)
	if err != nil {
		return nil, err
	}

	s := &Stitch{
		source:     source,
		opts:       options,
		writeAPI:   &util.NoopWriteAPI{}, // overwritten with option
		logger:     log.Logger,
		sessionID:  uuid.NewString(),
		normalizer: normalizer,
		renderer:   frame.NewRenderer(options.DisplayFormat, options.Prefix),
		detectors:  make(map[bus.Channel]*frame.Detector),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SessionID is the identity minted for this run, used in logs and metrics.
func (s *Stitch) SessionID() string { return s.sessionID }

// Stop ends the capture by closing the source. The stream-end path then
// runs as usual: the open message is flushed, outputs drain, Start returns.
func (s *Stitch) Stop() error {
	return s.source.Stop()
}

// Start runs the session until the source is exhausted or the context is
// cancelled. Any message still open when the stream ends is sealed and
// emitted before Start returns.
func (s *Stitch) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.monitor != nil {
		s.monitor.SetSession(s.sessionID, s.opts.Protocol)
		eg.Go(func() error {
			return s.monitor.Run(s.ctx)
		})
	}

	for _, out := range s.opts.Outputs {
		thisOutput := out
		eg.Go(func() error {
			return thisOutput.Start(s.ctx)
		})
	}

	events := make(chan bus.Event, eventBufferLength)
	eg.Go(func() error {
		defer close(events)
		err := s.source.Start(s.ctx, events)
		if errors.Is(err, os.ErrClosed) {
			// Stop closed the source mid-read; that is the clean shutdown path.
			return nil
		}
		return err
	})

	eg.Go(func() error {
		for ev := range events {
			s.processEvent(ev)
		}
		s.flushAll()
		s.logger.Info().
			Str("session_id", s.sessionID).
			Uint64("bytes", s.bytesIngested).
			Uint64("frames", s.framesEmitted).
			Uint64("malformed", s.malformedCount).
			Msg("stream ended")
		// Outputs and monitor run until cancelled; the stream is done.
		s.cancel()
		return nil
	})

	s.logger.Info().
		Str("session_id", s.sessionID).
		Str("protocol", string(s.opts.Protocol)).
		Dur("timeout", s.opts.Timeout).
		Int("delimiters", len(s.opts.Delimiters)).
		Str("format", string(s.opts.DisplayFormat)).
		Msg("session started")

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// processEvent handles one raw event. Malformed events are skipped with a
// diagnostic; the byte is unrecoverable so there is nothing to retry.
func (s *Stitch) processEvent(ev bus.Event) {
	if ev.FramingError {
		// The decoder flags the byte but still delivers it; keep it.
		s.logger.Debug().Time("start", ev.Start).Msg("framing error on byte")
	}

	res, err := s.normalizer.Normalize(ev)
	if err != nil {
		s.malformedCount++
		s.logger.Warn().Err(err).Time("start", ev.Start).Msg("skipping malformed event")
		if s.monitor != nil {
			s.monitor.ObserveMalformed()
		}
		go s.writeAPI.WritePoint(influxdb2.NewPoint("stitch_malformed",
			map[string]string{"session_id": s.sessionID},
			map[string]interface{}{"count": 1},
			time.Now()))
		return
	}

	for _, ch := range res.FlushFirst {
		if d, ok := s.detectors[ch]; ok {
			d.Flush()
		}
	}

	for _, rec := range res.Records {
		s.bytesIngested++
		if s.monitor != nil {
			s.monitor.ObserveRecord(rec)
		}
		go s.writeAPI.WritePoint(influxdb2.NewPoint("stitch_bytes",
			map[string]string{"session_id": s.sessionID, "channel": string(rec.Channel)},
			map[string]interface{}{"count": 1},
			rec.End))
		s.detector(rec.Channel).Receive(rec)
	}
}

func (s *Stitch) detector(ch bus.Channel) *frame.Detector {
	d, ok := s.detectors[ch]
	if !ok {
		d = frame.NewDetector(ch, s.opts.Timeout, s.opts.Delimiters, s.handleSealed, s.onClockSkew, s.logger)
		s.detectors[ch] = d
		s.order = append(s.order, ch)
	}
	return d
}

func (s *Stitch) onClockSkew() {
	if s.monitor != nil {
		s.monitor.ObserveClockSkew()
	}
	go s.writeAPI.WritePoint(influxdb2.NewPoint("stitch_clock_skew",
		map[string]string{"session_id": s.sessionID},
		map[string]interface{}{"count": 1},
		time.Now()))
}

// handleSealed renders a sealed message and fans the frame out. Runs on the
// processing goroutine, so frames reach every output in seal order.
func (s *Stitch) handleSealed(msg frame.Message) {
	f := s.renderer.Render(msg)
	s.framesEmitted++

	go s.writeAPI.WritePoint(influxdb2.NewPoint("stitch_frames",
		map[string]string{"session_id": s.sessionID, "channel": string(msg.Channel)},
		map[string]interface{}{"length": f.Length},
		time.Now()))

	if s.monitor != nil {
		s.monitor.ObserveFrame(f)
	}

	for _, out := range s.opts.Outputs {
		select {
		case <-s.ctx.Done():
			return
		case out.Receive() <- f:
		}
	}
}

// flushAll seals open messages in channel creation order when the stream
// ends. Flush-on-close: a partial message is never lost.
func (s *Stitch) flushAll() {
	for _, ch := range s.order {
		s.detectors[ch].Flush()
	}
}
