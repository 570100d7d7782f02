package stitch

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"

	"github.com/bytemill/stitch/pkg/bus"
	"github.com/bytemill/stitch/pkg/frame"
	"github.com/bytemill/stitch/pkg/monitor"
	"github.com/bytemill/stitch/pkg/output"
	"github.com/bytemill/stitch/pkg/stitch/config"
)

// Options carries the session parameters the engine needs. They are fixed
// for the lifetime of the engine.
type Options struct {
	Protocol      bus.Protocol
	Timeout       time.Duration
	Delimiters    [][]byte
	DisplayFormat frame.Format
	Prefix        string
	Outputs       []output.FrameOutput
}

// OptionsFromConfig lifts a validated config into engine options. Outputs
// are wired separately by the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Protocol:      cfg.Protocol,
		Timeout:       cfg.Timeout.Std(),
		Delimiters:    cfg.DelimiterBytes(),
		DisplayFormat: cfg.DisplayFormat,
		Prefix:        cfg.Prefix,
	}
}

func (o Options) validate() error {
	if !o.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", config.ErrInvalidConfig, o.Protocol)
	}
	if !o.DisplayFormat.Valid() {
		return fmt.Errorf("%w: unknown display format %q", config.ErrInvalidConfig, o.DisplayFormat)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", config.ErrInvalidConfig)
	}
	for i, d := range o.Delimiters {
		if len(d) == 0 {
			return fmt.Errorf("%w: delimiter %d is empty", config.ErrInvalidConfig, i)
		}
	}
	if o.Timeout == 0 && len(o.Delimiters) == 0 {
		return fmt.Errorf("%w: need a timeout, a delimiter, or both", config.ErrInvalidConfig)
	}
	return nil
}

// StitchOption configures optional collaborators on the engine.
type StitchOption func(s *Stitch) error

func WithMetrics(writeAPI api.WriteAPI) StitchOption {
	return func(s *Stitch) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithMonitor(srv *monitor.Server) StitchOption {
	return func(s *Stitch) error {
		s.monitor = srv
		return nil
	}
}

func WithLogger(logger zerolog.Logger) StitchOption {
	return func(s *Stitch) error {
		s.logger = logger
		return nil
	}
}
