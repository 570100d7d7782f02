package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bytemill/stitch/pkg/capture"
	capturefile "github.com/bytemill/stitch/pkg/capture/file"
	"github.com/bytemill/stitch/pkg/capture/serialport"
	"github.com/bytemill/stitch/pkg/frame"
	"github.com/bytemill/stitch/pkg/monitor"
	"github.com/bytemill/stitch/pkg/output"
	"github.com/bytemill/stitch/pkg/stitch"
	"github.com/bytemill/stitch/pkg/stitch/config"
)

// formatValue validates --format at parse time instead of after startup.
type formatValue frame.Format

var _ pflag.Value = (*formatValue)(nil)

func (f *formatValue) String() string { return string(*f) }
func (f *formatValue) Type() string   { return "format" }

func (f *formatValue) Set(s string) error {
	if !frame.Format(s).Valid() {
		return fmt.Errorf("unknown display format %q (want hex or ascii)", s)
	}
	*f = formatValue(s)
	return nil
}

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newSource(cfg *config.Config, paced bool) (capture.Source, error) {
	if cfg.CaptureFile != "" {
		return capturefile.NewFileSource(cfg.CaptureFile, paced)
	}
	if cfg.Serial.Port != "" {
		return serialport.Open(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.DataBits,
			cfg.Serial.StopBits, cfg.Serial.Parity)
	}
	return nil, fmt.Errorf("%w: need a capture_file or a serial port", config.ErrInvalidConfig)
}

func runSession(s *stitch.Stitch) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// A signal stops the session gracefully: the source is closed and the
	// open message is flushed before Start returns.
	go func() {
		select {
		case <-sigChan:
			s.Stop()
		case <-ctx.Done():
		}
	}()

	return s.Start(ctx)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	var cfgPath string
	var debugLog bool

	root := &cobra.Command{
		Use:           "stitch",
		Short:         "Reassemble bus capture bytes into delimited or timeout-framed messages",
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugLog {
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "stitch.yaml", "YAML session config file")
	root.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a capture session with the configured outputs and monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			source, err := newSource(cfg, cfg.Paced)
			if err != nil {
				return err
			}

			outputs := []output.FrameOutput{output.NewWriterOutput(os.Stdout)}

			engineOpts := []stitch.StitchOption{stitch.WithLogger(log.Logger)}
			if cfg.InfluxDB.Host != "" {
				writeAPI := influxdb2.NewClient(cfg.InfluxDB.Host, "").
					WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
				engineOpts = append(engineOpts, stitch.WithMetrics(writeAPI))
				if len(cfg.OutputDestinations) > 0 {
					outputs = append(outputs, output.NewUDPJSONOutput(cfg.OutputDestinations, writeAPI))
				}
			} else if len(cfg.OutputDestinations) > 0 {
				outputs = append(outputs, output.NewUDPJSONOutput(cfg.OutputDestinations, nil))
			}
			if cfg.Monitor.Port > 0 {
				engineOpts = append(engineOpts,
					stitch.WithMonitor(monitor.NewServer(cfg.Monitor.Port, cfg.Monitor.UpdateInterval.Std())))
			}

			opts := stitch.OptionsFromConfig(cfg)
			opts.Outputs = outputs

			s, err := stitch.NewStitch(source, opts, engineOpts...)
			if err != nil {
				return err
			}
			return runSession(s)
		},
	}

	var renderCapture string
	var renderFormat formatValue
	render := &cobra.Command{
		Use:   "render",
		Short: "Frame a capture file straight to stdout, no sinks or monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if renderCapture != "" {
				cfg.CaptureFile = renderCapture
			}
			if renderFormat != "" {
				cfg.DisplayFormat = frame.Format(renderFormat)
			}
			if cfg.CaptureFile == "" {
				return fmt.Errorf("%w: render needs a capture file", config.ErrInvalidConfig)
			}

			source, err := capturefile.NewFileSource(cfg.CaptureFile, false)
			if err != nil {
				return err
			}

			opts := stitch.OptionsFromConfig(cfg)
			opts.Outputs = []output.FrameOutput{output.NewWriterOutput(os.Stdout)}

			s, err := stitch.NewStitch(source, opts, stitch.WithLogger(log.Logger))
			if err != nil {
				return err
			}
			return runSession(s)
		},
	}
	render.Flags().StringVar(&renderCapture, "capture", "", "capture file to render (overrides config)")
	render.Flags().Var(&renderFormat, "format", "display format: hex or ascii (overrides config)")

	root.AddCommand(run, render)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("exited program")
	}
}
