package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/bytemill/stitch/pkg/bus"
	"github.com/bytemill/stitch/pkg/frame"
)

// ErrInvalidConfig wraps every validation failure so callers can fail fast
// before any byte is processed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration parses YAML values like "500us" or "2ms" via time.ParseDuration.
// Bare integers are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Delimiter accepts either a byte list ([0x0D, 0x0A]) or a string ("\r\n").
type Delimiter []byte

func (dl *Delimiter) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw []int
	if err := unmarshal(&raw); err == nil {
		out := make([]byte, len(raw))
		for i, v := range raw {
			if v < 0 || v > 0xff {
				return fmt.Errorf("delimiter byte %d out of range", v)
			}
			out[i] = byte(v)
		}
		*dl = out
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*dl = []byte(s)
	return nil
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Serial struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Config is the full session configuration. It is read once at session
// start and never mutated during a capture run.
type Config struct {
	Protocol      bus.Protocol `yaml:"protocol"`
	Timeout       Duration     `yaml:"timeout"`
	Delimiters    []Delimiter  `yaml:"delimiters"`
	DisplayFormat frame.Format `yaml:"display_format"`
	Prefix        string       `yaml:"prefix"`

	CaptureFile string `yaml:"capture_file"`
	Paced       bool   `yaml:"paced"`
	Serial      Serial `yaml:"serial"`

	OutputDestinations []OutputDestination `yaml:"output_destinations"`

	Monitor struct {
		Port           int      `yaml:"port"`
		UpdateInterval Duration `yaml:"update_interval"`
	} `yaml:"monitor"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Load reads and validates a session config file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.DisplayFormat == "" {
		cfg.DisplayFormat = frame.FormatHex
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects contradictory settings up front. A detector with neither
// timeout nor delimiters would never emit a boundary, which is worse than an
// immediate error.
func (c *Config) Validate() error {
	if !c.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, c.Protocol)
	}
	if !c.DisplayFormat.Valid() {
		return fmt.Errorf("%w: unknown display format %q", ErrInvalidConfig, c.DisplayFormat)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	for i, d := range c.Delimiters {
		if len(d) == 0 {
			return fmt.Errorf("%w: delimiter %d is empty", ErrInvalidConfig, i)
		}
	}
	if c.Timeout == 0 && len(c.Delimiters) == 0 {
		return fmt.Errorf("%w: need a timeout, a delimiter, or both", ErrInvalidConfig)
	}
	for _, dest := range c.OutputDestinations {
		if dest.Host == "" || dest.Port <= 0 {
			return fmt.Errorf("%w: output destination needs host and port", ErrInvalidConfig)
		}
	}
	return nil
}

// DelimiterBytes returns the configured delimiters in precedence order.
func (c *Config) DelimiterBytes() [][]byte {
	out := make([][]byte, len(c.Delimiters))
	for i, d := range c.Delimiters {
		out[i] = []byte(d)
	}
	return out
}
