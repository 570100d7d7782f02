package serialport

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/bytemill/stitch/pkg/bus"
)

const readBufferSize = 256

// SerialSource reads raw bytes from a UART and emits them as data events.
// The port has no hardware timestamping, so byte spans are reconstructed
// from the read completion time and the wire rate: a read of n bytes ending
// at t is spread backwards over n byte-times.
type SerialSource struct {
	port     serial.Port
	name     string
	byteTime time.Duration
	closing  atomic.Bool
	logger   zerolog.Logger
}

// Open opens the port in 8-bit mode with the given parity ("none", "even",
// "odd") and stop bits (1 or 2).
func Open(name string, baud, dataBits, stopBits int, parity string) (*SerialSource, error) {
	if baud <= 0 {
		return nil, fmt.Errorf("baud rate must be positive, got %d", baud)
	}
	if dataBits == 0 {
		dataBits = 8
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: dataBits,
	}
	switch parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "even":
		mode.Parity = serial.EvenParity
	case "odd":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unknown parity %q", parity)
	}
	parityBits := 0
	if mode.Parity != serial.NoParity {
		parityBits = 1
	}
	switch stopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
		stopBits = 1
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", stopBits)
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	bitsPerByte := 1 + dataBits + parityBits + stopBits
	return &SerialSource{
		port:     port,
		name:     name,
		byteTime: time.Duration(float64(time.Second) * float64(bitsPerByte) / float64(baud)),
		logger:   log.With().Str("source", "serial").Str("port", name).Logger(),
	}, nil
}

func (s *SerialSource) Start(ctx context.Context, events chan<- bus.Event) error {
	s.logger.Info().Dur("byte_time", s.byteTime).Msg("reading from serial port")

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", s.name, err)
		}

		end := time.Now()
		for i := 0; i < n; i++ {
			v := buf[i]
			byteEnd := end.Add(-time.Duration(n-1-i) * s.byteTime)
			ev := bus.Event{
				Type:  bus.EventData,
				Start: byteEnd.Add(-s.byteTime),
				End:   byteEnd,
				Data:  &v,
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
			}
		}
	}
}

// Stop closes the port, which unblocks any in-flight Read.
func (s *SerialSource) Stop() error {
	s.closing.Store(true)
	return s.port.Close()
}
