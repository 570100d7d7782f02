package ingest

import (
	"errors"
	"fmt"

	"github.com/bytemill/stitch/pkg/bus"
)

// ErrMalformedEvent marks a decoder record missing a field its type requires.
// The offending byte cannot be recovered from a capture, so callers skip the
// record and continue with the next one.
var ErrMalformedEvent = errors.New("malformed bus event")

// Result is the outcome of normalizing one raw event. FlushFirst names
// channels whose open message must be sealed before Records are appended;
// the ordering matters for I2C, where an address byte closes the message
// that preceded it.
type Result struct {
	FlushFirst []bus.Channel
	Records    []bus.ByteRecord
}

// Normalizer turns protocol-specific decoder records into uniform
// ByteRecords. Implementations are pure; they hold no per-stream state.
type Normalizer interface {
	Normalize(ev bus.Event) (Result, error)
}

// ForProtocol returns the adapter for the configured input protocol.
func ForProtocol(p bus.Protocol) (Normalizer, error) {
	switch p {
	case bus.ProtocolI2C:
		return I2CAdapter{}, nil
	case bus.ProtocolSPI:
		return SPIAdapter{}, nil
	case bus.ProtocolUART:
		return UARTAdapter{}, nil
	}
	return nil, fmt.Errorf("unknown protocol %q", p)
}

// UARTAdapter handles serial data events. A framing-error flag is recorded by
// the decoder but the byte itself is still delivered.
type UARTAdapter struct{}

func (UARTAdapter) Normalize(ev bus.Event) (Result, error) {
	switch ev.Type {
	case bus.EventData:
		if ev.Data == nil {
			return Result{}, fmt.Errorf("%w: uart data event without data byte", ErrMalformedEvent)
		}
		return Result{Records: []bus.ByteRecord{{
			Value:   *ev.Data,
			Start:   ev.Start,
			End:     ev.End,
			Channel: bus.ChannelData,
		}}}, nil
	}
	return Result{}, fmt.Errorf("%w: unexpected uart event type %q", ErrMalformedEvent, ev.Type)
}

// I2CAdapter handles address/data/start/stop events. An address byte seals
// whatever message was accumulating on the data channel, then starts the
// address channel's message; a stop condition seals both channels.
type I2CAdapter struct{}

func (I2CAdapter) Normalize(ev bus.Event) (Result, error) {
	switch ev.Type {
	case bus.EventData:
		if ev.Data == nil {
			return Result{}, fmt.Errorf("%w: i2c data event without data byte", ErrMalformedEvent)
		}
		return Result{Records: []bus.ByteRecord{{
			Value:   *ev.Data,
			Start:   ev.Start,
			End:     ev.End,
			Channel: bus.ChannelData,
		}}}, nil

	case bus.EventAddress:
		if ev.Data == nil {
			return Result{}, fmt.Errorf("%w: i2c address event without address byte", ErrMalformedEvent)
		}
		return Result{
			FlushFirst: []bus.Channel{bus.ChannelData},
			Records: []bus.ByteRecord{{
				Value:   *ev.Data,
				Start:   ev.Start,
				End:     ev.End,
				Channel: bus.ChannelI2CAddr,
			}},
		}, nil

	case bus.EventStart:
		return Result{}, nil

	case bus.EventStop:
		return Result{FlushFirst: []bus.Channel{bus.ChannelData, bus.ChannelI2CAddr}}, nil
	}
	return Result{}, fmt.Errorf("%w: unexpected i2c event type %q", ErrMalformedEvent, ev.Type)
}

// SPIAdapter handles transfer results. One result carries a byte per
// direction; each goes to its own channel. A chip-select deassert seals
// both directions.
type SPIAdapter struct{}

func (SPIAdapter) Normalize(ev bus.Event) (Result, error) {
	switch ev.Type {
	case bus.EventResult:
		if ev.MOSI == nil && ev.MISO == nil {
			return Result{}, fmt.Errorf("%w: spi result without mosi or miso byte", ErrMalformedEvent)
		}
		var res Result
		if ev.MOSI != nil {
			res.Records = append(res.Records, bus.ByteRecord{
				Value:   *ev.MOSI,
				Start:   ev.Start,
				End:     ev.End,
				Channel: bus.ChannelMOSI,
			})
		}
		if ev.MISO != nil {
			res.Records = append(res.Records, bus.ByteRecord{
				Value:   *ev.MISO,
				Start:   ev.Start,
				End:     ev.End,
				Channel: bus.ChannelMISO,
			})
		}
		return res, nil

	case bus.EventDisable:
		return Result{FlushFirst: []bus.Channel{bus.ChannelMOSI, bus.ChannelMISO}}, nil
	}
	return Result{}, fmt.Errorf("%w: unexpected spi event type %q", ErrMalformedEvent, ev.Type)
}
