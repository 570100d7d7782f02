package stitch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bytemill/stitch/pkg/bus"
	"github.com/bytemill/stitch/pkg/frame"
	"github.com/bytemill/stitch/pkg/output"
	"github.com/bytemill/stitch/pkg/stitch/config"
)

type stubSource struct {
	events []bus.Event
}

func (s *stubSource) Start(ctx context.Context, events chan<- bus.Event) error {
	for _, ev := range s.events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events <- ev:
		}
	}
	return nil
}

func (s *stubSource) Stop() error { return nil }

// collectOutput gathers frames for assertions, draining on shutdown the same
// way the real outputs do.
type collectOutput struct {
	mu       sync.Mutex
	frames   []frame.Frame
	recvChan chan frame.Frame
}

func newCollectOutput() *collectOutput {
	return &collectOutput{recvChan: make(chan frame.Frame, 64)}
}

func (c *collectOutput) Receive() chan<- frame.Frame { return c.recvChan }

func (c *collectOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case f := <-c.recvChan:
					c.append(f)
				default:
					return ctx.Err()
				}
			}
		case f := <-c.recvChan:
			c.append(f)
		}
	}
}

func (c *collectOutput) append(f frame.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collectOutput) collected() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.frames...)
}

func bptr(v byte) *byte { return &v }

func uartData(v byte, atUS int64) bus.Event {
	base := time.Unix(1000, 0)
	return bus.Event{
		Type:  bus.EventData,
		Start: base.Add(time.Duration(atUS) * time.Microsecond),
		End:   base.Add(time.Duration(atUS+1) * time.Microsecond),
		Data:  bptr(v),
	}
}

func TestSessionDelimiterFraming(t *testing.T) {
	source := &stubSource{events: []bus.Event{
		uartData(0x48, 0), uartData(0x49, 2), uartData(0x0A, 4), uartData(0x42, 6),
	}}
	sink := newCollectOutput()

	s, err := NewStitch(source, Options{
		Protocol:      bus.ProtocolUART,
		Delimiters:    [][]byte{{0x0A}},
		DisplayFormat: frame.FormatHex,
		Outputs:       []output.FrameOutput{sink},
	})
	require.NoError(t, err)
	require.NotEmpty(t, s.SessionID())

	require.NoError(t, s.Start(context.Background()))

	frames := sink.collected()
	require.Len(t, frames, 2)
	require.Equal(t, "48 49 0A", frames[0].Text)
	require.Equal(t, "42", frames[1].Text)
	// Seal order is monotonic in start time.
	require.False(t, frames[1].Start.Before(frames[0].Start))
}

func TestSessionTimeoutFramingAndFlush(t *testing.T) {
	source := &stubSource{events: []bus.Event{
		uartData('A', 0), uartData('B', 100), uartData('C', 110),
	}}
	sink := newCollectOutput()

	s, err := NewStitch(source, Options{
		Protocol:      bus.ProtocolUART,
		Timeout:       50 * time.Microsecond,
		DisplayFormat: frame.FormatASCII,
		Outputs:       []output.FrameOutput{sink},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))

	frames := sink.collected()
	require.Len(t, frames, 2)
	require.Equal(t, "A", frames[0].Text)
	// BC was still open at stream end and must be flushed, not lost.
	require.Equal(t, "BC", frames[1].Text)
}

func TestSessionSPIFramesPerDirection(t *testing.T) {
	base := time.Unix(1000, 0)
	at := func(us int64) (time.Time, time.Time) {
		return base.Add(time.Duration(us) * time.Microsecond),
			base.Add(time.Duration(us+1) * time.Microsecond)
	}
	ev := func(mosi, miso byte, us int64) bus.Event {
		start, end := at(us)
		return bus.Event{Type: bus.EventResult, Start: start, End: end, MOSI: bptr(mosi), MISO: bptr(miso)}
	}
	disable := func(us int64) bus.Event {
		start, end := at(us)
		return bus.Event{Type: bus.EventDisable, Start: start, End: end}
	}

	source := &stubSource{events: []bus.Event{
		ev(0x01, 0x10, 0), ev(0x02, 0x20, 2), disable(4),
	}}
	sink := newCollectOutput()

	s, err := NewStitch(source, Options{
		Protocol:      bus.ProtocolSPI,
		Timeout:       time.Second,
		DisplayFormat: frame.FormatHex,
		Outputs:       []output.FrameOutput{sink},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	byChannel := map[bus.Channel]string{}
	for _, f := range sink.collected() {
		byChannel[f.Channel] = f.Text
	}
	require.Equal(t, "01 02", byChannel[bus.ChannelMOSI])
	require.Equal(t, "10 20", byChannel[bus.ChannelMISO])
}

func TestSessionSkipsMalformedEvents(t *testing.T) {
	malformed := uartData('X', 2)
	malformed.Data = nil

	source := &stubSource{events: []bus.Event{
		uartData('A', 0), malformed, uartData('B', 4),
	}}
	sink := newCollectOutput()

	s, err := NewStitch(source, Options{
		Protocol:      bus.ProtocolUART,
		Timeout:       time.Millisecond,
		DisplayFormat: frame.FormatASCII,
		Outputs:       []output.FrameOutput{sink},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	frames := sink.collected()
	require.Len(t, frames, 1)
	require.Equal(t, "AB", frames[0].Text)
}

func TestSessionRejectsDeadConfiguration(t *testing.T) {
	sink := newCollectOutput()
	_, err := NewStitch(&stubSource{}, Options{
		Protocol:      bus.ProtocolUART,
		DisplayFormat: frame.FormatHex,
		Outputs:       []output.FrameOutput{sink},
	})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	require.Empty(t, sink.collected())
}
