package frame

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bytemill/stitch/pkg/bus"
)

// Detector is the boundary state machine for one channel. It consumes
// ByteRecords in arrival order and calls emit with each sealed message.
//
// Two detection mechanisms run together: an inter-byte timeout measured in
// capture time (gap between one byte's end and the next byte's start) and a
// set of delimiter sequences matched as a suffix of the open message. At
// least one must be active; that is enforced by configuration validation
// before any byte reaches the detector.
//
// A Detector is not safe for concurrent use. Each channel owns its own
// instance, so no locking is needed across channels.
type Detector struct {
	channel bus.Channel
	timeout time.Duration
	delims  [][]byte
	emit    func(Message)
	onSkew  func()
	logger  zerolog.Logger

	buf     *Buffer
	lastEnd time.Time
}

// NewDetector builds a detector for one channel. A zero timeout disables
// timeout detection; an empty delims disables delimiter detection. onSkew,
// if non-nil, is called once per record whose timestamps run backwards.
func NewDetector(channel bus.Channel, timeout time.Duration, delims [][]byte, emit func(Message), onSkew func(), logger zerolog.Logger) *Detector {
	return &Detector{
		channel: channel,
		timeout: timeout,
		delims:  delims,
		emit:    emit,
		onSkew:  onSkew,
		logger:  logger.With().Str("channel", string(channel)).Logger(),
	}
}

// Receive processes one byte. It never fails on well-formed input; a byte
// whose start precedes the previous byte's end is a decoder bug, logged and
// treated as a zero gap.
func (d *Detector) Receive(rec bus.ByteRecord) {
	if d.buf != nil {
		gap := rec.Start.Sub(d.lastEnd)
		if gap < 0 {
			d.logger.Warn().
				Time("prev_end", d.lastEnd).
				Time("start", rec.Start).
				Msg("clock skew: byte starts before previous byte ended")
			if d.onSkew != nil {
				d.onSkew()
			}
			gap = 0
		}

		// Timeout first: the silence precedes this byte's arrival, so the
		// old message is sealed before this byte is considered at all.
		if d.timeout > 0 && gap >= d.timeout {
			d.seal()
		}
	}
	d.lastEnd = rec.End

	if d.buf == nil {
		d.buf = NewBuffer(rec)
	} else if err := d.buf.Append(rec); err != nil {
		// Only reachable if a sealed buffer leaked back in, which the seal
		// path below makes impossible.
		d.logger.Error().Err(err).Msg("internal: dropped byte on sealed buffer")
		return
	}

	// The delimiter byte belongs to the message it terminates. First
	// configured sequence to match wins.
	for _, delim := range d.delims {
		if d.buf.EndsWith(delim) {
			d.seal()
			break
		}
	}
}

// Flush seals and emits the open message, if any. Called when the stream
// ends or when the bus signals a hard boundary (I2C stop, SPI chip-select
// deassert).
func (d *Detector) Flush() {
	if d.buf != nil {
		d.seal()
	}
}

func (d *Detector) seal() {
	msg := d.buf.Seal()
	d.buf = nil
	d.emit(msg)
}
