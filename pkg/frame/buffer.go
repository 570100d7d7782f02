package frame

import (
	"errors"
	"time"

	"github.com/bytemill/stitch/pkg/bus"
)

// ErrSealed is returned on append after Seal. It indicates an integration
// bug, not a condition that occurs on well-formed input.
var ErrSealed = errors.New("append to sealed message buffer")

// Message is a sealed run of bytes between two boundaries.
type Message struct {
	Channel bus.Channel
	Bytes   []byte
	Start   time.Time
	End     time.Time
}

// Buffer accumulates the currently open message for one channel. Appends are
// amortized O(1); Seal freezes the contents.
type Buffer struct {
	channel bus.Channel
	data    []byte
	start   time.Time
	end     time.Time
	sealed  bool
}

// NewBuffer opens a message with its first byte.
func NewBuffer(rec bus.ByteRecord) *Buffer {
	return &Buffer{
		channel: rec.Channel,
		data:    []byte{rec.Value},
		start:   rec.Start,
		end:     rec.End,
	}
}

func (b *Buffer) Append(rec bus.ByteRecord) error {
	if b.sealed {
		return ErrSealed
	}
	b.data = append(b.data, rec.Value)
	b.end = rec.End
	return nil
}

func (b *Buffer) Len() int { return len(b.data) }

// EndsWith reports whether the buffer's trailing bytes equal seq. The
// comparison is bounded to len(seq), never a rescan of the whole buffer.
// An empty seq never matches.
func (b *Buffer) EndsWith(seq []byte) bool {
	if len(seq) == 0 || len(seq) > len(b.data) {
		return false
	}
	tail := b.data[len(b.data)-len(seq):]
	for i := range seq {
		if tail[i] != seq[i] {
			return false
		}
	}
	return true
}

// Seal freezes the buffer and returns the completed message. Further appends
// fail with ErrSealed.
func (b *Buffer) Seal() Message {
	b.sealed = true
	return Message{
		Channel: b.channel,
		Bytes:   b.data,
		Start:   b.start,
		End:     b.end,
	}
}
