package frame

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytemill/stitch/pkg/bus"
)

// Format selects how message bytes are displayed.
type Format string

const (
	FormatHex   Format = "hex"
	FormatASCII Format = "ascii"
)

func (f Format) Valid() bool {
	return f == FormatHex || f == FormatASCII
}

// Frame is the rendered form of a sealed message, the only output the host
// display sees.
type Frame struct {
	Channel bus.Channel `json:"channel"`
	Text    string      `json:"text"`
	Length  int         `json:"length"`
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
}

// Renderer formats sealed messages. Rendering is a pure function of the
// message; the same message always renders to the same frame.
type Renderer struct {
	format Format
	prefix string
}

func NewRenderer(format Format, prefix string) *Renderer {
	return &Renderer{format: format, prefix: prefix}
}

// Render is total over any byte sequence, including empty.
func (r *Renderer) Render(msg Message) Frame {
	var b strings.Builder
	b.WriteString(r.prefix)

	switch r.format {
	case FormatASCII:
		for _, v := range msg.Bytes {
			if v >= 0x20 && v <= 0x7e {
				b.WriteByte(v)
			} else {
				b.WriteByte('.')
			}
		}
	default:
		for i, v := range msg.Bytes {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02X", v)
		}
	}

	return Frame{
		Channel: msg.Channel,
		Text:    b.String(),
		Length:  len(msg.Bytes),
		Start:   msg.Start,
		End:     msg.End,
	}
}
