package capture

import (
	"context"

	"github.com/bytemill/stitch/pkg/bus"
)

// Source produces raw bus events for a session. Start blocks until the
// capture is exhausted (file playback), the context is cancelled, or Stop is
// called; returning nil means the stream ended cleanly and any open message
// should be flushed.
type Source interface {
	Start(ctx context.Context, events chan<- bus.Event) error
	Stop() error
}
