package output

import (
	"context"

	"github.com/bytemill/stitch/pkg/frame"
)

const receiveBufferLength = 8

// FrameOutput consumes rendered frames. The engine fans every sealed frame
// out to all configured outputs through Receive; Start runs until the
// context is cancelled.
type FrameOutput interface {
	Receive() chan<- frame.Frame
	Start(ctx context.Context) error
}
