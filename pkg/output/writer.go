package output

import (
	"context"
	"fmt"
	"io"

	"github.com/bytemill/stitch/pkg/frame"
)

// WriterOutput prints one line per frame to dest, typically stdout.
type WriterOutput struct {
	dest     io.Writer
	recvChan chan frame.Frame
}

func NewWriterOutput(dest io.Writer) *WriterOutput {
	return &WriterOutput{
		dest:     dest,
		recvChan: make(chan frame.Frame, receiveBufferLength),
	}
}

func (w *WriterOutput) Receive() chan<- frame.Frame {
	return w.recvChan
}

func (w *WriterOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Drain what the engine queued before it stopped; the final
			// flushed frame must still be printed.
			for {
				select {
				case f := <-w.recvChan:
					if err := w.write(f); err != nil {
						return err
					}
				default:
					return ctx.Err()
				}
			}
		case f := <-w.recvChan:
			if err := w.write(f); err != nil {
				return err
			}
		}
	}
}

func (w *WriterOutput) write(f frame.Frame) error {
	_, err := fmt.Fprintf(w.dest, "%s  %s  [%s]  %s\n",
		f.Start.Format("15:04:05.000000"),
		f.End.Format("15:04:05.000000"),
		f.Channel, f.Text)
	return err
}
