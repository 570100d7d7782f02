package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog/log"

	"github.com/bytemill/stitch/pkg/frame"
	"github.com/bytemill/stitch/pkg/stitch/config"
	"github.com/bytemill/stitch/pkg/util"
)

// UDPJSONOutput sends each rendered frame as one JSON datagram to every
// configured destination. Frames are small; a datagram per frame keeps the
// receiver trivially line-oriented.
type UDPJSONOutput struct {
	dests    []config.OutputDestination
	recvChan chan frame.Frame
	metrics  api.WriteAPI
}

func NewUDPJSONOutput(dests []config.OutputDestination, metrics api.WriteAPI) *UDPJSONOutput {
	if metrics == nil {
		metrics = &util.NoopWriteAPI{}
	}
	return &UDPJSONOutput{
		dests:    dests,
		recvChan: make(chan frame.Frame, receiveBufferLength),
		metrics:  metrics,
	}
}

func (u *UDPJSONOutput) Receive() chan<- frame.Frame {
	return u.recvChan
}

func (u *UDPJSONOutput) Start(ctx context.Context) error {
	conns := make([]*net.UDPConn, 0, len(u.dests))
	for _, dest := range u.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no addresses for %s", dest.Host)
		}
		conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: ips[0], Port: dest.Port})
		if err != nil {
			return err
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case f := <-u.recvChan:
					u.send(conns, f)
				default:
					return ctx.Err()
				}
			}
		case f := <-u.recvChan:
			u.send(conns, f)
		}
	}
}

func (u *UDPJSONOutput) send(conns []*net.UDPConn, f frame.Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Warn().Err(err).Msg("dropped unencodable frame")
		return
	}
	for _, conn := range conns {
		if _, err := conn.Write(payload); err != nil {
			log.Warn().Err(err).Str("dest", conn.RemoteAddr().String()).Msg("dropped frame datagram")
			continue
		}
		u.metrics.WritePoint(influxdb2.NewPoint("stitch_frames_sent",
			map[string]string{"dest": conn.RemoteAddr().String(), "channel": string(f.Channel)},
			map[string]interface{}{"bytes": len(payload)},
			time.Now()))
	}
}
