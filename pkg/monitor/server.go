package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/bytemill/stitch/pkg/bus"
	"github.com/bytemill/stitch/pkg/frame"
)

const subscriberBufferLength = 16

type channelCharts struct {
	rate   *RatePlotter
	hist   *LengthHistogram
	bytes  uint64
	frames uint64
}

// Server exposes a live view of a capture session: per-channel charts
// rendered server-side, a websocket feed of rendered frames, and a JSON
// status endpoint.
type Server struct {
	port           int
	updateInterval time.Duration
	srv            *http.Server

	mu        sync.RWMutex
	sessionID string
	protocol  bus.Protocol
	startedAt time.Time
	channels  map[bus.Channel]*channelCharts
	malformed uint64
	clockSkew uint64

	upgrader    websocket.Upgrader
	subMu       sync.Mutex
	subscribers map[chan frame.Frame]struct{}
}

func NewServer(port int, updateInterval time.Duration) *Server {
	if updateInterval <= 0 {
		updateInterval = time.Second
	}
	return &Server{
		port:           port,
		updateInterval: updateInterval,
		srv:            &http.Server{Addr: fmt.Sprintf(":%d", port)},
		channels:       make(map[bus.Channel]*channelCharts),
		subscribers:    make(map[chan frame.Frame]struct{}),
		// The monitor is a local diagnostics page, not an origin-guarded app.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// SetSession records the identity shown on /status. Called once before Run.
func (s *Server) SetSession(id string, protocol bus.Protocol) {
	s.mu.Lock()
	s.sessionID = id
	s.protocol = protocol
	s.startedAt = time.Now()
	s.mu.Unlock()
}

func (s *Server) charts(ch bus.Channel) *channelCharts {
	c, ok := s.channels[ch]
	if !ok {
		c = &channelCharts{
			rate: NewRatePlotter(fmt.Sprintf("%s byte rate", ch), 60),
			hist: NewLengthHistogram(fmt.Sprintf("%s message lengths", ch)),
		}
		s.channels[ch] = c
	}
	return c
}

// ObserveRecord feeds one ingested byte into the channel's charts.
func (s *Server) ObserveRecord(rec bus.ByteRecord) {
	s.mu.Lock()
	c := s.charts(rec.Channel)
	c.bytes++
	s.mu.Unlock()
	c.rate.Observe(rec.End)
}

// ObserveFrame feeds one rendered frame into the charts and fans it out to
// websocket subscribers. Slow subscribers miss frames rather than stalling
// the engine.
func (s *Server) ObserveFrame(f frame.Frame) {
	s.mu.Lock()
	c := s.charts(f.Channel)
	c.frames++
	s.mu.Unlock()
	c.hist.Observe(f.Length)

	s.subMu.Lock()
	for sub := range s.subscribers {
		select {
		case sub <- f:
		default:
		}
	}
	s.subMu.Unlock()
}

func (s *Server) ObserveMalformed() {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
}

func (s *Server) ObserveClockSkew() {
	s.mu.Lock()
	s.clockSkew++
	s.mu.Unlock()
}

type channelStatus struct {
	Bytes  uint64 `json:"bytes"`
	Frames uint64 `json:"frames"`
}

type status struct {
	SessionID string                        `json:"session_id"`
	Protocol  bus.Protocol                  `json:"protocol"`
	StartedAt time.Time                     `json:"started_at"`
	Channels  map[bus.Channel]channelStatus `json:"channels"`
	Malformed uint64                        `json:"malformed_events"`
	ClockSkew uint64                        `json:"clock_skew_events"`
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) Run(ctx context.Context) error {
	s.srv.Handler = s.routes(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", s.port).Msg("monitor server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes(ctx context.Context) http.Handler {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		var key bus.Channel
		for name := range s.channels {
			key = name
			break
		}
		s.mu.RUnlock()
		if key == "" {
			key = bus.ChannelData
		}
		http.Redirect(w, r, fmt.Sprintf("/view/%s", key), http.StatusFound)
	})

	handler.GET("/view/:channel", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		channel := bus.Channel(params.ByName("channel"))
		s.mu.RLock()
		_, ok := s.channels[channel]
		keys := make([]string, 0, len(s.channels))
		for name := range s.channels {
			keys = append(keys, string(name))
		}
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sort.Strings(keys)

		w.Header().Add("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>stitch %s</title></head>`, channel)
		fmt.Fprintf(w, `<script type="text/javascript">
			window.onload = function() {
				var imgs = document.getElementsByClassName('graph');
				setInterval(function() {
					for (var i = 0; i < imgs.length; i++) {
						imgs[i].src = imgs[i].src.split("?")[0] + "?" + new Date().getTime();
					}
				}, %d);
			}
		</script>`, s.updateInterval.Milliseconds())
		w.Write([]byte(`<body style='background-color: black; color: white'>`))
		for _, key := range keys {
			fmt.Fprintf(w, `<a style='color: white' href="/view/%s">%s</a>&nbsp;`, key, key)
		}
		for _, name := range []string{"rate", "lengths"} {
			fmt.Fprintf(w, `<div><img class="graph" src="/plots/%s/%s"/></div>`, channel, name)
		}
		w.Write([]byte(`</body></html>`))
	})

	handler.GET("/plots/:channel/:name", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		channel := bus.Channel(params.ByName("channel"))
		s.mu.RLock()
		c, ok := s.channels[channel]
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var p Plotter
		switch params.ByName("name") {
		case "rate":
			p = c.rate
		case "lengths":
			p = c.hist
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}

		img := p.GetImage()
		if img == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img.data)
	})

	handler.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		st := status{
			SessionID: s.sessionID,
			Protocol:  s.protocol,
			StartedAt: s.startedAt,
			Channels:  make(map[bus.Channel]channelStatus, len(s.channels)),
			Malformed: s.malformed,
			ClockSkew: s.clockSkew,
		}
		for name, c := range s.channels {
			st.Channels[name] = channelStatus{Bytes: c.bytes, Frames: c.frames}
		}
		s.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})

	handler.GET("/ws", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		sub := make(chan frame.Frame, subscriberBufferLength)
		s.subMu.Lock()
		s.subscribers[sub] = struct{}{}
		s.subMu.Unlock()

		defer func() {
			s.subMu.Lock()
			delete(s.subscribers, sub)
			s.subMu.Unlock()
			conn.Close()
		}()

		// Reader only to notice the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case f := <-sub:
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			}
		}
	})

	return handler
}
