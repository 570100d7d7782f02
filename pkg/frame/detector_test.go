package frame

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bytemill/stitch/pkg/bus"
)

var base = time.Unix(1000, 0)

// rec builds a byte record spanning [startUS, endUS] microseconds from base.
func rec(v byte, startUS, endUS int64) bus.ByteRecord {
	return bus.ByteRecord{
		Value:   v,
		Start:   base.Add(time.Duration(startUS) * time.Microsecond),
		End:     base.Add(time.Duration(endUS) * time.Microsecond),
		Channel: bus.ChannelData,
	}
}

func collect(timeout time.Duration, delims [][]byte, recs []bus.ByteRecord, flush bool) []Message {
	var out []Message
	d := NewDetector(bus.ChannelData, timeout, delims, func(m Message) {
		out = append(out, m)
	}, nil, zerolog.Nop())
	for _, r := range recs {
		d.Receive(r)
	}
	if flush {
		d.Flush()
	}
	return out
}

func messageBytes(msgs []Message) [][]byte {
	out := make([][]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.Bytes
	}
	return out
}

func TestDetectorBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		delims  [][]byte
		recs    []bus.ByteRecord
		want    [][]byte
	}{{
		"timeout boundary",
		50 * time.Microsecond,
		nil,
		[]bus.ByteRecord{rec('A', 0, 1), rec('B', 100, 101)},
		[][]byte{{'A'}, {'B'}},
	}, {
		"no spurious split",
		50 * time.Microsecond,
		nil,
		[]bus.ByteRecord{rec('A', 0, 1), rec('B', 10, 11)},
		[][]byte{{'A', 'B'}},
	}, {
		"gap exactly at timeout splits",
		50 * time.Microsecond,
		nil,
		[]bus.ByteRecord{rec('A', 0, 1), rec('B', 51, 52)},
		[][]byte{{'A'}, {'B'}},
	}, {
		"delimiter included in terminated message",
		0,
		[][]byte{{0x0A}},
		[]bus.ByteRecord{rec(0x48, 0, 1), rec(0x49, 2, 3), rec(0x0A, 4, 5), rec(0x42, 6, 7)},
		[][]byte{{0x48, 0x49, 0x0A}, {0x42}},
	}, {
		"multi-byte delimiter",
		0,
		[][]byte{{0x0D, 0x0A}},
		[]bus.ByteRecord{rec('H', 0, 1), rec(0x0D, 2, 3), rec(0x0A, 4, 5), rec('X', 6, 7)},
		[][]byte{{'H', 0x0D, 0x0A}, {'X'}},
	}, {
		"delimiter never matches across a timeout boundary",
		50 * time.Microsecond,
		[][]byte{{'A', 0x0A}},
		[]bus.ByteRecord{rec('A', 0, 1), rec(0x0A, 100, 101)},
		[][]byte{{'A'}, {0x0A}},
	}, {
		"timeout evaluated before delimiter on simultaneous trigger",
		50 * time.Microsecond,
		[][]byte{{0x0A}},
		[]bus.ByteRecord{rec(0x0A, 0, 1), rec(0x0A, 100, 101)},
		[][]byte{{0x0A}, {0x0A}},
	}, {
		"multiple delimiters checked in order",
		0,
		[][]byte{{0x0A}, {0x0D}},
		[]bus.ByteRecord{rec('A', 0, 1), rec(0x0D, 2, 3), rec('B', 4, 5), rec(0x0A, 6, 7)},
		[][]byte{{'A', 0x0D}, {'B', 0x0A}},
	}, {
		"empty delimiter sequence never matches",
		50 * time.Microsecond,
		[][]byte{},
		[]bus.ByteRecord{rec('A', 0, 1), rec('B', 2, 3)},
		[][]byte{{'A', 'B'}},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := messageBytes(collect(tt.timeout, tt.delims, tt.recs, true))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("messages = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorCompleteness(t *testing.T) {
	// Every ingested byte lands in exactly one message, in order, no matter
	// how the boundaries fall.
	input := []byte("GET /index\r\nHost: x\r\npartial")
	var recs []bus.ByteRecord
	for i, v := range input {
		us := int64(i * 10)
		if i == 20 {
			us += 500 // silence long enough to force a timeout boundary
		}
		recs = append(recs, rec(v, us, us+1))
	}

	msgs := collect(100*time.Microsecond, [][]byte{{0x0D, 0x0A}}, recs, true)
	if len(msgs) < 3 {
		t.Fatalf("expected at least 3 messages, got %d", len(msgs))
	}

	var joined []byte
	for _, m := range msgs {
		joined = append(joined, m.Bytes...)
	}
	if !reflect.DeepEqual(joined, input) {
		t.Errorf("concatenated messages = %q, want %q", joined, input)
	}
}

func TestDetectorFlushOnStreamEnd(t *testing.T) {
	recs := []bus.ByteRecord{rec('A', 0, 1), rec('B', 10, 12)}

	var out []Message
	d := NewDetector(bus.ChannelData, 50*time.Microsecond, nil, func(m Message) {
		out = append(out, m)
	}, nil, zerolog.Nop())
	for _, r := range recs {
		d.Receive(r)
	}
	d.Flush()
	d.Flush() // second flush must not re-emit

	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if !out[0].Start.Equal(recs[0].Start) {
		t.Errorf("start = %v, want %v", out[0].Start, recs[0].Start)
	}
	if !out[0].End.Equal(recs[1].End) {
		t.Errorf("end = %v, want last byte end %v", out[0].End, recs[1].End)
	}
}

func TestDetectorClockSkewClampsGap(t *testing.T) {
	skews := 0
	var out []Message
	d := NewDetector(bus.ChannelData, 50*time.Microsecond, nil, func(m Message) {
		out = append(out, m)
	}, func() { skews++ }, zerolog.Nop())

	d.Receive(rec('A', 0, 10))
	d.Receive(rec('B', 5, 15)) // starts before A ended
	d.Flush()

	if skews != 1 {
		t.Errorf("skew callbacks = %d, want 1", skews)
	}
	// Clamped gap is zero, which never reaches the timeout: no split.
	want := [][]byte{{'A', 'B'}}
	if got := messageBytes(out); !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestDetectorMessageTimestamps(t *testing.T) {
	msgs := collect(0, [][]byte{{0x0A}}, []bus.ByteRecord{
		rec('H', 0, 2), rec('I', 4, 6), rec(0x0A, 8, 10),
	}, false)

	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !msgs[0].Start.Equal(base) {
		t.Errorf("start = %v, want %v", msgs[0].Start, base)
	}
	if want := base.Add(10 * time.Microsecond); !msgs[0].End.Equal(want) {
		t.Errorf("end = %v, want %v", msgs[0].End, want)
	}
}
