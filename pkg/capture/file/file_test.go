package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytemill/stitch/pkg/bus"
)

func TestFileSourceReplaysEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	contents := `{"type":"data","start":"2024-05-01T10:00:00.000001Z","end":"2024-05-01T10:00:00.000002Z","data":72}

{"type":"data","start":"2024-05-01T10:00:00.000104Z","end":"2024-05-01T10:00:00.000105Z","data":10}
not json at all
{"type":"stop","start":"2024-05-01T10:00:00.000200Z","end":"2024-05-01T10:00:00.000201Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	source, err := NewFileSource(path, false)
	require.NoError(t, err)
	defer source.Stop()

	events := make(chan bus.Event, 16)
	require.NoError(t, source.Start(context.Background(), events))
	close(events)

	var got []bus.Event
	for ev := range events {
		got = append(got, ev)
	}

	// Blank and unparseable lines are skipped, everything else arrives in order.
	require.Len(t, got, 3)
	require.Equal(t, bus.EventData, got[0].Type)
	require.NotNil(t, got[0].Data)
	require.Equal(t, byte(72), *got[0].Data)
	require.Equal(t, bus.EventData, got[1].Type)
	require.Equal(t, bus.EventStop, got[2].Type)
	require.True(t, got[1].Start.After(got[0].Start))
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl"), false)
	require.Error(t, err)
}

func TestFileSourceCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"type":"data","start":"2024-05-01T10:00:00Z","end":"2024-05-01T10:00:00Z","data":1}`+"\n"), 0o644))

	source, err := NewFileSource(path, false)
	require.NoError(t, err)
	defer source.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan bus.Event) // unbuffered, nobody reading
	require.ErrorIs(t, source.Start(ctx, events), context.Canceled)
}
