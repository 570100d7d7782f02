package util

import (
	"time"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// NoopWriteAPI satisfies the influx WriteAPI interface without a server
// behind it. It is the default metrics sink, so running without InfluxDB
// configured costs nothing.
type NoopWriteAPI struct{}

// WriteRecord discards the line protocol record.
func (m *NoopWriteAPI) WriteRecord(line string) {}

// WritePoint discards the point.
func (m *NoopWriteAPI) WritePoint(point *write.Point) {}

// Flush is a no-op.
func (m *NoopWriteAPI) Flush() {}

// Close is a no-op.
func (m *NoopWriteAPI) Close() {}

// Errors returns nil; there is nothing to fail.
func (m *NoopWriteAPI) Errors() <-chan error { return nil }

// TimeOperationMicroseconds runs op and returns how long it took.
func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return time.Since(start).Microseconds()
}
