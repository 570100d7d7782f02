package bus

import "time"

// Protocol selects which ingest adapter is active for a session.
type Protocol string

const (
	ProtocolI2C  Protocol = "i2c"
	ProtocolSPI  Protocol = "spi"
	ProtocolUART Protocol = "uart"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolI2C, ProtocolSPI, ProtocolUART:
		return true
	}
	return false
}

// Channel identifies one independent byte stream within a capture.
// Every channel owns its own detector and message buffer, so SPI MOSI and
// MISO (or I2C address and data) never share framing state.
type Channel string

const (
	ChannelData    Channel = "data"
	ChannelI2CAddr Channel = "i2c-addr"
	ChannelMOSI    Channel = "spi-mosi"
	ChannelMISO    Channel = "spi-miso"
)

// EventType mirrors the record types emitted by the upstream bus decoders.
type EventType string

const (
	// EventData is a payload byte on UART or the I2C data phase.
	EventData EventType = "data"
	// EventAddress is an I2C address byte.
	EventAddress EventType = "address"
	// EventStart is an I2C start condition. Carries no byte.
	EventStart EventType = "start"
	// EventStop is an I2C stop condition. Carries no byte.
	EventStop EventType = "stop"
	// EventResult is one SPI transfer, carrying a byte per direction.
	EventResult EventType = "result"
	// EventDisable is an SPI chip-select deassert.
	EventDisable EventType = "disable"
)

// Event is one raw record from a bus decoder, before normalization.
// Optional fields are pointers so a missing field is distinguishable from a
// zero byte when checking for malformed records.
type Event struct {
	Type  EventType `json:"type"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Data *byte `json:"data,omitempty"`
	Ack  *bool `json:"ack,omitempty"`
	MOSI *byte `json:"mosi,omitempty"`
	MISO *byte `json:"miso,omitempty"`

	FramingError bool `json:"framing_error,omitempty"`
}

// ByteRecord is one normalized byte with its capture-time span.
type ByteRecord struct {
	Value   byte
	Start   time.Time
	End     time.Time
	Channel Channel
}
