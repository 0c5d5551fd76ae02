package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Fixed wire capacities: ids are 64 bytes, messages and data chunks 256.
const (
	idCapacity       = 64
	msgCapacity      = 256
	maxCommandParams = 16
)

// MessageType is the wire discriminant for a MessagePayload's content.
type MessageType uint8

const (
	MessageTypeTask         MessageType = 0
	MessageTypeResult       MessageType = 1
	MessageTypeEvent        MessageType = 2
	MessageTypeCommand      MessageType = 3
	MessageTypeRegistration MessageType = 4
	MessageTypeHeartbeat    MessageType = 5
)

// EventType is the wire discriminant for an Event message's content.
type EventType uint8

const (
	EventResourceReady EventType = 0
	EventStarted       EventType = 1
	EventFailed        EventType = 2
	EventShutdown      EventType = 3
	EventProgress      EventType = 4
	EventComplete      EventType = 5
)

// CommandType is the wire discriminant for a Command message's content.
type CommandType uint8

const (
	CommandStop   CommandType = 0
	CommandPause  CommandType = 1
	CommandResume CommandType = 2
	CommandStatus CommandType = 3
)

// id64 and msg256 are the fixed-capacity byte strings embedded in every
// payload field.
type id64 [idCapacity]byte
type msg256 [msgCapacity]byte

// toID64 and toMsg256 never silently truncate: a string that doesn't fit
// the fixed capacity is a SerializationError, so an Encode/Decode round
// trip is always the identity on payloads that encode at all.
func toID64(s string) (id64, error) {
	var b id64
	if len(s) > idCapacity {
		return b, fmt.Errorf("%w: %q exceeds %d-byte id capacity", ErrSerialization, s, idCapacity)
	}
	copy(b[:], s)
	return b, nil
}

func toMsg256(s string) (msg256, error) {
	var b msg256
	if len(s) > msgCapacity {
		return b, fmt.Errorf("%w: value exceeds %d-byte capacity", ErrSerialization, msgCapacity)
	}
	copy(b[:], s)
	return b, nil
}

func (b id64) String() string {
	i := bytes.IndexByte(b[:], 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i])
}

func (b msg256) String() string {
	i := bytes.IndexByte(b[:], 0)
	if i < 0 {
		i = len(b)
	}
	return string(b[:i])
}

// MessageContent is the union of all possible message payload contents.
// Every field is fixed-size so the whole struct can be (de)serialized with
// a single encoding/binary pass.
type MessageContent struct {
	// Task
	TaskDataSize   uint32
	TaskData       msg256
	TaskPriority   uint8
	TaskTimeoutMs  uint64

	// Result
	ResultPluginID     id64
	ResultSuccess      bool
	ResultHasError     bool
	ResultErrorMessage msg256
	ResultDataSize     uint32
	ResultData         msg256

	// Event
	EventPluginID        id64
	EventType            EventType
	EventErrorMessage    msg256
	EventProgressPercent uint8
	EventProgressMessage msg256
	EventSuccess         bool

	// Command
	CommandType        CommandType
	CommandCustom      id64
	CommandParamCount  uint32
	CommandParamKeys   [maxCommandParams]id64
	CommandParamValues [maxCommandParams]msg256
}

// MessagePayload is the fixed-size envelope placed on the wire.
type MessagePayload struct {
	MessageType MessageType
	MessageID   id64
	SenderID    id64
	RecipientID id64
	HasTaskID   bool
	TaskID      id64
	Content     MessageContent
}

// wireSize is the exact encoded size of a MessagePayload; used to size
// ring buffer slots.
var wireSize = binary.Size(MessagePayload{})

// Encode serializes p into its fixed-size wire representation.
func (p *MessagePayload) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(wireSize)
	if err := binary.Write(buf, binary.LittleEndian, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a MessagePayload from its fixed-size wire representation.
// MessagePayload -> bytes -> MessagePayload is the identity for
// well-formed payloads.
func Decode(data []byte) (*MessagePayload, error) {
	if len(data) != wireSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrSerialization, wireSize, len(data))
	}
	var p MessagePayload
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &p, nil
}
