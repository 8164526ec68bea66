// Package types defines the packet model shared by the codec, relay and client.
package types //nolint:revive // types is a valid package name

import "fmt"

// EventType is the routing intent carried in the first header byte.
type EventType uint8

// Event type tags on the wire.
const (
	EventDirectMsg EventType = 0x01
	EventBroadcast EventType = 0x02
)

// Valid reports whether e is a defined event tag.
func (e EventType) Valid() bool {
	switch e {
	case EventDirectMsg, EventBroadcast:
		return true
	default:
		return false
	}
}

func (e EventType) String() string {
	switch e {
	case EventDirectMsg:
		return "direct_msg"
	case EventBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("event(0x%02x)", uint8(e))
	}
}

// ParseEventType parses the names accepted on the CLI and in config.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "direct_msg", "direct":
		return EventDirectMsg, nil
	case "broadcast", "":
		return EventBroadcast, nil
	default:
		return 0, fmt.Errorf("invalid event type: %q (must be broadcast or direct_msg)", s)
	}
}

// DataType selects the payload codec and is carried in the second header byte.
type DataType uint8

// Data type tags on the wire.
const (
	DataRaw    DataType = 0x01
	DataObject DataType = 0x02 // msgpack
	DataText   DataType = 0x03
	DataJSON   DataType = 0x04
)

// Valid reports whether d is a defined data tag.
func (d DataType) Valid() bool {
	switch d {
	case DataRaw, DataObject, DataText, DataJSON:
		return true
	default:
		return false
	}
}

func (d DataType) String() string {
	switch d {
	case DataRaw:
		return "raw"
	case DataObject:
		return "object"
	case DataText:
		return "text"
	case DataJSON:
		return "json"
	default:
		return fmt.Sprintf("data(0x%02x)", uint8(d))
	}
}

// ParseDataType parses the names accepted on the CLI and in config.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "raw":
		return DataRaw, nil
	case "object", "msgpack":
		return DataObject, nil
	case "text", "string":
		return DataText, nil
	case "json", "":
		return DataJSON, nil
	default:
		return 0, fmt.Errorf("invalid data type: %q (must be raw, object, text or json)", s)
	}
}

// Packet is one decoded message.
//
// Payload holds []byte for DataRaw, string for DataText, and any
// encoding/json or msgpack compatible value for DataJSON and DataObject.
type Packet struct {
	Event   EventType
	Data    DataType
	Payload any
}
