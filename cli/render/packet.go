package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/justapithecus/tcplite/types"
)

// PacketView is the rendered form of a received packet.
// RAW payloads are base64; TEXT, JSON and OBJECT payloads are carried as values.
type PacketView struct {
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
	Event      string    `json:"event" yaml:"event"`
	DataType   string    `json:"data_type" yaml:"data_type"`
	SizeBytes  int       `json:"size_bytes" yaml:"size_bytes"`
	Payload    any       `json:"payload" yaml:"payload"`
}

// NewPacketView builds a view of pkt. size is the frame length on the wire,
// excluding the delimiter.
func NewPacketView(pkt *types.Packet, size int, at time.Time) PacketView {
	v := PacketView{
		ReceivedAt: at,
		Event:      pkt.Event.String(),
		DataType:   pkt.Data.String(),
		SizeBytes:  size,
		Payload:    pkt.Payload,
	}
	if b, ok := pkt.Payload.([]byte); ok {
		v.Payload = base64.StdEncoding.EncodeToString(b)
	}
	return v
}

// Summary renders the payload on one line, truncated to limit runes.
func (p PacketView) Summary(limit int) string {
	var s string
	switch payload := p.Payload.(type) {
	case string:
		s = payload
	case nil:
		s = ""
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			s = fmt.Sprintf("%v", payload)
		} else {
			s = string(b)
		}
	}

	r := []rune(s)
	if limit > 3 && len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}
