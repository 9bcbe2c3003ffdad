package core

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrInvalidInterval is returned when an event would start after it ends.
	ErrInvalidInterval = errors.New("invalid event interval")
	// ErrUnknownMedium is returned when a medium tag cannot be parsed.
	ErrUnknownMedium = errors.New("unknown medium")
)

// Medium identifies the radio technology a transceiver or event belongs to.
type Medium int

const (
	// MediumNone tags local events that are not bound to a radio.
	MediumNone Medium = iota
	// MediumD2D is short-range peer-to-peer LoRa.
	MediumD2D
	// MediumLoRaWAN is long-range wide-area LoRa.
	MediumLoRaWAN
)

// Media lists every radio medium a node can carry, in tick order.
func Media() []Medium {
	return []Medium{MediumD2D, MediumLoRaWAN}
}

func (m Medium) String() string {
	switch m {
	case MediumNone:
		return "NONE"
	case MediumD2D:
		return "D2D_LORA"
	case MediumLoRaWAN:
		return "LORA_WAN"
	default:
		return fmt.Sprintf("Medium(%d)", int(m))
	}
}

// ParseMedium accepts the wire names ("D2D_LORA", "LORA_WAN") as well as the
// short config aliases "d2d" and "lorawan".
func ParseMedium(s string) (Medium, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d2d", "d2d_lora":
		return MediumD2D, nil
	case "lorawan", "lora_wan":
		return MediumLoRaWAN, nil
	default:
		return MediumNone, fmt.Errorf("%w: %q", ErrUnknownMedium, s)
	}
}

// EventKind distinguishes a transmission from the record of its abort.
type EventKind int

const (
	EventTransmit EventKind = iota
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventTransmit:
		return "TRANSMIT"
	case EventCancelled:
		return "CANCELED"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// NetworkEvent is one transmission interval on the shared medium. It is
// immutable: the payload is copied on construction and on access.
type NetworkEvent struct {
	nodeID    int
	timeStart int64
	timeEnd   int64
	data      []byte
	kind      EventKind
	medium    Medium
}

// NewNetworkEvent validates and builds an event covering [start, end].
func NewNetworkEvent(nodeID int, start, end int64, data []byte, kind EventKind, medium Medium) (NetworkEvent, error) {
	if start > end {
		return NetworkEvent{}, fmt.Errorf("%w: start %d > end %d", ErrInvalidInterval, start, end)
	}
	return NetworkEvent{
		nodeID:    nodeID,
		timeStart: start,
		timeEnd:   end,
		data:      bytes.Clone(data),
		kind:      kind,
		medium:    medium,
	}, nil
}

func (e NetworkEvent) NodeID() int     { return e.nodeID }
func (e NetworkEvent) Start() int64    { return e.timeStart }
func (e NetworkEvent) End() int64      { return e.timeEnd }
func (e NetworkEvent) Kind() EventKind { return e.kind }
func (e NetworkEvent) Medium() Medium  { return e.medium }
func (e NetworkEvent) Data() []byte    { return bytes.Clone(e.data) }
func (e NetworkEvent) Cancelled() bool { return e.kind == EventCancelled }
func (e NetworkEvent) Duration() int64 { return e.timeEnd - e.timeStart }

// Contains reports whether tick t lies inside [start, end].
func (e NetworkEvent) Contains(t int64) bool {
	return e.timeStart <= t && t <= e.timeEnd
}

// Intersects reports whether [start, end] shares at least one tick with the
// event's interval.
func (e NetworkEvent) Intersects(start, end int64) bool {
	return e.timeStart <= end && e.timeEnd >= start
}

// Equal reports structural equality.
func (e NetworkEvent) Equal(o NetworkEvent) bool {
	return e.nodeID == o.nodeID &&
		e.timeStart == o.timeStart &&
		e.timeEnd == o.timeEnd &&
		e.kind == o.kind &&
		e.medium == o.medium &&
		bytes.Equal(e.data, o.data)
}

func (e NetworkEvent) String() string {
	return fmt.Sprintf("%s node=%d medium=%s [%d,%d] %dB", e.kind, e.nodeID, e.medium, e.timeStart, e.timeEnd, len(e.data))
}

// NetworkEventRecord is the plain-data shape of a NetworkEvent handed to
// exporters.
type NetworkEventRecord struct {
	NodeID    int    `json:"node_id"`
	TimeStart int64  `json:"time_start"`
	TimeEnd   int64  `json:"time_end"`
	Data      []int  `json:"data"`
	Kind      string `json:"kind"`
	Medium    string `json:"medium"`
}

// Record dumps the event into its plain-data shape.
func (e NetworkEvent) Record() NetworkEventRecord {
	data := make([]int, len(e.data))
	for i, b := range e.data {
		data[i] = int(b)
	}
	return NetworkEventRecord{
		NodeID:    e.nodeID,
		TimeStart: e.timeStart,
		TimeEnd:   e.timeEnd,
		Data:      data,
		Kind:      e.kind.String(),
		Medium:    e.medium.String(),
	}
}

// AsStruct dumps the event as a protobuf Struct, the JSON-like value used by
// the JSONL exporter.
func (e NetworkEvent) AsStruct() (*structpb.Struct, error) {
	data := make([]any, len(e.data))
	for i, b := range e.data {
		data[i] = int(b)
	}
	return structpb.NewStruct(map[string]any{
		"node_id":    e.nodeID,
		"time_start": e.timeStart,
		"time_end":   e.timeEnd,
		"data":       data,
		"kind":       e.kind.String(),
		"medium":     e.medium.String(),
	})
}
