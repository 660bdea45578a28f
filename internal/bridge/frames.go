package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Telephony media-stream frame events.
const (
	EventStart = "start"
	EventMedia = "media"
	EventMark  = "mark"
	EventStop  = "stop"
	EventClear = "clear"
)

var ErrUnsupportedFrame = errors.New("unsupported frame event")

type frameEnvelope struct {
	Event string `json:"event"`
}

// StartFrame opens a media stream and carries the provider's per-call ids.
type StartFrame struct {
	StreamSID string
	CallSID   string
}

// MediaFrame carries one base64 G.711 μ-law chunk from the caller.
// Timestamp is milliseconds since stream start, in the provider's clock.
type MediaFrame struct {
	TimestampMS int64
	Payload     string
}

// MarkFrame acknowledges a mark the bridge previously emitted.
type MarkFrame struct {
	Name string
}

// StopFrame ends the media stream.
type StopFrame struct{}

type inboundStart struct {
	Event string `json:"event"`
	Start struct {
		StreamSID string `json:"streamSid"`
		CallSID   string `json:"callSid"`
	} `json:"start"`
}

type inboundMedia struct {
	Event string `json:"event"`
	Media struct {
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
}

type inboundMark struct {
	Event string `json:"event"`
	Mark  struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// ParseProviderFrame decodes one inbound telephony frame. Unknown events
// surface ErrUnsupportedFrame so read loops can skip them.
func ParseProviderFrame(raw []byte) (any, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid frame envelope: %w", err)
	}

	switch env.Event {
	case EventStart:
		var f inboundStart
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		if f.Start.StreamSID == "" {
			return nil, errors.New("start frame missing streamSid")
		}
		return StartFrame{StreamSID: f.Start.StreamSID, CallSID: f.Start.CallSID}, nil
	case EventMedia:
		var f inboundMedia
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		if f.Media.Payload == "" {
			return nil, errors.New("media frame missing payload")
		}
		ts, _ := strconv.ParseInt(f.Media.Timestamp, 10, 64)
		return MediaFrame{TimestampMS: ts, Payload: f.Media.Payload}, nil
	case EventMark:
		var f inboundMark
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return MarkFrame{Name: f.Mark.Name}, nil
	case EventStop:
		return StopFrame{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFrame, env.Event)
	}
}

// Outbound frames toward the provider.

type outMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

type outClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func newOutMedia(streamSID, payload string) outMedia {
	f := outMedia{Event: EventMedia, StreamSID: streamSID}
	f.Media.Payload = payload
	return f
}

func newOutMark(streamSID, name string) outMark {
	f := outMark{Event: EventMark, StreamSID: streamSID}
	f.Mark.Name = name
	return f
}

func newOutClear(streamSID string) outClear {
	return outClear{Event: EventClear, StreamSID: streamSID}
}
