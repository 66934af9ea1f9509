package docchat

import (
	"encoding/json"
	"strings"
)

// OutboundFrame is the envelope client -> server.
type OutboundFrame struct {
	Text string `json:"text"`
}

// InboundFrame is the envelope server -> client.
type InboundFrame struct {
	Response *string `json:"response"`
}

// FrameMode selects how replies that fail to parse are handled.
type FrameMode int

const (
	// FramesTolerant drops malformed replies after logging them.
	FramesTolerant FrameMode = iota

	// FramesStrict also records malformed replies in the transcript and
	// raises an error notification.
	FramesStrict
)

// String returns the string representation of a FrameMode.
func (m FrameMode) String() string {
	switch m {
	case FramesTolerant:
		return "tolerant"
	case FramesStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseFrameMode maps "strict" to FramesStrict and anything else to FramesTolerant.
func ParseFrameMode(s string) FrameMode {
	if strings.EqualFold(strings.TrimSpace(s), "strict") {
		return FramesStrict
	}
	return FramesTolerant
}

// ParseReply decodes a raw inbound payload into the peer's reply text.
// Anything other than a JSON object with a string "response" is malformed.
func ParseReply(raw []byte) (string, error) {
	var in InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", WrapError(ErrorMalformedFrame, "reply is not a JSON object", err)
	}
	if in.Response == nil {
		return "", NewError(ErrorMalformedFrame, "reply has no response field")
	}
	return *in.Response, nil
}
