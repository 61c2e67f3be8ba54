package types

import "time"

// NewPush builds an unsolicited server -> client frame
func NewPush(frameType string, payload interface{}) *OutboundFrame {
	return &OutboundFrame{
		Type:      frameType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewAck builds the successful reply to a request
func NewAck(requestID string, payload interface{}) *OutboundFrame {
	ok := true
	return &OutboundFrame{
		Type:      FrameAck,
		RequestID: requestID,
		Success:   &ok,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewNack builds the failed reply to a request. reason is shown to the user as-is.
func NewNack(requestID, code, reason string) *OutboundFrame {
	ok := false
	return &OutboundFrame{
		Type:      FrameAck,
		RequestID: requestID,
		Success:   &ok,
		Code:      code,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorFrame reports a problem that is not tied to a request id
func NewErrorFrame(code, reason string) *OutboundFrame {
	return &OutboundFrame{
		Type:      FrameError,
		Code:      code,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
}
