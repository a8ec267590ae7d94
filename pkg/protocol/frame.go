// Package protocol defines the BoxLite wire protocol: the line-delimited
// JSON frames exchanged between the host broker and a guest box over the
// guest's stdio streams, and the error vocabulary shared across the host
// and guest runtimes.
package protocol

import "encoding/json"

// Frame type discriminators. A frame is a single JSON object, one per
// line; the Type field selects which fields are meaningful. A guest's
// answer to a host message is a "response" frame, but the host's reply to
// a guest send intentionally carries no Type tag at all — see
// Frame.IsReply.
const (
	TypeSend     = "send"
	TypePublish  = "publish"
	TypeResponse = "response"
	TypeMessage  = "message"
	TypeEvent    = "event"
	TypeShutdown = "shutdown"
)

// Frame is the wire representation of every BoxLite control message. Not
// every field is meaningful for every Type. json.RawMessage is used for
// Data/Result so the broker never has to know the guest's payload shape.
type Frame struct {
	Type string `json:"type,omitempty"`

	// send (guest -> host)
	Target string `json:"target,omitempty"`

	// publish (guest -> host), event (host -> guest)
	Event string `json:"event,omitempty"`

	// send / message / publish / event
	Data json.RawMessage `json:"data,omitempty"`

	// message (host -> guest)
	Sender string `json:"sender,omitempty"`

	// send / message / response
	RequestID string `json:"request_id,omitempty"`

	// response / reply
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IsReply reports whether the frame is a "bare" reply to an outstanding
// send — the asymmetric shape that carries no type tag, only a
// request_id plus result or error.
func (f *Frame) IsReply() bool {
	return f.Type == "" && f.RequestID != "" && (f.Result != nil || f.Error != "")
}

// ReplyFrame builds the untyped reply shape sent back to a guest in
// answer to one of its "send" frames.
func ReplyFrame(requestID string, result json.RawMessage, errMsg string) Frame {
	return Frame{RequestID: requestID, Result: result, Error: errMsg}
}
