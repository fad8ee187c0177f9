package gateway

import (
	"encoding/json"
	"errors"

	"livechart/internal/model"
	"livechart/internal/rangectl"
)

// Client → server message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgSetRange    = "set_range"
	MsgZoomExtents = "zoom_extents"
)

// GapMsg tells a client that frames [From, To] of a surface were evicted from
// the history before they could be resent. The frames that follow are full
// snapshots, so the client only loses intermediate states.
type GapMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Surface string `json:"surface"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
}

// ClientMsg is any message a websocket client sends.
type ClientMsg struct {
	Type    string   `json:"type"`
	ReqID   string   `json:"req_id,omitempty"`
	Surface string   `json:"surface,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Axis    string   `json:"axis,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	OTP     string   `json:"otp,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

// AckMsg confirms a request.
type AckMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
}

// ErrorMsg reports a failed request.
type ErrorMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

// ErrorCode maps a gesture error to a stable protocol code.
func ErrorCode(err error) string {
	var ire *model.InvalidRangeError
	var br badRequest
	switch {
	case errors.As(err, &ire):
		return "invalid_range"
	case errors.Is(err, ErrUnknownSurface):
		return "unknown_surface"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, rangectl.ErrClosed):
		return "closed"
	case errors.As(err, &br):
		return "bad_request"
	}
	return "internal"
}

// SendJSON marshals and queues a message to a client.
func SendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.queue(data)
}

// SendAck queues an ack for reqID.
func SendAck(c *Client, reqID string) {
	SendJSON(c, AckMsg{Type: "ack", ReqID: reqID})
}

// SendError queues an error reply.
func SendError(c *Client, reqID string, err error) {
	SendJSON(c, ErrorMsg{
		Type:  "error",
		ReqID: reqID,
		Code:  ErrorCode(err),
		Error: err.Error(),
	})
}
