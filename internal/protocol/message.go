package protocol

// MessageType enumerates the closed set of envelope types. Routing treats
// the set as exhaustive; anything else is dropped with a diagnostic.
type MessageType string

const (
	MsgSessionAnnounce   MessageType = "session-announce"
	MsgVisibilityShown   MessageType = "visibility-shown"
	MsgVisibilityHidden  MessageType = "visibility-hidden"
	MsgStartSelection    MessageType = "start-selection"
	MsgStopSelection     MessageType = "stop-selection"
	MsgSelectionResult   MessageType = "selection-result"
	MsgSelectionCanceled MessageType = "selection-canceled"
	MsgCaptureRequest    MessageType = "capture-request"
	MsgCaptureResult     MessageType = "capture-result"
	MsgCaptureFailed     MessageType = "capture-failed"
	MsgSessionTeardown   MessageType = "session-teardown"
)

// SelectionPayload is the agent's answer to a confirmed selection.
type SelectionPayload struct {
	Target TargetDescriptor `json:"target"`
	Code   CodeBundle       `json:"code"`
	Meta   MetaBundle       `json:"meta"`
}

// CaptureImage is an uncropped full-viewport bitmap at physical resolution,
// plus the device pixel ratio needed to map viewport rects onto it.
type CaptureImage struct {
	Data      []byte  `json:"data"`
	Format    string  `json:"format"`
	DPR       float64 `json:"dpr"`
	Mutations int     `json:"mutations,omitempty"`
}

// Notice is a typed, user-facing failure description.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is the protocol envelope. Exactly one payload pointer is non-nil
// for types that carry one; command types carry only the session key.
type Message struct {
	Type       MessageType       `json:"type"`
	SessionKey string            `json:"session_key"`
	Selection  *SelectionPayload `json:"selection,omitempty"`
	Capture    *CaptureImage     `json:"capture,omitempty"`
	Notice     *Notice           `json:"notice,omitempty"`
}
