package rendezvous

import "encoding/json"

// Message types sent by the client.
const (
	typeBind     = "bind"
	typeAllocate = "allocate"
	typeClaim    = "claim"
	typeRelease  = "release"
	typeOpen     = "open"
	typeAdd      = "add"
	typeClose    = "close"
	typePing     = "ping"
)

// Message types sent by the server.
const (
	typeWelcome   = "welcome"
	typeAck       = "ack"
	typeAllocated = "allocated"
	typeClaimed   = "claimed"
	typeReleased  = "released"
	typeClosed    = "closed"
	typeMessage   = "message"
	typePong      = "pong"
	typeError     = "error"
)

// frame is the superset wire shape for both directions. Every message is one
// JSON object per websocket text frame with a mandatory "type" field; which
// other fields are meaningful depends on the type. Unknown fields are
// ignored for forward compatibility.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	AppID     string `json:"appid,omitempty"`
	Side      string `json:"side,omitempty"`
	Nameplate string `json:"nameplate,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Body      string `json:"body,omitempty"` // hex-encoded ciphertext
	Mood      string `json:"mood,omitempty"`

	Ping *int `json:"ping,omitempty"`
	Pong *int `json:"pong,omitempty"`

	Welcome map[string]any  `json:"welcome,omitempty"`
	Error   string          `json:"error,omitempty"`
	Orig    json.RawMessage `json:"orig,omitempty"`
}

// Welcome is the server greeting. A non-empty Error means the server refuses
// service and the connection must not proceed.
type Welcome struct {
	MOTD  string `json:"motd,omitempty"`
	Error string `json:"error,omitempty"`
}

func decodeWelcome(m map[string]any) Welcome {
	var w Welcome
	if s, ok := m["motd"].(string); ok {
		w.MOTD = s
	}
	if s, ok := m["error"].(string); ok {
		w.Error = s
	}
	return w
}
