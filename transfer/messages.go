package transfer

import "encoding/json"

// peerMessage is the union carried by each application phase. Exactly one
// field is set per message; unknown fields are ignored for forward
// compatibility.
type peerMessage struct {
	Offer   *offerMsg       `json:"offer,omitempty"`
	Answer  *answerMsg      `json:"answer,omitempty"`
	Transit json.RawMessage `json:"transit,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type offerMsg struct {
	Message *string    `json:"message,omitempty"`
	File    *fileOffer `json:"file,omitempty"`
}

type fileOffer struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

type answerMsg struct {
	MessageAck string `json:"message_ack,omitempty"`
	FileAck    string `json:"file_ack,omitempty"`
}

// channelAck is the receiver's final word, sent over the transit channel
// after the payload: the digest it computed while writing.
type channelAck struct {
	Ack    string `json:"ack"`
	SHA256 string `json:"sha256"`
}

const ackOK = "ok"
