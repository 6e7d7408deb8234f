package transport

import "github.com/slbailey/retrovue/internal/evidence"

// Hello opens a session stream. FirstSequenceAvailable lets the receiver
// detect that older records were pruned past its ack.
type Hello struct {
	ChannelID              string `json:"channel_id"`
	SessionID              string `json:"playout_session_id"`
	FirstSequenceAvailable uint64 `json:"first_sequence_available"`
	LastSequenceEmitted    uint64 `json:"last_sequence_emitted"`
}

// Ack acknowledges every sequence at or below AckedSequence.
type Ack struct {
	AckedSequence uint64 `json:"acked_sequence"`
}

// ClientMessage is the client-to-server frame: a Hello first, records after.
type ClientMessage struct {
	Hello  *Hello             `json:"hello,omitempty"`
	Record *evidence.Envelope `json:"record,omitempty"`
}

// ServerMessage is the server-to-client frame.
type ServerMessage struct {
	Ack *Ack `json:"ack,omitempty"`
}
