package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/session"
)

// MessageType names a WebSocket frame.
type MessageType string

const (
	// Server to client.
	MessageTypeSyncFull          MessageType = "sync:full"
	MessageTypeTransactionNew    MessageType = MessageType(broadcast.EventTypeTransactionNew)
	MessageTypeSessionUpdate     MessageType = MessageType(broadcast.EventTypeSessionUpdate)
	MessageTypeGroupCompleted    MessageType = MessageType(broadcast.EventTypeGroupCompleted)
	MessageTypeTransactionResult MessageType = "transaction:result"
	MessageTypeBatchResult       MessageType = "batch:result"
	MessageTypeError             MessageType = "error"

	// Client to server.
	MessageTypeTransactionSubmit MessageType = "transaction:submit"
	MessageTypeTransactionBatch  MessageType = "transaction:batch"
)

// Message is the envelope of every server frame.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Seq       uint64          `json:"seq,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is a frame sent by a scanner. RequestID is echoed back on the
// reply.
type ClientMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// BatchResult answers a transaction:batch frame and the reconcile endpoint.
type BatchResult struct {
	Results []session.SubmitResult   `json:"results"`
	Summary session.ReconcileSummary `json:"summary"`
}

// ErrorPayload carries a failure that is not a per-scan rejection.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func newMessage(typ MessageType, sessionID string, seq uint64, ts time.Time, payload any) (Message, error) {
	msg := Message{Type: typ, SessionID: sessionID, Seq: seq, Timestamp: ts}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Data = data
	return msg, nil
}

// eventMessage turns a committed delta into its wire frame. The payload is
// the event itself minus the envelope fields.
func eventMessage(ev broadcast.Event) (Message, error) {
	return newMessage(MessageType(ev.Type), ev.SessionID.String(), ev.Seq, ev.Timestamp, ev)
}
