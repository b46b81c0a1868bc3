package docstore

import "errors"

// ListenMessage is the websocket frame a listen session sends for every snapshot.
type ListenMessage struct {
	Type  string     `json:"type"`
	Docs  []Document `json:"docs,omitempty"`
	Error string     `json:"error,omitempty"`
}

const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

func NewListenMessage(snap Snapshot) ListenMessage {
	if snap.Err != nil {
		return ListenMessage{Type: MessageError, Error: snap.Err.Error()}
	}
	return ListenMessage{Type: MessageSnapshot, Docs: snap.Docs}
}

func (m ListenMessage) Snapshot() Snapshot {
	if m.Type == MessageError {
		return Snapshot{Err: errors.New(m.Error)}
	}
	return Snapshot{Docs: m.Docs}
}
