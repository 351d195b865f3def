package remote

import "encoding/json"

// Relay protocol operations.
const (
	OpSubscribe        = "subscribe"
	OpUnsubscribe      = "unsubscribe"
	OpWrite            = "write"
	OpOnDisconnect     = "ondisconnect"
	OpCancelDisconnect = "canceldisconnect"
	OpValue            = "value"
	OpError            = "error"
)

// Message is one frame of the relay protocol. Clients send subscribe,
// unsubscribe, write, ondisconnect and canceldisconnect; the relay answers with value frames
// tagged by subscription id, and error frames.
type Message struct {
	Op    string          `json:"op"`
	ID    uint64          `json:"id,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}
