package types

// Event is the wire-level form of a ledger notification: a type tag plus a
// flat string attribute map, the shape indexers and the websocket stream
// consume directly.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
