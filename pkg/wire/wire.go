// Package wire defines the canonical map-serialization used on the
// node-to-node fabric (§4.2, §6): "any canonical self-describing encoding
// (length-prefixed maps) is acceptable provided all nodes agree". This
// implementation uses msgpack, grounded on deehdev-teste's Envelope
// wire format (service/data/timestamp fields), adapted to carry a topic
// and an arbitrary payload map instead of a chat "service" name.
package wire

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the frame carried over the publisher socket: (topic,
// payload-bytes) per §4.2, where payload is itself this canonical
// map-serialization. The router's Dispatch RPC does not use it; it carries
// its own JSON request.
type Envelope struct {
	Topic     string         `msgpack:"topic"`
	Payload   map[string]any `msgpack:"payload"`
	Timestamp int64          `msgpack:"ts"`
}

// NewEnvelope stamps the current-time-at-call-site into Timestamp; callers
// supply t themselves (time.Now) so the package stays free of hidden clock
// reads, matching the no-Date.Now-in-library discipline used elsewhere in
// this module's tests.
func NewEnvelope(topic string, payload map[string]any, t time.Time) Envelope {
	return Envelope{Topic: topic, Payload: payload, Timestamp: t.UnixMilli()}
}

// Encode serializes an Envelope to its wire bytes.
func Encode(e Envelope) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode parses wire bytes back into an Envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := msgpack.Unmarshal(b, &e)
	return e, err
}
