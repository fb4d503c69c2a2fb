package grpcrouter

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the Dispatch RPC carry arbitrary map[string]any payloads
// without protoc-generated types, the same trick the teacher's management
// RPC uses.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                            { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
