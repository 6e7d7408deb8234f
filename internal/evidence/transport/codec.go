// Package transport moves spooled evidence upstream over a resumable gRPC
// bidi stream. The wire format is JSON framed by gRPC; delivery is
// at-least-once with server-side dedup.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype carried by the evidence stream.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                     { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
