// Package rpc defines the daemon control API: request and response types,
// service descriptors, and typed clients. Messages travel as JSON.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Codec is the content-subtype every call of this API uses.
const Codec = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return Codec }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(Codec)}, opts...)
}
