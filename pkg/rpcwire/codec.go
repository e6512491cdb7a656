// Package rpcwire registers a JSON-based gRPC codec for TSKV's internal
// RPCs. Message payloads are plain Go structs marshaled with
// encoding/json rather than protoc-generated protobuf, since
// hand-authoring byte-compatible protoc-gen-go/protoc-gen-go-grpc
// output without the toolchain to verify it would mean fabricating
// generated code. google.golang.org/grpc still does all of the
// transport, multiplexing, deadline, and streaming work a generated
// client/server would ride on; only the marshal format changes.
package rpcwire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return Name
}
