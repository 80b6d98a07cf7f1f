package swapserverrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName identifies the wire codec registered below in gRPC's
// content-type negotiation (`application/grpc+json`). The service and its
// generated-by-hand client/server plumbing in service.go never use
// protobuf wire encoding directly; messages are plain Go structs and
// travel as JSON, the same way this package's types double as the HTTP
// layer's request/response bodies.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
