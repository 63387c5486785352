package connector

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered once at package init, letting direct and
// proxy transports open raw gRPC streams against connector request/
// response messages without generated protobuf stubs -- the teacher's
// own generated protocol code plays this role in go/protocols/capture;
// here the "generated" wire types are the plain structs in protocol.go,
// framed by gRPC's codec hook instead of protoc output.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling connector message: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling connector message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
