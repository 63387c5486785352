package connector

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DirectTransport dials a local connector process over a Unix domain
// socket, the in-process variant of spec.md section 4.4, grounded on
// go/connector/rpc.go's stream-RPC dial pattern (there framed with
// gogo/protobuf's delimited writer; here via gRPC's codec hook directly,
// since the connector messages here are plain structs rather than
// generated protobuf types).
type DirectTransport struct {
	conn *grpc.ClientConn
}

// DialDirect opens a DirectTransport against a connector listening on a
// Unix domain socket at socketPath.
func DialDirect(ctx context.Context, socketPath string) (*DirectTransport, error) {
	var conn, err = grpc.NewClient("unix:"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))
	if err != nil {
		return nil, &TransportError{Resource: ResourceConnectorStream, Cause: fmt.Errorf("dialing connector socket: %w", err)}
	}
	return &DirectTransport{conn: conn}, nil
}

// Close tears down the underlying connection.
func (t *DirectTransport) Close() error { return t.conn.Close() }

func (t *DirectTransport) Capture(ctx context.Context, reqs <-chan CaptureRequest) (<-chan CaptureResponse, error) {
	return pumpStream[CaptureRequest, CaptureResponse](ctx, t.conn, "/flow.capture.Connector/Capture", reqs)
}

func (t *DirectTransport) Derive(ctx context.Context, reqs <-chan DeriveRequest) (<-chan DeriveResponse, error) {
	return pumpStream[DeriveRequest, DeriveResponse](ctx, t.conn, "/flow.derive.Connector/Derive", reqs)
}

func (t *DirectTransport) Materialize(ctx context.Context, reqs <-chan MaterializeRequest) (<-chan MaterializeResponse, error) {
	return pumpStream[MaterializeRequest, MaterializeResponse](ctx, t.conn, "/flow.materialize.Connector/Materialize", reqs)
}

// pumpStream opens a bidirectional-streaming RPC at method over conn,
// sending every message off reqs and returning a channel fed by every
// received response. The response channel is closed once the stream ends,
// whether by EOF, a receive error, or ctx cancellation; a receive error is
// not reported to the caller.
func pumpStream[Req any, Resp any](ctx context.Context, conn *grpc.ClientConn, method string, reqs <-chan Req) (<-chan Resp, error) {
	var desc = &grpc.StreamDesc{StreamName: method, ClientStreams: true, ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, method, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, &TransportError{Resource: ResourceConnectorStream, Cause: fmt.Errorf("opening %s: %w", method, err)}
	}

	var out = make(chan Resp)

	go func() {
		for req := range reqs {
			var r = req
			if err := stream.SendMsg(&r); err != nil {
				return
			}
		}
		_ = stream.CloseSend()
	}()

	go func() {
		defer close(out)
		for {
			var resp Resp
			if err := stream.RecvMsg(&resp); err == io.EOF {
				return
			} else if err != nil {
				return
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
