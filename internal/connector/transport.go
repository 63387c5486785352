package connector

import "context"

// Transport is the bi-directional connector session of spec.md section
// 4.4: a request stream in, a response stream out, preserving message
// ordering. Failures while dialing or opening a stream are returned as a
// *TransportError; once a stream is open, an error or response timeout
// ends it by closing the response channel, and that error is not returned.
type Transport interface {
	Capture(ctx context.Context, reqs <-chan CaptureRequest) (<-chan CaptureResponse, error)
	Derive(ctx context.Context, reqs <-chan DeriveRequest) (<-chan DeriveResponse, error)
	Materialize(ctx context.Context, reqs <-chan MaterializeRequest) (<-chan MaterializeResponse, error)
}

// Resource names the operation a TransportError occurred against, for
// the §7 TransportTimeout/ConnectorExited error taxonomy.
type Resource string

const (
	ResourceDialProxy       Resource = "dial-proxy"
	ResourceConnectorStream Resource = "connector-stream"
	ResourceProxyControl    Resource = "proxy-control"
)

// TransportError is the typed failure Transport implementations return
// for dial and stream-open errors, per spec.md section 4.4.
type TransportError struct {
	Resource Resource
	Cause    error
}

func (e *TransportError) Error() string {
	return "connector transport (" + string(e.Resource) + "): " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }
