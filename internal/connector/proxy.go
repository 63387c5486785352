package connector

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/estuary/flow-sub009/internal/identity"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// DialProxyTimeout bounds steps 1-2 of the proxy dial sequence (dialProxy),
// per spec.md section 4.4/5.
const DialProxyTimeout = 60 * time.Second

// DefaultConnectorTimeout bounds each individual connector response, per
// spec.md section 4.4 step 4 ("≈300s default, env-overridable" --
// overriding is a runtime config concern, internal/config owns it).
const DefaultConnectorTimeout = 300 * time.Second

// proxyConnectorsRequest/Response mirror the control RPC's message
// shapes used in original_source/crates/agent/src/proxy_connectors.rs
// (`ConnectorProxyRequest`/`ConnectorProxyResponse`).
type proxyConnectorsRequest struct{}

type proxyConnectorsResponse struct {
	Address string          `json:"address,omitempty"`
	ProxyID string          `json:"proxyId,omitempty"`
	Log     *proxyLogRecord `json:"log,omitempty"`
}

type proxyLogRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LogHandler receives log records streamed from a proxy's control RPC.
type LogHandler func(*proxyLogRecord)

// ProxyTransport dials a connector through a data-plane reactor's proxy
// runtime, implementing spec.md section 4.4's five numbered steps.
type ProxyTransport struct {
	reactorAddress   string
	task             string
	dataPlaneFQDN    string
	signer           identity.ClaimSigner
	connectorTimeout time.Duration
	logs             LogHandler
}

// ProxyConfig configures a ProxyTransport dial.
type ProxyConfig struct {
	ReactorAddress   string
	Task             string
	DataPlaneFQDN    string
	Signer           identity.ClaimSigner
	ConnectorTimeout time.Duration
	Logs             LogHandler
}

// NewProxyTransport returns a ProxyTransport for the given config.
func NewProxyTransport(cfg ProxyConfig) *ProxyTransport {
	if cfg.ConnectorTimeout == 0 {
		cfg.ConnectorTimeout = DefaultConnectorTimeout
	}
	if cfg.Logs == nil {
		cfg.Logs = func(r *proxyLogRecord) {
			log.WithField("task", cfg.Task).Info(r.Message)
		}
	}
	return &ProxyTransport{
		reactorAddress:   cfg.ReactorAddress,
		task:             cfg.Task,
		dataPlaneFQDN:    cfg.DataPlaneFQDN,
		signer:           cfg.Signer,
		connectorTimeout: cfg.ConnectorTimeout,
		logs:             cfg.Logs,
	}
}

func (t *ProxyTransport) Capture(ctx context.Context, reqs <-chan CaptureRequest) (<-chan CaptureResponse, error) {
	return dialAndDrive[CaptureRequest, CaptureResponse](ctx, t, "/flow.capture.Connector/Capture", reqs)
}

func (t *ProxyTransport) Derive(ctx context.Context, reqs <-chan DeriveRequest) (<-chan DeriveResponse, error) {
	return dialAndDrive[DeriveRequest, DeriveResponse](ctx, t, "/flow.derive.Connector/Derive", reqs)
}

func (t *ProxyTransport) Materialize(ctx context.Context, reqs <-chan MaterializeRequest) (<-chan MaterializeResponse, error) {
	return dialAndDrive[MaterializeRequest, MaterializeResponse](ctx, t, "/flow.materialize.Connector/Materialize", reqs)
}

// dialAndDrive implements steps 1-5 for one connector-type RPC.
func dialAndDrive[Req any, Resp any](ctx context.Context, t *ProxyTransport, method string, reqs <-chan Req) (<-chan Resp, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, DialProxyTimeout)
	defer cancelDial()

	address, proxyID, cancelProxy, logsDone, err := t.dialProxy(dialCtx)
	if err != nil {
		return nil, err
	}

	// Step 3: re-dial the proxy endpoint with claims + proxy-id header.
	claim, err := t.signer.Sign(t.task, t.dataPlaneFQDN, identity.CapabilityProxyConnector, 2*t.connectorTimeout)
	if err != nil {
		cancelProxy()
		return nil, &TransportError{Resource: ResourceDialProxy, Cause: fmt.Errorf("signing proxy claim: %w", err)}
	}

	var md = metadata.Pairs("authorization", "bearer "+claim, "proxy-id", proxyID)
	var proxyCtx = metadata.NewOutgoingContext(ctx, md)

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))
	if err != nil {
		cancelProxy()
		return nil, &TransportError{Resource: ResourceDialProxy, Cause: fmt.Errorf("dialing proxy endpoint %s: %w", address, err)}
	}

	var desc = &grpc.StreamDesc{StreamName: method, ClientStreams: true, ServerStreams: true}
	stream, err := conn.NewStream(proxyCtx, desc, method, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		cancelProxy()
		return nil, &TransportError{Resource: ResourceConnectorStream, Cause: fmt.Errorf("opening %s: %w", method, err)}
	}

	var out = make(chan Resp)

	// Wait out the control RPC's log stream. Teardown of the proxy runtime
	// (step 5) is the deferred cancelProxy in the receive loop below.
	go func() {
		<-logsDone
	}()

	go func() {
		for req := range reqs {
			var r = req
			if err := stream.SendMsg(&r); err != nil {
				break
			}
		}
		_ = stream.CloseSend()
	}()

	go func() {
		defer close(out)
		defer cancelProxy() // Step 5: drop the cancellation oneshot at stream end.
		for {
			var resp Resp
			var recvStart = time.Now()
			var recvCtx, recvCancel = context.WithTimeout(ctx, t.connectorTimeout)
			var done = make(chan error, 1)
			go func() { done <- stream.RecvMsg(&resp) }()

			select {
			case err := <-done:
				recvCancel()
				responseLatency.WithLabelValues(method).Observe(time.Since(recvStart).Seconds())
				if err == io.EOF {
					return
				} else if err != nil {
					return
				}
			case <-recvCtx.Done():
				recvCancel()
				responseTimeoutTotal.WithLabelValues(method).Inc()
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

// dialProxy implements steps 1-2: sign a dial claim, open the
// ProxyConnectors control RPC with a request stream that blocks until
// cancelled then sends EOF, and return the first response's
// (address, proxy_id). logsDone closes once the control RPC's response
// stream (carrying only log messages after the first) is fully drained.
func (t *ProxyTransport) dialProxy(ctx context.Context) (address, proxyID string, cancel func(), logsDone <-chan struct{}, err error) {
	var dialStart = time.Now()
	defer func() { dialLatency.Observe(time.Since(dialStart).Seconds()) }()

	claim, err := t.signer.Sign(t.task, t.dataPlaneFQDN, identity.CapabilityProxyConnector, 2*t.connectorTimeout)
	if err != nil {
		return "", "", nil, nil, &TransportError{Resource: ResourceDialProxy, Cause: fmt.Errorf("signing dial claim: %w", err)}
	}

	var md = metadata.Pairs("authorization", "bearer "+claim)
	var controlCtx = metadata.NewOutgoingContext(ctx, md)

	conn, err := grpc.NewClient(t.reactorAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)))
	if err != nil {
		return "", "", nil, nil, &TransportError{Resource: ResourceDialProxy, Cause: fmt.Errorf("dialing reactor %s: %w", t.reactorAddress, err)}
	}

	var desc = &grpc.StreamDesc{StreamName: "/flow.runtime.ConnectorProxy/ProxyConnectors", ClientStreams: true, ServerStreams: true}
	stream, err := conn.NewStream(controlCtx, desc, "/flow.runtime.ConnectorProxy/ProxyConnectors", grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return "", "", nil, nil, &TransportError{Resource: ResourceProxyControl, Cause: fmt.Errorf("opening ProxyConnectors: %w", err)}
	}

	var cancelCh = make(chan struct{})
	var cancelOnce sync.Once
	var cancelFn = func() { cancelOnce.Do(func() { close(cancelCh) }) }

	go func() {
		<-cancelCh
		_ = stream.SendMsg(&proxyConnectorsRequest{})
		_ = stream.CloseSend()
	}()

	var first proxyConnectorsResponse
	if err := stream.RecvMsg(&first); err != nil {
		cancelFn()
		return "", "", nil, nil, &TransportError{Resource: ResourceProxyControl, Cause: fmt.Errorf("reading ProxyConnectors first response: %w", err)}
	}

	var done = make(chan struct{})
	go func() {
		defer close(done)
		for {
			var resp proxyConnectorsResponse
			if err := stream.RecvMsg(&resp); err != nil {
				return
			}
			if resp.Log != nil {
				t.logs(resp.Log)
			}
		}
	}()

	return first.Address, first.ProxyID, cancelFn, done, nil
}
