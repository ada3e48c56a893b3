package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqid"
)

// GRPCOptions configures a GRPCTransport.
//
// Defaults:
//   - MaxConns:    2
//   - DialOptions: insecure credentials with default backoff
type GRPCOptions struct {
	MaxConns    int
	DialOptions []grpc.DialOption
	// Metadata is attached to every call.
	Metadata map[string]string
}

// GRPCTransport calls subgraphs implementing the Subgraph.Execute contract
// over a small pool of client connections.
type GRPCTransport struct {
	subgraph string
	target   string
	opts     GRPCOptions
	desc     contractDescriptors

	conns  chan *grpc.ClientConn
	closed atomic.Bool
	mu     sync.Mutex
}

func NewGRPCTransport(subgraph, target string, opts GRPCOptions) (*GRPCTransport, error) {
	desc, err := descriptors()
	if err != nil {
		return nil, err
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	if len(opts.DialOptions) == 0 {
		opts.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &GRPCTransport{
		subgraph: subgraph,
		target:   target,
		opts:     opts,
		desc:     desc,
		conns:    make(chan *grpc.ClientConn, opts.MaxConns),
	}, nil
}

func (t *GRPCTransport) RoundTrip(ctx context.Context, req *Request) ([]byte, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("dispatch: grpc transport for %s closed", t.subgraph)
	}
	in := dynamicpb.NewMessage(t.desc.request)
	if err := encodeExecuteRequest(in, req); err != nil {
		return nil, err
	}
	ctx = metadata.NewOutgoingContext(ctx, t.outgoingMetadata(ctx))

	cc, err := t.get()
	if err != nil {
		return nil, err
	}
	defer t.put(cc)

	out := dynamicpb.NewMessage(t.desc.response)
	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Subgraph: t.subgraph, Method: contractMethod, Target: t.target})
	err = cc.Invoke(ctx, ExecuteMethod, in, out)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Subgraph: t.subgraph,
		Method:   contractMethod,
		Target:   t.target,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return []byte(out.Get(t.desc.response.Fields().ByName(fieldBody)).String()), nil
}

func (t *GRPCTransport) outgoingMetadata(ctx context.Context) metadata.MD {
	md := metadata.MD{}
	for k, vs := range ForwardedHeaders(ctx) {
		md.Append(strings.ToLower(k), vs...)
	}
	for k, v := range t.opts.Metadata {
		md.Set(strings.ToLower(k), v)
	}
	if id, ok := reqid.FromContext(ctx); ok {
		md.Set(strings.ToLower(reqid.Header), id)
	}
	return md
}

func encodeExecuteRequest(msg *dynamicpb.Message, req *Request) error {
	fields := msg.Descriptor().Fields()
	msg.Set(fields.ByName(fieldQuery), protoString(req.Query))
	if req.OperationName != "" {
		msg.Set(fields.ByName(fieldOpName), protoString(req.OperationName))
	}
	if len(req.Variables) > 0 {
		vars, err := json.Marshal(req.Variables)
		if err != nil {
			return fmt.Errorf("encode variables: %w", err)
		}
		msg.Set(fields.ByName(fieldVariables), protoString(string(vars)))
	}
	return nil
}

func (t *GRPCTransport) get() (*grpc.ClientConn, error) {
	select {
	case cc := <-t.conns:
		return cc, nil
	default:
		return grpc.NewClient(t.target, t.opts.DialOptions...)
	}
}

func (t *GRPCTransport) put(cc *grpc.ClientConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case t.conns <- cc:
	default:
		_ = cc.Close()
	}
}

// Close releases pooled connections. Calls in flight finish on their own
// connection, which is closed when returned.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Swap(true) {
		return nil
	}
	close(t.conns)
	for cc := range t.conns {
		_ = cc.Close()
	}
	return nil
}
