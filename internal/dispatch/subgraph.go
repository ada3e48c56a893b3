package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// SubgraphHandler executes a GraphQL request on the subgraph side of the
// gRPC contract and returns a GraphQL response document.
type SubgraphHandler interface {
	ServeSubgraph(ctx context.Context, req *Request) ([]byte, error)
}

// SubgraphHandlerFunc adapts a function to SubgraphHandler.
type SubgraphHandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

func (f SubgraphHandlerFunc) ServeSubgraph(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// RegisterSubgraph exposes h as the Subgraph service on s.
func RegisterSubgraph(s grpc.ServiceRegistrar, h SubgraphHandler) error {
	desc, err := descriptors()
	if err != nil {
		return err
	}
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: ContractFullName,
		HandlerType: (*SubgraphHandler)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: contractMethod,
			Handler:    executeHandler(desc),
		}},
		Metadata: contractFile,
	}, h)
	return nil
}

func executeHandler(desc contractDescriptors) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(desc.request)
		if err := dec(in); err != nil {
			return nil, err
		}
		handle := func(ctx context.Context, req any) (any, error) {
			r, err := decodeExecuteRequest(req.(*dynamicpb.Message))
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			body, err := srv.(SubgraphHandler).ServeSubgraph(ctx, r)
			if err != nil {
				return nil, err
			}
			out := dynamicpb.NewMessage(desc.response)
			out.Set(desc.response.Fields().ByName(fieldBody), protoString(string(body)))
			return out, nil
		}
		if interceptor == nil {
			return handle(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}
		return interceptor(ctx, in, info, handle)
	}
}

func decodeExecuteRequest(msg *dynamicpb.Message) (*Request, error) {
	fields := msg.Descriptor().Fields()
	req := &Request{
		Query:         msg.Get(fields.ByName(fieldQuery)).String(),
		OperationName: msg.Get(fields.ByName(fieldOpName)).String(),
	}
	if vars := msg.Get(fields.ByName(fieldVariables)).String(); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			return nil, fmt.Errorf("variables_json: %w", err)
		}
	}
	return req, nil
}

func protoString(s string) protoreflect.Value { return protoreflect.ValueOfString(s) }
