package dispatch

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Names of the gRPC subgraph contract. A gRPC subgraph implements a single
// unary method carrying a GraphQL-over-HTTP request body as JSON strings.
const (
	contractFile     = "fedgate/subgraph/v1/subgraph.proto"
	contractPackage  = "fedgate.subgraph.v1"
	contractService  = "Subgraph"
	contractMethod   = "Execute"
	fieldQuery       = "query"
	fieldOpName      = "operation_name"
	fieldVariables   = "variables_json"
	fieldBody        = "body_json"
	ContractFullName = contractPackage + "." + contractService
)

// ExecuteMethod is the full gRPC method name subgraphs serve.
const ExecuteMethod = "/" + ContractFullName + "/" + contractMethod

var contract = sync.OnceValues(buildContract)

// Contract returns the descriptor of the gRPC subgraph service.
func Contract() (protoreflect.FileDescriptor, error) { return contract() }

func buildContract() (protoreflect.FileDescriptor, error) {
	file := protobuilder.NewFile(contractFile)
	file.SetPackageName(protoreflect.FullName(contractPackage))
	file.SetSyntax(protoreflect.Proto3)

	req := protobuilder.NewMessage("ExecuteRequest")
	req.SetComments(comment("A GraphQL request. Variables are a JSON object encoded as text."))
	for i, name := range []string{fieldQuery, fieldOpName, fieldVariables} {
		fb := protobuilder.NewField(protoreflect.Name(name), protobuilder.FieldTypeScalar(protoreflect.StringKind))
		fb.SetNumber(protoreflect.FieldNumber(i + 1))
		req.AddField(fb)
	}

	resp := protobuilder.NewMessage("ExecuteResponse")
	resp.SetComments(comment("A standard GraphQL response document {data, errors} encoded as text."))
	body := protobuilder.NewField(fieldBody, protobuilder.FieldTypeScalar(protoreflect.StringKind))
	body.SetNumber(1)
	resp.AddField(body)

	svc := protobuilder.NewService(contractService)
	svc.SetComments(comment("Subgraph executes GraphQL operations on behalf of the gateway."))
	svc.AddMethod(protobuilder.NewMethod(contractMethod,
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false),
	))

	file.AddMessage(req)
	file.AddMessage(resp)
	file.AddService(svc)

	fd, err := file.Build()
	if err != nil {
		return nil, fmt.Errorf("dispatch: build subgraph contract: %w", err)
	}
	return fd, nil
}

func comment(text string) protobuilder.Comments {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}

// WriteContract renders the subgraph contract as a .proto source file.
func WriteContract(w io.Writer) error {
	fd, err := Contract()
	if err != nil {
		return err
	}
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(fd, w)
}

type contractDescriptors struct {
	method   protoreflect.MethodDescriptor
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
}

func descriptors() (contractDescriptors, error) {
	fd, err := Contract()
	if err != nil {
		return contractDescriptors{}, err
	}
	md := fd.Services().ByName(contractService).Methods().ByName(contractMethod)
	return contractDescriptors{method: md, request: md.Input(), response: md.Output()}, nil
}
