package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tskvio/tskv/pkg/rpcwire"
)

// ServiceName is the gRPC service name TSKV registers its four node
// RPCs under.
const ServiceName = "tskv.TSKV"

// callOpt forces every outbound call onto the JSON codec registered
// by pkg/rpcwire, since no protoc-generated stub is available to wire
// this automatically the way codegen'd clients do.
func callOpt() grpc.CallOption {
	return grpc.CallContentSubtype(rpcwire.Name)
}

// TSKVServer is the server-side contract for the four wire RPCs.
type TSKVServer interface {
	ExecRaftWriteCommand(context.Context, *RaftWriteCommandRequest) (*StatusResponse, error)
	OpenRaftNode(context.Context, *OpenRaftNodeRequest) (*StatusResponse, error)
	GetVnodeSnapFilesMeta(context.Context, *GetVnodeSnapFilesMetaRequest) (*GetFilesMetaResponse, error)
	DownloadFile(*DownloadFileRequest, TSKV_DownloadFileServer) error
}

// TSKV_DownloadFileServer is the server-streaming handle for DownloadFile.
type TSKV_DownloadFileServer interface {
	Send(*FileChunk) error
	grpc.ServerStream
}

type tskvDownloadFileServer struct {
	grpc.ServerStream
}

func (s *tskvDownloadFileServer) Send(chunk *FileChunk) error {
	return s.ServerStream.SendMsg(chunk)
}

// TSKV_DownloadFileClient is the client-streaming handle for DownloadFile.
type TSKV_DownloadFileClient interface {
	Recv() (*FileChunk, error)
	grpc.ClientStream
}

type tskvDownloadFileClient struct {
	grpc.ClientStream
}

func (c *tskvDownloadFileClient) Recv() (*FileChunk, error) {
	m := new(FileChunk)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// TSKVClient is the client-side contract for the four wire RPCs.
type TSKVClient interface {
	ExecRaftWriteCommand(ctx context.Context, req *RaftWriteCommandRequest) (*StatusResponse, error)
	OpenRaftNode(ctx context.Context, req *OpenRaftNodeRequest) (*StatusResponse, error)
	GetVnodeSnapFilesMeta(ctx context.Context, req *GetVnodeSnapFilesMetaRequest) (*GetFilesMetaResponse, error)
	DownloadFile(ctx context.Context, req *DownloadFileRequest) (TSKV_DownloadFileClient, error)
}

type tskvClient struct {
	cc *grpc.ClientConn
}

// NewTSKVClient adapts a dialed connection into the TSKVClient contract.
func NewTSKVClient(cc *grpc.ClientConn) TSKVClient {
	return &tskvClient{cc: cc}
}

func (c *tskvClient) ExecRaftWriteCommand(ctx context.Context, req *RaftWriteCommandRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ExecRaftWriteCommand", req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tskvClient) OpenRaftNode(ctx context.Context, req *OpenRaftNodeRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/OpenRaftNode", req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tskvClient) GetVnodeSnapFilesMeta(ctx context.Context, req *GetVnodeSnapFilesMetaRequest) (*GetFilesMetaResponse, error) {
	out := new(GetFilesMetaResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetVnodeSnapFilesMeta", req, out, callOpt()); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tskvClient) DownloadFile(ctx context.Context, req *DownloadFileRequest) (TSKV_DownloadFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/DownloadFile", callOpt())
	if err != nil {
		return nil, err
	}
	cs := &tskvDownloadFileClient{ClientStream: stream}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}

func execRaftWriteCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(RaftWriteCommandRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TSKVServer).ExecRaftWriteCommand(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ExecRaftWriteCommand"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TSKVServer).ExecRaftWriteCommand(ctx, req.(*RaftWriteCommandRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func openRaftNodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(OpenRaftNodeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TSKVServer).OpenRaftNode(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/OpenRaftNode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TSKVServer).OpenRaftNode(ctx, req.(*OpenRaftNodeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getVnodeSnapFilesMetaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetVnodeSnapFilesMetaRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TSKVServer).GetVnodeSnapFilesMeta(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetVnodeSnapFilesMeta"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TSKVServer).GetVnodeSnapFilesMeta(ctx, req.(*GetVnodeSnapFilesMetaRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func downloadFileHandler(srv any, stream grpc.ServerStream) error {
	req := new(DownloadFileRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TSKVServer).DownloadFile(req, &tskvDownloadFileServer{ServerStream: stream})
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would otherwise emit from a .proto file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TSKVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecRaftWriteCommand", Handler: execRaftWriteCommandHandler},
		{MethodName: "OpenRaftNode", Handler: openRaftNodeHandler},
		{MethodName: "GetVnodeSnapFilesMeta", Handler: getVnodeSnapFilesMetaHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "DownloadFile", Handler: downloadFileHandler, ServerStreams: true},
	},
	Metadata: "tskv.proto",
}

// RegisterTSKVServer attaches a TSKVServer implementation to a gRPC
// server instance.
func RegisterTSKVServer(s grpc.ServiceRegistrar, srv TSKVServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// StatusError converts an error into a StatusResponse carrying its
// gRPC status code and message, for handlers that prefer to return a
// typed response rather than a raw error.
func StatusError(err error) *StatusResponse {
	if err == nil {
		return &StatusResponse{Code: int32(codes.OK)}
	}
	st, ok := status.FromError(err)
	if !ok {
		return &StatusResponse{Code: int32(codes.Unknown), Message: err.Error()}
	}
	return &StatusResponse{Code: int32(st.Code()), Message: st.Message()}
}
