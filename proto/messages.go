// Package proto holds the wire message types and service definition
// for TSKV's internal node-to-node RPCs (§6): ExecRaftWriteCommand,
// OpenRaftNode, GetVnodeSnapFilesMeta, and the streaming DownloadFile.
// See pkg/rpcwire for why these are marshaled as JSON rather than
// codegen'd protobuf.
package proto

// RaftWriteCommandRequest carries a coordinator-routed write to the
// node hosting a replica group's Raft leader.
type RaftWriteCommandRequest struct {
	Tenant    string
	Database  string
	ReplicaID uint32
	Command   []byte // JSON-encoded vnode.Command, see pkg/replication.EncodeCommand
}

// StatusResponse is the uniform RPC result envelope: Code 0 means
// success, non-zero carries Message as the error detail.
type StatusResponse struct {
	Code    int32
	Message string
	Data    []byte
}

// OpenRaftNodeRequest asks a node to open (or confirm it already has
// open) the Raft group for one vnode replica.
type OpenRaftNodeRequest struct {
	VnodeID   uint32
	ReplicaID uint32
	BindAddr  string
}

// GetVnodeSnapFilesMetaRequest asks the addressed node for the file
// manifest of one of its vnode's snapshots.
type GetVnodeSnapFilesMetaRequest struct {
	Tenant     string
	Database   string
	VnodeID    uint32
	SnapshotID uint64
}

// FileInfo describes one snapshot-manifest file entry.
type FileInfo struct {
	Name string
	MD5  string
	Size int64
}

// GetFilesMetaResponse is the manifest response: the snapshot's
// directory path on the serving node plus its file list.
type GetFilesMetaResponse struct {
	Path  string
	Infos []FileInfo
}

// DownloadFileRequest names one file from a previously fetched
// manifest to stream down.
type DownloadFileRequest struct {
	Path     string
	Filename string
}

// FileChunk is one streamed chunk of a DownloadFile response; Code
// non-zero terminates the stream with an error, matching §4's "md5
// not match" failure mode carried in Message.
type FileChunk struct {
	Code    int32
	Message string
	Data    []byte
}
