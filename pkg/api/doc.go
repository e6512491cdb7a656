// Package api implements TSKV's node-to-node gRPC surface and its
// liveness/readiness HTTP endpoints.
//
// # RPCs
//
// Server implements the four RPCs spec §6 names:
//
//   - ExecRaftWriteCommand: apply a coordinator-forwarded write to the
//     Raft group this node leads.
//   - OpenRaftNode: confirm a replica's Raft group is open on this node.
//   - GetVnodeSnapFilesMeta: return a vnode snapshot's file manifest,
//     step one of the §4.10 install protocol.
//   - DownloadFile: stream one manifest file's bytes, step two of the
//     §4.10 install protocol.
//
// # Security
//
// Node-to-node RPC and the CLI's connection to a node share one mTLS
// model, grounded on pkg/security's certificate authority: a cluster
// root CA issues short-lived leaf certificates per node and per CLI
// identity. TLSFiles.CACert, when set, switches the server from plain
// server-auth TLS to RequireAndVerifyClientCert.
//
// # Wire format
//
// Message payloads are plain Go structs (package proto) marshaled with
// encoding/json via the codec pkg/rpcwire registers, not
// protoc-generated protobuf — see that package's doc comment for why.
package api
