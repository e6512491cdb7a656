// Package client is TSKV's node-to-node RPC client: it dials another
// node's pkg/api server and satisfies pkg/coordinator.RemoteWriter
// (ExecRaftWriteCommand) plus the follower side of spec §4.10's
// snapshot-install protocol (fetch manifest, download each file,
// verify its MD5).
package client
