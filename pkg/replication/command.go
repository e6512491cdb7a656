package replication

import (
	"encoding/json"

	"github.com/tskvio/tskv/pkg/vnode"
)

// EncodeCommand serializes a vnode command for the Raft log as a JSON
// envelope before calling raft.Apply.
func EncodeCommand(cmd vnode.Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeCommand deserializes a command previously encoded with
// EncodeCommand, used both to replay the Raft log (pkg/replication's
// fsm) and to decode a command a remote node forwarded over RPC
// (pkg/api's ExecRaftWriteCommand).
func DecodeCommand(data []byte) (vnode.Command, error) {
	var cmd vnode.Command
	err := json.Unmarshal(data, &cmd)
	return cmd, err
}
