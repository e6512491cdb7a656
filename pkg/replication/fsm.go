// Package replication implements the per-replica-group Raft instances
// described in §4.10: one hashicorp/raft.Raft per ReplicationSet
// (vnode group), each backed by raft-boltdb for its log and stable
// store, with the vnode store itself acting as the apply-storage trait.
package replication

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/tskvio/tskv/pkg/log"
	"github.com/tskvio/tskv/pkg/vnode"
)

// fsm adapts a vnode.Store to raft.FSM. One fsm exists per replica
// group, wrapping that group's local vnode replica.
type fsm struct {
	store *vnode.Store
}

// Apply decodes one committed Raft log entry into a vnode.Command and
// applies it, matching the apply-storage trait's apply(ctx, bytes)
// contract from §4.10.
func (f *fsm) Apply(l *raft.Log) interface{} {
	cmd, err := DecodeCommand(l.Data)
	if err != nil {
		return err
	}
	if err := f.store.Apply(l.Index, cmd); err != nil {
		log.Error(fmt.Sprintf("apply failed at index %d: %v", l.Index, err))
		return err
	}
	return nil
}

// Snapshot captures the manifest raft.FSM.Snapshot expects: the small
// JSON-serializable file list and checksums (§4.10's "leader serializes
// the apply-snapshot manifest (small) and sends"). The bulk TSM file
// bytes are never part of this payload — they travel over the
// dedicated DownloadFile RPC once a follower has the manifest.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	snap, err := f.store.CreateSnapshot(uint64(l0SnapshotCounter.next()))
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{snapshot: snap}, nil
}

// Restore replaces the vnode's version with a previously persisted
// snapshot manifest. It assumes the listed TSM files are already staged
// at their manifest paths — the streaming transfer that puts them there
// runs one level up, in the snapshot-install RPC handler.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap vnode.Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return err
	}
	return f.store.ApplySnapshot(snap)
}

type fsmSnapshot struct {
	snapshot vnode.Snapshot
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.snapshot); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

// l0SnapshotCounter hands out monotonically increasing snapshot ids per
// process; a real deployment would persist this in the meta service,
// but a vnode only needs uniqueness within its own snapshot history.
var l0SnapshotCounter = newCounter()

type counter struct{ ch chan uint64 }

func newCounter() *counter {
	c := &counter{ch: make(chan uint64, 1)}
	c.ch <- 1
	return c
}

func (c *counter) next() uint64 {
	v := <-c.ch
	c.ch <- v + 1
	return v
}
