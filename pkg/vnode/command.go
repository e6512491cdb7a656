// Package vnode implements the vnode store (§4.9): the object that binds
// one shard's memcache, index, version, WAL, and tombstones together and
// exposes the apply/snapshot/destroy contract the replication core's
// apply-storage trait expects.
package vnode

import "github.com/tskvio/tskv/pkg/models"

// CommandKind identifies a decoded RaftWriteCommand variant.
type CommandKind int

const (
	WritePoints CommandKind = iota
	UpdateTags
	DeleteFromTable
	DropTable
	DropColumn
	AddColumn
	DropDatabase
)

// Command is a decoded RaftWriteCommand, the payload a vnode applies
// within one committed Raft log entry.
type Command struct {
	Kind     CommandKind
	Tenant   string
	Database string
	Table    string
	Points   []models.Point       // WritePoints
	Tags     []models.Tag         // UpdateTags
	TimeRange models.TimeRange    // DeleteFromTable
	Column   models.TableColumn  // AddColumn / DropColumn
	ColumnName string            // DropColumn
}
