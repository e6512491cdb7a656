package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVnodeCheckerHealthy(t *testing.T) {
	c := NewVnodeChecker(1, func() VnodeStatus {
		return VnodeStatus{WALWritable: true, HasRaftLeader: true}
	})
	result := c.Check(context.Background())
	require.True(t, result.Healthy)
	require.Equal(t, CheckTypeExec, c.Type())
}

func TestVnodeCheckerUnhealthyReasons(t *testing.T) {
	cases := []VnodeStatus{
		{WALWritable: false, HasRaftLeader: true},
		{WALWritable: true, HasRaftLeader: false},
		{WALWritable: true, HasRaftLeader: true, QuarantinedFiles: 1},
	}
	for _, st := range cases {
		st := st
		c := NewVnodeChecker(1, func() VnodeStatus { return st })
		result := c.Check(context.Background())
		require.False(t, result.Healthy)
		require.NotEmpty(t, result.Message)
	}
}
