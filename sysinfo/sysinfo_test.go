package sysinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	n, err := Collect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, n.Host)
	assert.Greater(t, n.MemoryTotalMB, uint64(0))
	assert.LessOrEqual(t, n.MemoryAvailMB, n.MemoryTotalMB)
	t.Logf("node: %+v", *n)
}

func TestCheckMemory(t *testing.T) {
	n := &Node{MemoryTotalMB: 512 * 1024, MemoryAvailMB: 400 * 1024}

	assert.Empty(t, n.CheckMemory(0))
	assert.Empty(t, n.CheckMemory(380*1024))
	assert.Equal(t, "requested memory exceeds memory currently available", n.CheckMemory(480*1024))
	assert.Equal(t, "requested memory exceeds node total", n.CheckMemory(600*1024))
	assert.Empty(t, (&Node{}).CheckMemory(1024))
}

func TestLogFields(t *testing.T) {
	n := &Node{Host: "learnfair0042", CPUs: 80}
	fields := n.LogFields()
	require.Len(t, fields, 10)
	assert.Equal(t, "host", fields[0])
	assert.Equal(t, "learnfair0042", fields[1])
}
