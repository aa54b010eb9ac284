package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseNodeMaster 测试主节点行解析
func TestParseNodeMaster(t *testing.T) {
	node, err := ParseNode("e7f4fcc0dd003fc107333a4132a471ad306d5513 127.0.0.1:8001 master - 0 1428651457567 1 connected 0-5460")
	require.NoError(t, err)

	assert.Equal(t, "e7f4fcc0dd003fc107333a4132a471ad306d5513", node.NodeID)
	assert.Equal(t, "127.0.0.1", node.Host)
	assert.Equal(t, 8001, node.Port)
	assert.True(t, node.IsMaster())
	assert.False(t, node.IsSlave())
	assert.False(t, node.IsSelf())
	assert.False(t, node.HasFailed())
	assert.Empty(t, node.MasterID)
	assert.Len(t, node.AssignedSlots, 5461)
	assert.Equal(t, 0, node.AssignedSlots[0])
	assert.Equal(t, 5460, node.AssignedSlots[5460])
	assert.False(t, node.SlotsMigrating)
}

// TestParseNodeBusPort 测试带总线端口的地址
func TestParseNodeBusPort(t *testing.T) {
	node, err := ParseNode("2d1866134ef5fabdfae0ca9ada4ea169f0e0c3fa 127.0.0.1:7100@17100 myself,master - 0 1528651457567 5 connected 0-16383")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", node.Host)
	assert.Equal(t, 7100, node.Port)
	assert.True(t, node.IsSelf())
	assert.True(t, node.IsMaster())
	assert.Len(t, node.AssignedSlots, 16384)
}

// TestParseNodeSlave 测试从节点行解析
func TestParseNodeSlave(t *testing.T) {
	node, err := ParseNode("2ec421bd92fec4823e64f963e29792803ce5c13c 127.0.0.1:7102@17102 slave 2d1866134ef5fabdfae0ca9ada4ea169f0e0c3fa 0 1528651457567 5 connected")
	require.NoError(t, err)

	assert.True(t, node.IsSlave())
	assert.False(t, node.IsMaster())
	assert.Equal(t, "2d1866134ef5fabdfae0ca9ada4ea169f0e0c3fa", node.MasterID)
	assert.Empty(t, node.AssignedSlots)
}

// TestParseNodeEmptyHost 测试节点未知自身地址时的空 host
func TestParseNodeEmptyHost(t *testing.T) {
	node, err := ParseNode("1739bb3232ef733500888051203b06b704f935a5 :7101 myself,master - 0 0 0 connected")
	require.NoError(t, err)

	assert.Equal(t, "", node.Host)
	assert.Equal(t, 7101, node.Port)
}

// TestParseNodeMixedSlotTokens 测试混合槽记号
// 迁移标记只置位 SlotsMigrating，不贡献槽归属
func TestParseNodeMixedSlotTokens(t *testing.T) {
	node, err := ParseNode("e7f4fcc0dd003fc107333a4132a471ad306d5513 127.0.0.1:8001 master - 0 1428651457567 1 connected 0-2 7 10-12 [8192-<-bd239f7dbeaba9541586a708484cdce0ca99aba5]")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 7, 10, 11, 12}, node.AssignedSlots)
	assert.True(t, node.SlotsMigrating)
}

// TestParseNodeFailFlags 测试故障标记
func TestParseNodeFailFlags(t *testing.T) {
	node, err := ParseNode("abcdef0123456789 127.0.0.1:8002 master,fail - 0 0 1 disconnected")
	require.NoError(t, err)
	assert.True(t, node.HasFailed())

	node, err = ParseNode("abcdef0123456789 127.0.0.1:8002 master,fail? - 0 0 1 connected 0-99")
	require.NoError(t, err)
	assert.True(t, node.HasFailed())
}

// TestParseNodeMalformed 测试非法行
func TestParseNodeMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"too few fields",
		"id noport master - 0 0 1 connected",
		"id 127.0.0.1:abc master - 0 0 1 connected",
		"id 127.0.0.1:8001 master - 0 0 1 connected x-y",
	} {
		_, err := ParseNode(line)
		assert.Error(t, err, "line %q", line)
	}
}

// TestValidNodeLine 测试拓扑枚举过滤
// handshake 是瞬态记录，不参与枚举
func TestValidNodeLine(t *testing.T) {
	assert.False(t, validNodeLine(""))
	assert.False(t, validNodeLine("id 127.0.0.1:8001 handshake - 0 0 1 connected"))
	assert.True(t, validNodeLine("id 127.0.0.1:8001 master - 0 0 1 connected"))
}

// TestMigrationMarkers 测试迁移标记提取
// 不加锚定：标记后可以跟其他记号
func TestMigrationMarkers(t *testing.T) {
	line := "id 127.0.0.1:8001 myself,master - 0 0 1 connected 0-100 [8192-<-aaaa] [93->-bbbb] 200"

	in := ImportingMarkers(line)
	require.Len(t, in, 1)
	assert.Equal(t, 8192, in[0].Slot)
	assert.Equal(t, "aaaa", in[0].NodeID)

	out := MigratingMarkers(line)
	require.Len(t, out, 1)
	assert.Equal(t, 93, out[0].Slot)
	assert.Equal(t, "bbbb", out[0].NodeID)

	assert.Empty(t, ImportingMarkers("id 127.0.0.1:8001 master - 0 0 1 connected 0-100"))
}

// TestNodeFilters 测试节点过滤器
func TestNodeFilters(t *testing.T) {
	master, err := ParseNode("m1 127.0.0.1:8001 master - 0 0 1 connected 0-10")
	require.NoError(t, err)
	slave, err := ParseNode("s1 127.0.0.1:8002 slave m1 0 0 1 connected")
	require.NoError(t, err)
	failed, err := ParseNode("f1 127.0.0.1:8003 master,fail - 0 0 1 disconnected")
	require.NoError(t, err)

	assert.True(t, FilterMaster(master))
	assert.False(t, FilterMaster(slave))
	assert.True(t, FilterSlave(slave))
	assert.True(t, FilterAlive(master))
	assert.False(t, FilterAlive(failed))
	assert.True(t, FilterAll(failed))
}
