package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMaster(id string, slotCount int) *Node {
	slots := make([]int, slotCount)
	for i := range slots {
		slots[i] = i
	}
	return &Node{
		NodeID:        id,
		Host:          "127.0.0.1",
		Port:          7000,
		Flags:         []string{"master"},
		AssignedSlots: slots,
	}
}

// planTotals 校验计划中每条动作的移动数为正，且不超过供出方持有的槽数
func planTotals(t *testing.T, plan []PlanEntry) {
	t.Helper()
	for _, e := range plan {
		require.Greater(t, e.Count, 0)
		require.LessOrEqual(t, e.Count, len(e.Source.AssignedSlots))
	}
}

// TestBalancePlanTwoNodes 测试两节点均摊
func TestBalancePlanTwoNodes(t *testing.T) {
	plan := BalancePlan([]*Node{
		fakeMaster("a", 16384),
		fakeMaster("b", 0),
	}, nil)

	require.Len(t, plan, 1)
	assert.Equal(t, "a", plan[0].Source.NodeID)
	assert.Equal(t, "b", plan[0].Target.NodeID)
	assert.Equal(t, 8192, plan[0].Count)
	planTotals(t, plan)
}

// TestBalancePlanThreeNodes 测试三节点，余数由供出方吸收
func TestBalancePlanThreeNodes(t *testing.T) {
	plan := BalancePlan([]*Node{
		fakeMaster("a", 8192),
		fakeMaster("b", 8192),
		fakeMaster("c", 0),
	}, nil)

	require.Len(t, plan, 2)
	planTotals(t, plan)

	counts := map[string]int{}
	total := 0
	for _, e := range plan {
		assert.Equal(t, "c", e.Target.NodeID)
		counts[e.Source.NodeID] += e.Count
		total += e.Count
	}
	assert.Equal(t, 5461, total)
	assert.ElementsMatch(t, []int{2730, 2731}, []int{counts["a"], counts["b"]})
}

// TestBalancePlanIdempotent 测试已均衡输入产生空计划
func TestBalancePlanIdempotent(t *testing.T) {
	cases := [][]*Node{
		{fakeMaster("a", 1), fakeMaster("b", 1), fakeMaster("c", 0)},
		{fakeMaster("a", 0), fakeMaster("b", 1), fakeMaster("c", 1)},
		{fakeMaster("a", 1), fakeMaster("b", 2), fakeMaster("c", 1)},
		{fakeMaster("a", 5461), fakeMaster("b", 5461), fakeMaster("c", 5462)},
	}
	for i, nodes := range cases {
		assert.Empty(t, BalancePlan(nodes, nil), "case %d", i)
	}
}

// weightedBalancer 按表取权重，缺省为 1
type weightedBalancer map[string]int

func (w weightedBalancer) Weight(n *Node) int {
	if v, ok := w[n.NodeID]; ok {
		return v
	}
	return 1
}

// TestBalancePlanWeighted 测试按权重均摊
func TestBalancePlanWeighted(t *testing.T) {
	plan := BalancePlan([]*Node{
		fakeMaster("a", 16384),
		fakeMaster("b", 0),
	}, weightedBalancer{"a": 3, "b": 1})

	require.Len(t, plan, 1)
	assert.Equal(t, "a", plan[0].Source.NodeID)
	assert.Equal(t, 4096, plan[0].Count)
}

// TestBalancePlanIgnoresSlaves 测试从节点不参与规划
func TestBalancePlanIgnoresSlaves(t *testing.T) {
	slave := &Node{
		NodeID:   "s",
		Flags:    []string{"slave"},
		MasterID: "a",
	}
	plan := BalancePlan([]*Node{
		fakeMaster("a", 16384),
		slave,
		fakeMaster("b", 0),
	}, nil)

	require.Len(t, plan, 1)
	assert.Equal(t, 8192, plan[0].Count)
}

// TestBalancePlanConservation 测试守恒：每个节点的净变化等于目标差
func TestBalancePlanConservation(t *testing.T) {
	nodes := []*Node{
		fakeMaster("a", 7000),
		fakeMaster("b", 5000),
		fakeMaster("c", 4384),
		fakeMaster("d", 0),
	}
	plan := BalancePlan(nodes, nil)
	planTotals(t, plan)

	delta := map[string]int{}
	for _, e := range plan {
		delta[e.Source.NodeID] -= e.Count
		delta[e.Target.NodeID] += e.Count
	}
	// 16384/4 = 4096，d 应净收 4096，其余净出到 4096
	assert.Equal(t, 4096, delta["d"])
	assert.Equal(t, 4096, 7000+delta["a"])
	assert.Equal(t, 4096, 5000+delta["b"])
	assert.Equal(t, 4096, 4384+delta["c"])
}
