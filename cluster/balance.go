package cluster

import "sort"

/*
 * ============================================================================
 * 槽平衡规划 - Balance Planner
 * ============================================================================
 *
 * 纯函数：输入主节点列表和可选的节点权重，输出一组
 * (source, target, count) 迁移动作，使槽归属按权重重新均摊。
 *
 * 算法：
 * 1. 目标配额 R_i = floor(T * w_i / W)，T 为槽总数，W 为权重和
 * 2. 余数 F = T - ΣR_i 由供出方吸收，绝不摊给接收方
 * 3. 去掉零增减后按增减量升序排序，两端配对：
 *    最深的供出方配最深的接收方，每步移动 min(-d_out, d_in)，
 *    哪端清零推进哪端，同时清零则两端同进
 *
 * 规划器不关心具体槽号，只决定节点对之间移动多少个槽；
 * 编排器取供出方 AssignedSlots 的前 count 个执行。
 */

// Balancer 节点权重策略
type Balancer interface {
	Weight(n *Node) int
}

// defaultBalancer 默认每个节点权重 1
type defaultBalancer struct{}

func (defaultBalancer) Weight(*Node) int { return 1 }

// PlanEntry 一组迁移动作：从 Source 移 Count 个槽到 Target
type PlanEntry struct {
	Source *Node
	Target *Node
	Count  int
}

// BalancePlan 计算使主节点间槽分布均衡的迁移计划
// 已均衡的输入产生空计划
func BalancePlan(nodes []*Node, balancer Balancer) []PlanEntry {
	if balancer == nil {
		balancer = defaultBalancer{}
	}

	masters := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsMaster() {
			masters = append(masters, n)
		}
	}

	totalSlots := 0
	totalWeight := 0
	weights := make([]int, len(masters))
	for i, n := range masters {
		totalSlots += len(n.AssignedSlots)
		weights[i] = balancer.Weight(n)
		totalWeight += weights[i]
	}
	if totalWeight == 0 {
		return nil
	}

	type migrating struct {
		node  *Node
		delta int
	}

	frag := totalSlots
	entries := make([]migrating, 0, len(masters))
	for i, n := range masters {
		result := totalSlots * weights[i] / totalWeight
		frag -= result
		entries = append(entries, migrating{node: n, delta: result - len(n.AssignedSlots)})
	}

	// 余数由供出方吸收：能整个吃掉的清零该供出方，
	// 否则全部加到当前供出方后结束
	for i := range entries {
		d := entries[i].delta
		if frag > -d && -d > 0 {
			frag += d
			entries[i].delta = 0
		} else if frag <= -d {
			entries[i].delta += frag
			break
		}
	}

	moving := make([]migrating, 0, len(entries))
	for _, e := range entries {
		if e.delta != 0 {
			moving = append(moving, e)
		}
	}
	sort.SliceStable(moving, func(i, j int) bool {
		return moving[i].delta < moving[j].delta
	})

	var plan []PlanEntry
	out, in := 0, len(moving)-1
	for out < in {
		switch {
		case moving[in].delta < -moving[out].delta:
			plan = append(plan, PlanEntry{
				Source: moving[out].node,
				Target: moving[in].node,
				Count:  moving[in].delta,
			})
			moving[out].delta += moving[in].delta
			in--
		case moving[in].delta > -moving[out].delta:
			plan = append(plan, PlanEntry{
				Source: moving[out].node,
				Target: moving[in].node,
				Count:  -moving[out].delta,
			})
			moving[in].delta += moving[out].delta
			out++
		default:
			plan = append(plan, PlanEntry{
				Source: moving[out].node,
				Target: moving[in].node,
				Count:  moving[in].delta,
			})
			out++
			in--
		}
	}
	return plan
}
