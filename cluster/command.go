package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/code-100-precent/LingCtl/connection"
	"github.com/code-100-precent/LingCtl/protocol"
)

/*
 * ============================================================================
 * 集群编排操作
 * ============================================================================
 *
 * 每个入口函数负责：建立连接 -> 前置探测 -> 读取拓扑 ->
 * 调用规划器 / 迁移编排 -> 所有出口路径上关闭连接。
 *
 * 工具本身无状态，操作之间不持久化任何内容；
 * 操作内部把集群当作最终一致系统对待，setslot 之后
 * 依靠轮询窗口等待 gossip 收敛。
 */

// listNodesConn 读取并解析一份 gossip 拓扑
// myself 的 host 可能为空，用 defaultHost 补齐
func listNodesConn(c *connection.Connection, defaultHost string, filter NodeFilter) ([]*Node, *Node, error) {
	reply, err := c.SendRaw(protocol.CmdClusterNodes)
	if err != nil {
		return nil, nil, err
	}
	logrus.Debugf("Ask `cluster nodes` Rsp %s", reply.Text())

	var nodes []*Node
	var myself *Node
	for _, line := range strings.Split(reply.Text(), "\n") {
		if !validNodeLine(line) {
			continue
		}
		node, err := ParseNode(line)
		if err != nil {
			return nodes, myself, err
		}
		if node.IsSelf() {
			myself = node
			if myself.Host == "" {
				myself.Host = defaultHost
			}
		}
		if filter(node) {
			nodes = append(nodes, node)
		}
	}
	return nodes, myself, nil
}

// closeNodes 释放一组节点的连接
func closeNodes(nodes []*Node) {
	for _, n := range nodes {
		n.Close()
	}
}

// ListNodes 列出集群拓扑
func ListNodes(host string, port int, defaultHost string, filter NodeFilter) ([]*Node, *Node, error) {
	conn, err := connection.New(host, port)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()
	if defaultHost == "" {
		defaultHost = host
	}
	if filter == nil {
		filter = FilterAll
	}
	return listNodesConn(conn, defaultHost, filter)
}

// ListMasters 列出集群的主节点
func ListMasters(host string, port int, defaultHost string) ([]*Node, *Node, error) {
	return ListNodes(host, port, defaultHost, FilterMaster)
}

// addSlotsRange 按 maxSlots 分批下发 [begin, end) 的 addslots
// 批次上限防止单条命令帧过大
func addSlotsRange(c *connection.Connection, begin, end, maxSlots int) error {
	addslots := func(begin, end int) error {
		args := make([]interface{}, 0, end-begin+2)
		args = append(args, "cluster", "addslots")
		for s := begin; s < end; s++ {
			args = append(args, s)
		}
		m, err := c.Execute(args...)
		if err != nil {
			return err
		}
		logrus.Debugf("Ask `cluster addslots` Rsp %s", m.Text())
		if !m.IsOK() {
			return c.StatusErr("Unexpected reply after ADDSLOTS: %s", m.Text())
		}
		return nil
	}

	i := begin + maxSlots
	for i < end {
		if err := addslots(begin, i); err != nil {
			return err
		}
		begin = i
		i += maxSlots
	}
	return addslots(begin, end)
}

// addSlotsList 分批下发一组离散槽号的 addslots
func addSlotsList(c *connection.Connection, slots []int, maxSlots int) error {
	for len(slots) > 0 {
		batch := slots
		if len(batch) > maxSlots {
			batch = slots[:maxSlots]
		}
		args := make([]interface{}, 0, len(batch)+2)
		args = append(args, "cluster", "addslots")
		for _, s := range batch {
			args = append(args, s)
		}
		m, err := c.Execute(args...)
		if err != nil {
			return err
		}
		logrus.Debugf("Ask `cluster addslots` Rsp %s", m.Text())
		if !m.IsOK() {
			return c.StatusErr("Unexpected reply after ADDSLOTS: %s", m.Text())
		}
		slots = slots[len(batch):]
	}
	return nil
}

// Create 用一组独立节点建立新集群
// 第一个地址作为种子并多承担除不尽的槽
func Create(addrs []Address, maxSlots int) error {
	seen := make(map[Address]bool, len(addrs))
	uniq := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			uniq = append(uniq, a)
		}
	}
	if len(uniq) == 0 {
		return fmt.Errorf("No node to create cluster")
	}

	conns := make([]*connection.Connection, 0, len(uniq))
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for _, a := range uniq {
		c, err := connection.New(a.Host, a.Port)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := ensureClusterStatusUnset(c); err != nil {
			return err
		}
		logrus.Infof("Instance at %s:%d checked", c.Host, c.Port)
	}

	first := conns[0]
	for _, c := range conns[1:] {
		if _, err := c.Execute("cluster", "meet", first.Host, first.Port); err != nil {
			return err
		}
	}

	slotsEach := CLUSTER_SLOTS / len(conns)
	residue := CLUSTER_SLOTS - slotsEach*len(conns)
	firstNodeSlots := slotsEach + residue

	if err := addSlotsRange(first, 0, firstNodeSlots, maxSlots); err != nil {
		return err
	}
	logrus.Infof("Add %d slots to %s:%d", firstNodeSlots, first.Host, first.Port)
	for i, c := range conns[1:] {
		begin := i*slotsEach + firstNodeSlots
		if err := addSlotsRange(c, begin, begin+slotsEach, maxSlots); err != nil {
			return err
		}
		logrus.Infof("Add %d slots to %s:%d", slotsEach, c.Host, c.Port)
	}

	for _, c := range conns {
		if err := pollCheckStatus(c); err != nil {
			return err
		}
	}
	return nil
}

// StartCluster 把单个空节点启动为独享全部槽的集群
func StartCluster(host string, port int, maxSlots int) error {
	c, err := connection.New(host, port)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := ensureClusterStatusUnset(c); err != nil {
		return err
	}
	if err := addSlotsRange(c, 0, CLUSTER_SLOTS, maxSlots); err != nil {
		return err
	}
	if err := pollCheckStatus(c); err != nil {
		return err
	}
	logrus.Infof("Instance at %s:%d started as a standalone cluster", host, port)
	return nil
}

// joinToCluster 让候选节点与集群握手并等待其就绪
func joinToCluster(clst, newin *connection.Connection) error {
	if err := ensureClusterStatusSet(clst); err != nil {
		return err
	}
	if err := ensureClusterStatusUnset(newin); err != nil {
		return err
	}

	m, err := clst.Execute("cluster", "meet", newin.Host, newin.Port)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `cluster meet` Rsp %s", m.Text())
	if !m.IsOK() {
		return clst.StatusErr("Unexpected reply after MEET: %s", m.Text())
	}
	return pollCheckStatus(newin)
}

// JoinCluster 节点入群并按权重重新均摊槽
func JoinCluster(clusterHost string, clusterPort int, newinHost string, newinPort int, balancer Balancer) error {
	t, err := connection.New(newinHost, newinPort)
	if err != nil {
		return err
	}
	defer t.Close()
	cnode, err := connection.New(clusterHost, clusterPort)
	if err != nil {
		return err
	}
	defer cnode.Close()

	if err := joinToCluster(cnode, t); err != nil {
		return err
	}
	logrus.Infof("Instance at %s:%d has joined %s:%d; now balancing slots",
		newinHost, newinPort, clusterHost, clusterPort)

	nodes, _, err := listNodesConn(t, newinHost, FilterAll)
	defer closeNodes(nodes)
	if err != nil {
		return err
	}
	for _, entry := range BalancePlan(nodes, balancer) {
		slots := entry.Source.AssignedSlots[:entry.Count]
		if err := migrSlots(entry.Source, entry.Target, slots, nodes); err != nil {
			return err
		}
	}
	return nil
}

// AddNode 节点入群但不移动任何槽
func AddNode(clusterHost string, clusterPort int, newinHost string, newinPort int) error {
	t, err := connection.New(newinHost, newinPort)
	if err != nil {
		return err
	}
	defer t.Close()
	c, err := connection.New(clusterHost, clusterPort)
	if err != nil {
		return err
	}
	defer c.Close()
	return joinToCluster(c, t)
}

// splitForRemoval 把待移除主节点的槽均分给其余主节点
// 前 M-1 个各拿 floor(N/M)，最后一个拿剩余
func splitForRemoval(total, receivers int) []int {
	counts := make([]int, receivers)
	each := total / receivers
	for i := 0; i < receivers-1; i++ {
		counts[i] = each
	}
	counts[receivers-1] = total - each*(receivers-1)
	return counts
}

// checkMasterAndMigrateSlots 校验可移除性并迁空主节点
func checkMasterAndMigrateSlots(nodes []*Node, myself *Node) error {
	var otherMasters []*Node
	masterIDs := make(map[string]bool)
	for _, node := range nodes {
		if node.IsMaster() {
			otherMasters = append(otherMasters, node)
		} else if node.MasterID != "" {
			masterIDs[node.MasterID] = true
		}
	}
	if len(otherMasters) == 0 {
		return fmt.Errorf("This is the last node")
	}
	if masterIDs[myself.NodeID] {
		return fmt.Errorf("The master still has slaves")
	}

	counts := splitForRemoval(len(myself.AssignedSlots), len(otherMasters))
	remaining := myself.AssignedSlots
	for i, node := range otherMasters {
		if counts[i] == 0 {
			continue
		}
		if err := migrSlots(myself, node, remaining[:counts[i]], nodes); err != nil {
			return err
		}
		remaining = remaining[counts[i]:]
	}
	return nil
}

// DelNode 把节点迁空并移出集群
func DelNode(host string, port int) error {
	t, err := connection.New(host, port)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := ensureClusterStatusSet(t); err != nil {
		return err
	}
	all, myself, err := listNodesConn(t, host, FilterAlive)
	defer closeNodes(all)
	if myself != nil {
		defer myself.Close()
	}
	if err != nil {
		return err
	}
	if myself == nil {
		return fmt.Errorf("Node %s:%d not found in its own gossip", host, port)
	}

	nodes := make([]*Node, 0, len(all))
	for _, n := range all {
		if n.NodeID != myself.NodeID {
			nodes = append(nodes, n)
		}
	}

	if myself.IsMaster() {
		if err := checkMasterAndMigrateSlots(nodes, myself); err != nil {
			return err
		}
	}

	logrus.Infof("Migrated for %s / Broadcast a `forget`", myself.NodeID)
	for _, node := range nodes {
		conn, err := node.GetConn()
		if err != nil {
			return err
		}
		if _, err := conn.Execute("cluster", "forget", myself.NodeID); err != nil {
			if !connection.IsUnknownNode(err) {
				return err
			}
		}
	}
	_, err = t.Execute("cluster", "reset")
	return err
}

// ShutdownCluster 关停只剩单个节点的集群
// ignoreFailed 为真时，gossip 表里残留的故障节点不计入节点数
func ShutdownCluster(host string, port int, ignoreFailed bool) error {
	t, err := connection.New(host, port)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := ensureClusterStatusSet(t); err != nil {
		return err
	}

	reply, err := t.SendRaw(protocol.CmdClusterNodes)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `cluster nodes` Rsp %s", reply.Text())
	alive := 0
	for _, line := range strings.Split(reply.Text(), "\n") {
		if !validNodeLine(line) {
			continue
		}
		node, err := ParseNode(line)
		if err != nil {
			return err
		}
		if ignoreFailed && node.HasFailed() {
			continue
		}
		alive++
	}
	if alive > 1 {
		return t.StatusErr("More than 1 nodes in cluster.")
	}

	if _, err := t.Execute("cluster", "reset"); err != nil {
		if connection.IsContainingKeys(err) {
			return t.StatusErr("Node still contains keys")
		}
		return err
	}
	return nil
}

// FixMigrating 修复残留的迁移标记
// 对每个 importing 标记从来源重放单槽协议，对每个 migrating
// 标记向目标重放；标记引用的节点缺失时记日志跳过
func FixMigrating(host string, port int) error {
	t, err := connection.New(host, port)
	if err != nil {
		return err
	}
	defer t.Close()

	reply, err := t.SendRaw(protocol.CmdClusterNodes)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `cluster nodes` Rsp %s", reply.Text())

	type pending struct {
		node   *Node
		marker MigrationMarker
	}
	nodes := make(map[string]*Node)
	var migSrcs, migDsts []pending

	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()

	for _, line := range strings.Split(reply.Text(), "\n") {
		if !validNodeLine(line) {
			continue
		}
		node, err := ParseNode(line)
		if err != nil {
			return err
		}
		if node.Host == "" {
			node.Host = host
		}
		nodes[node.NodeID] = node

		for _, m := range ImportingMarkers(line) {
			migDsts = append(migDsts, pending{node: node, marker: m})
		}
		for _, m := range MigratingMarkers(line) {
			migSrcs = append(migSrcs, pending{node: node, marker: m})
		}
	}

	all := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		all = append(all, n)
	}

	for _, p := range migDsts {
		src, ok := nodes[p.marker.NodeID]
		if !ok {
			logrus.Errorf("Fail to fix %s:%d <- (referenced from %s:%d) - node %s is missing",
				p.node.Host, p.node.Port, host, port, p.marker.NodeID)
			continue
		}
		if _, err := migrOneSlot(src, p.node, p.marker.Slot, all); err != nil {
			return err
		}
	}
	for _, p := range migSrcs {
		dst, ok := nodes[p.marker.NodeID]
		if !ok {
			logrus.Errorf("Fail to fix %s:%d -> (referenced from %s:%d) - node %s is missing",
				p.node.Host, p.node.Port, host, port, p.marker.NodeID)
			continue
		}
		if _, err := migrOneSlot(p.node, dst, p.marker.Slot, all); err != nil {
			return err
		}
	}
	return nil
}

// checkSlave 轮询主节点视角，等候选节点以 slave 身份出现
func checkSlave(slaveHost string, slavePort int, masterConn *connection.Connection) error {
	slaveAddr := fmt.Sprintf("%s:%d", slaveHost, slavePort)
	return retryCall(16, time.Second, func() error {
		reply, err := masterConn.Execute("cluster", "nodes")
		if err != nil {
			return err
		}
		for _, line := range strings.Split(reply.Text(), "\n") {
			if strings.Contains(line, slaveAddr) {
				if strings.Contains(line, "slave") {
					return nil
				}
				return masterConn.StatusErr("%s not switched to a slave", slaveAddr)
			}
		}
		return masterConn.StatusErr("%s not in cluster yet", slaveAddr)
	})
}

// Replicate 让候选节点入群并复制指定主节点
// 目标已是从节点时沿用其主节点
func Replicate(masterHost string, masterPort int, slaveHost string, slavePort int) error {
	t, err := connection.New(slaveHost, slavePort)
	if err != nil {
		return err
	}
	defer t.Close()
	masterConn, err := connection.New(masterHost, masterPort)
	if err != nil {
		return err
	}
	defer masterConn.Close()

	if err := ensureClusterStatusSet(masterConn); err != nil {
		return err
	}
	nodes, myself, err := listNodesConn(masterConn, masterHost, FilterAll)
	closeNodes(nodes)
	if err != nil {
		return err
	}
	if myself == nil {
		return fmt.Errorf("Node %s:%d not found in its own gossip", masterHost, masterPort)
	}
	myid := myself.NodeID
	if !myself.IsMaster() {
		myid = myself.MasterID
	}

	if err := joinToCluster(masterConn, t); err != nil {
		return err
	}
	logrus.Infof("Instance at %s:%d has joined %s:%d; now set replica",
		slaveHost, slavePort, masterHost, masterPort)

	m, err := t.Execute("cluster", "replicate", myid)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `cluster replicate` Rsp %s", m.Text())
	if !m.IsOK() {
		return t.StatusErr("Unexpected reply after REPLICATE: %s", m.Text())
	}

	if err := checkSlave(slaveHost, slavePort, masterConn); err != nil {
		return err
	}
	logrus.Infof("Instance at %s:%d set as replica to %s", slaveHost, slavePort, myid)
	return nil
}

// RescueCluster 用替补节点接管无主的槽
func RescueCluster(host string, port int, substHost string, substPort int, maxSlots int) error {
	owned := make([]bool, CLUSTER_SLOTS)

	t, err := connection.New(host, port)
	if err != nil {
		return err
	}
	if err := func() error {
		defer t.Close()
		if err := ensureClusterStatusSet(t); err != nil {
			return err
		}
		masters, _, err := listNodesConn(t, host, FilterMaster)
		defer closeNodes(masters)
		if err != nil {
			return err
		}
		for _, node := range masters {
			if node.HasFailed() {
				continue
			}
			for _, s := range node.AssignedSlots {
				owned[s] = true
			}
		}
		return nil
	}(); err != nil {
		return err
	}

	var failedSlots []int
	for s, ok := range owned {
		if !ok {
			failedSlots = append(failedSlots, s)
		}
	}
	if len(failedSlots) == 0 {
		logrus.Infof("No need to rescue cluster at %s:%d", host, port)
		return nil
	}

	s, err := connection.New(substHost, substPort)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := ensureClusterStatusUnset(s); err != nil {
		return err
	}
	m, err := s.Execute("cluster", "meet", host, port)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `cluster meet` Rsp %s", m.Text())
	if !m.IsOK() {
		return s.StatusErr("Unexpected reply after MEET: %s", m.Text())
	}

	if err := addSlotsList(s, failedSlots, maxSlots); err != nil {
		return err
	}
	if err := pollCheckStatus(s); err != nil {
		return err
	}
	logrus.Infof("Instance at %s:%d serves %d slots to rescue the cluster",
		substHost, substPort, len(failedSlots))
	return nil
}

// ExecutionResult 广播执行的单节点结果
type ExecutionResult struct {
	Node  *Node
	Reply *protocol.RESPValue
	Err   error
}

// BroadcastExecute 向过滤后的每个节点下发同一条命令
// 单节点失败不打断扇出，错误聚合后随结果一起返回
func BroadcastExecute(host string, port int, filter NodeFilter, args ...interface{}) ([]ExecutionResult, error) {
	c, err := connection.New(host, port)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if filter == nil {
		filter = FilterAll
	}
	nodes, _, err := listNodesConn(c, host, filter)
	defer closeNodes(nodes)
	if err != nil {
		return nil, err
	}

	var merr *multierror.Error
	results := make([]ExecutionResult, 0, len(nodes))
	for _, n := range nodes {
		res := ExecutionResult{Node: n}
		conn, err := n.GetConn()
		if err != nil {
			res.Err = err
		} else {
			res.Reply, res.Err = conn.Execute(args...)
		}
		if res.Err != nil {
			merr = multierror.Append(merr, res.Err)
		}
		results = append(results, res)
	}
	return results, merr.ErrorOrNil()
}

// Address 节点地址
type Address struct {
	Host string
	Port int
}

// ParseAddress 解析 HOST:PORT 形式的地址
func ParseAddress(s string) (Address, error) {
	colon := strings.LastIndexByte(s, ':')
	if colon <= 0 {
		return Address{}, fmt.Errorf("invalid address %q, expect HOST:PORT", s)
	}
	port, err := strconv.Atoi(s[colon+1:])
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("invalid port in address %q", s)
	}
	return Address{Host: s[:colon], Port: port}, nil
}
