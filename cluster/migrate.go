package cluster

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-100-precent/LingCtl/connection"
	"github.com/code-100-precent/LingCtl/protocol"
)

/*
 * ============================================================================
 * 槽迁移编排 - One-slot Protocol
 * ============================================================================
 *
 * 把槽 s 从主节点 X 迁到主节点 Y（已知主节点集合 M）：
 *
 * 1. 在 Y 上 cluster setslot s importing X.node_id
 *    错误正文含 "already the owner of" 时继续：Y 在上次尝试中已接管
 * 2. 在 X 上 cluster setslot s migrating Y.node_id
 *    错误正文含 "not the owner of" 时继续：X 已不再持有该槽
 * 3. 排空键：循环 getkeysinslot 每批 10 个，管道化 migrate（db 0，
 *    单键超时 30s），直到该槽为空
 * 4. 在 X 上 cluster setslot s node Y.node_id，最多重试 16 次、间隔
 *    100ms —— 排空期间 X 可能短暂看到不一致的归属视图
 * 5. 对 M 中其余主节点逐个下发同样的 setslot node，同样有界重试
 *
 * 步骤全序且逐步同步：上一步未返回 ok 不发起下一步。
 * 协议中途失败会把槽留在 migrating/importing 配对状态，
 * 由 fix 操作修复。
 */

const (
	// 每批从源节点取出的键数
	migrateKeyBatch = 10
	// migrate 命令的单键超时（毫秒）与目标 DB
	migrateTimeoutMs = 30000
	migrateDBIndex   = 0
)

// migrKeys 排空一个槽的所有键，返回迁移的键数
// 仅当 getkeysinslot 返回空列表时结束
func migrKeys(src *connection.Connection, targetHost string, targetPort int, slot int) (int, error) {
	keyCount := 0
	for {
		reply, err := src.Execute("cluster", "getkeysinslot", slot, migrateKeyBatch)
		if err != nil {
			return keyCount, err
		}
		keys := reply.Strings()
		if len(keys) == 0 {
			return keyCount, nil
		}
		keyCount += len(keys)

		cmds := make([][]interface{}, 0, len(keys))
		for _, k := range keys {
			cmds = append(cmds, []interface{}{
				"migrate", targetHost, targetPort, k, migrateDBIndex, migrateTimeoutMs,
			})
		}
		if _, err := src.ExecuteBulk(cmds); err != nil {
			return keyCount, err
		}
	}
}

// migrOneSlot 执行一次完整的单槽迁移，返回迁移的键数
func migrOneSlot(source, target *Node, slot int, nodes []*Node) (int, error) {
	expectOK := func(reply *protocol.RESPValue, conn *connection.Connection) error {
		if reply.IsOK() {
			return nil
		}
		return conn.StatusErr("Error while moving slot [ %d ] between\nSource node - %s:%d\nTarget node - %s:%d\nGot %s",
			slot, source.Host, source.Port, target.Host, target.Port, reply.Text())
	}

	sourceConn, err := source.GetConn()
	if err != nil {
		return 0, err
	}
	targetConn, err := target.GetConn()
	if err != nil {
		return 0, err
	}

	reply, err := targetConn.Execute("cluster", "setslot", slot, "importing", source.NodeID)
	if err != nil {
		if !connection.IsAlreadyOwner(err) {
			return 0, err
		}
	} else if err := expectOK(reply, targetConn); err != nil {
		return 0, err
	}

	reply, err = sourceConn.Execute("cluster", "setslot", slot, "migrating", target.NodeID)
	if err != nil {
		if !connection.IsNotOwner(err) {
			return 0, err
		}
	} else if err := expectOK(reply, sourceConn); err != nil {
		return 0, err
	}

	keys, err := migrKeys(sourceConn, target.Host, target.Port, slot)
	if err != nil {
		return keys, err
	}

	setslotStable := func(conn *connection.Connection) error {
		return retryCall(16, 100*time.Millisecond, func() error {
			m, err := conn.Execute("cluster", "setslot", slot, "node", target.NodeID)
			if err != nil {
				return err
			}
			return expectOK(m, conn)
		})
	}

	if err := setslotStable(sourceConn); err != nil {
		return keys, err
	}
	for _, node := range nodes {
		if !node.IsMaster() || node.NodeID == source.NodeID {
			continue
		}
		conn, err := node.GetConn()
		if err != nil {
			return keys, err
		}
		if err := setslotStable(conn); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

// migrSlots 按序迁移一组槽并汇总键数
// 同一供出方上不并行：并发槽迁移会打乱 getkeysinslot/migrate 的配对
func migrSlots(source, target *Node, slots []int, nodes []*Node) error {
	logrus.Infof("Migrating %d slots from %s<%s:%d> to %s<%s:%d>", len(slots),
		source.NodeID, source.Host, source.Port,
		target.NodeID, target.Host, target.Port)
	keyCount := 0
	for _, slot := range slots {
		keys, err := migrOneSlot(source, target, slot, nodes)
		keyCount += keys
		if err != nil {
			return err
		}
	}
	logrus.Infof("Migrated: %d slots %d keys from %s<%s:%d> to %s<%s:%d>",
		len(slots), keyCount,
		source.NodeID, source.Host, source.Port,
		target.NodeID, target.Host, target.Port)
	return nil
}

// MigrateSlots 把 slots 从 src 节点迁移到同一集群内的 dst 节点
func MigrateSlots(srcHost string, srcPort int, dstHost string, dstPort int, slots []int) error {
	if srcHost == dstHost && srcPort == dstPort {
		return fmt.Errorf("Same node")
	}

	conn, err := connection.New(srcHost, srcPort)
	if err != nil {
		return err
	}
	nodes, myself, err := listNodesConn(conn, srcHost, FilterMaster)
	conn.Close()
	if err != nil {
		return err
	}
	defer closeNodes(nodes)
	if myself != nil {
		defer myself.Close()
	}
	if myself == nil {
		return fmt.Errorf("Node %s:%d not found in its own gossip", srcHost, srcPort)
	}

	held := make(map[int]bool, len(myself.AssignedSlots))
	for _, s := range myself.AssignedSlots {
		held[s] = true
	}
	logrus.Debugf("Migrating %v", slots)
	for _, s := range slots {
		if !held[s] {
			return fmt.Errorf("Not all slot held by %s:%d", srcHost, srcPort)
		}
	}

	for _, n := range nodes {
		if n.Host == dstHost && n.Port == dstPort {
			return migrSlots(myself, n, slots, nodes)
		}
	}
	return fmt.Errorf("Two nodes are not in the same cluster")
}
