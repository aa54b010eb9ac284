package cluster

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/code-100-precent/LingCtl/connection"
)

/*
 * ============================================================================
 * 节点模型 - Gossip 行解析
 * ============================================================================
 *
 * `cluster nodes` 的每一行描述一个节点，空格分隔：
 *
 *   node_id address flags master_id ping_sent pong_recv config_epoch
 *   link_status [slot ...]
 *
 * - address 形如 host:port 或 host:port@bus_port；host 可以为空
 *   （节点尚不知道自己的对外地址），由调用方补默认值
 * - flags 逗号分隔，可含 myself/master/slave/fail/fail?/handshake/noaddr
 * - master_id 为 "-" 时表示不是从节点
 * - 槽记号有三种：单个整数、begin-end 闭区间、迁移标记 [slot-<-id] /
 *   [slot->-id]；迁移标记不计入 AssignedSlots，只置 SlotsMigrating
 */

// CLUSTER_SLOTS 集群槽总数
const CLUSTER_SLOTS = 16384

// Node 集群节点记录
// 由 gossip 行解析产生，随所属操作结束销毁
type Node struct {
	NodeID         string
	Host           string
	Port           int
	Flags          []string
	MasterID       string // 为空表示不是从节点
	AssignedSlots  []int
	SlotsMigrating bool

	conn *connection.Connection
}

// ParseNode 解析一行 gossip 记录
func ParseNode(line string) (*Node, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, fmt.Errorf("malformed cluster nodes line: %q", line)
	}

	node := &Node{
		NodeID: fields[0],
		Flags:  strings.Split(fields[2], ","),
	}

	addr := fields[1]
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	colon := strings.LastIndexByte(addr, ':')
	if colon < 0 {
		return nil, fmt.Errorf("malformed node address: %q", fields[1])
	}
	node.Host = addr[:colon]
	port, err := strconv.Atoi(addr[colon+1:])
	if err != nil {
		return nil, fmt.Errorf("malformed node address: %q", fields[1])
	}
	node.Port = port

	if fields[3] != "-" {
		node.MasterID = fields[3]
	}

	for _, token := range fields[8:] {
		if strings.HasPrefix(token, "[") {
			// 迁移标记不贡献槽归属
			node.SlotsMigrating = true
			continue
		}
		if i := strings.IndexByte(token, '-'); i >= 0 {
			begin, err := strconv.Atoi(token[:i])
			if err != nil {
				return nil, fmt.Errorf("malformed slot range: %q", token)
			}
			end, err := strconv.Atoi(token[i+1:])
			if err != nil {
				return nil, fmt.Errorf("malformed slot range: %q", token)
			}
			for s := begin; s <= end; s++ {
				node.AssignedSlots = append(node.AssignedSlots, s)
			}
			continue
		}
		s, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("malformed slot token: %q", token)
		}
		node.AssignedSlots = append(node.AssignedSlots, s)
	}

	return node, nil
}

// HasFlag 是否带有指定 flag
func (n *Node) HasFlag(flag string) bool {
	for _, f := range n.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsMaster 是否是主节点
func (n *Node) IsMaster() bool {
	return n.HasFlag("master")
}

// IsSlave 是否是从节点
func (n *Node) IsSlave() bool {
	return n.HasFlag("slave")
}

// IsSelf 是否是应答 gossip 查询的节点自身
func (n *Node) IsSelf() bool {
	return n.HasFlag("myself")
}

// HasFailed 是否被标记为故障（含疑似故障）
func (n *Node) HasFailed() bool {
	return n.HasFlag("fail") || n.HasFlag("fail?")
}

// Addr 节点地址 host:port
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// GetConn 返回节点的命令通道，首次调用时建立
func (n *Node) GetConn() (*connection.Connection, error) {
	if n.conn == nil {
		conn, err := connection.New(n.Host, n.Port)
		if err != nil {
			return nil, err
		}
		n.conn = conn
	}
	return n.conn, nil
}

// Close 释放节点的命令通道，可重复调用
func (n *Node) Close() {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// validNodeLine 行是否参与拓扑枚举
// handshake 是握手期的瞬态记录，不计入
func validNodeLine(line string) bool {
	return len(line) != 0 && !strings.Contains(line, "handshake")
}

// NodeFilter 节点过滤器
type NodeFilter func(*Node) bool

// FilterAll 保留所有节点
func FilterAll(*Node) bool { return true }

// FilterMaster 只保留主节点
func FilterMaster(n *Node) bool { return n.IsMaster() }

// FilterSlave 只保留从节点
func FilterSlave(n *Node) bool { return n.IsSlave() }

// FilterAlive 排除故障节点
func FilterAlive(n *Node) bool { return !n.HasFailed() }

// 迁移标记从 gossip 行中以模式匹配提取
// 不加行尾锚定：标记后面可能还有其他记号
var (
	patMigratingIn  = regexp.MustCompile(`\[([0-9]+)-<-(\w+)\]`)
	patMigratingOut = regexp.MustCompile(`\[([0-9]+)->-(\w+)\]`)
)

// MigrationMarker 一个在途迁移标记
type MigrationMarker struct {
	Slot   int
	NodeID string // 导入时为来源节点，导出时为目标节点
}

// parseMarkers 提取一行里的全部迁移标记
func parseMarkers(pat *regexp.Regexp, line string) []MigrationMarker {
	var markers []MigrationMarker
	for _, g := range pat.FindAllStringSubmatch(line, -1) {
		slot, err := strconv.Atoi(g[1])
		if err != nil {
			continue
		}
		markers = append(markers, MigrationMarker{Slot: slot, NodeID: g[2]})
	}
	return markers
}

// ImportingMarkers 行内的导入标记 [slot-<-source_id]
func ImportingMarkers(line string) []MigrationMarker {
	return parseMarkers(patMigratingIn, line)
}

// MigratingMarkers 行内的导出标记 [slot->-target_id]
func MigratingMarkers(line string) []MigrationMarker {
	return parseMarkers(patMigratingOut, line)
}
