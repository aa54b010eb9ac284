package cluster

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/code-100-precent/LingCtl/protocol"
)

// testNode 测试用的脚本化节点
// 按请求内容应答，并记录收到的每条命令
type testNode struct {
	ln     net.Listener
	mu     sync.Mutex
	log    [][]string
	handle func(args []string) *protocol.RESPValue
}

func startTestNode(t *testing.T, handle func(args []string) *protocol.RESPValue) *testNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	n := &testNode{ln: ln, handle: handle}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go n.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return n
}

func (n *testNode) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		req, err := protocol.Decode(reader)
		if err != nil {
			return
		}
		args := req.Strings()

		n.mu.Lock()
		n.log = append(n.log, args)
		reply := n.handle(args)
		n.mu.Unlock()

		if _, err := conn.Write(reply.Encode()); err != nil {
			return
		}
	}
}

func (n *testNode) port() int {
	return n.ln.Addr().(*net.TCPAddr).Port
}

// received 收到的命令记录快照
func (n *testNode) received() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, len(n.log))
	copy(out, n.log)
	return out
}

// countReceived 统计某个命令前缀收到的次数
func (n *testNode) countReceived(prefix ...string) int {
	count := 0
	for _, cmd := range n.received() {
		if len(cmd) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if !strings.EqualFold(cmd[i], p) {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}

// clusterRecord 构造一行 gossip 记录
func clusterRecord(id string, port int, flags, masterID, slots string) string {
	line := fmt.Sprintf("%s 127.0.0.1:%d %s %s 0 0 1 connected", id, port, flags, masterID)
	if slots != "" {
		line += " " + slots
	}
	return line
}

// infoReply 构造 info 回复
func infoReply(clusterEnabled bool) *protocol.RESPValue {
	enabled := 0
	if clusterEnabled {
		enabled = 1
	}
	return protocol.NewBulkString(fmt.Sprintf("# Cluster\r\ncluster_enabled:%d\r\n", enabled))
}

// clusterInfoReply 构造 cluster info 回复
func clusterInfoReply(state string, assigned int) *protocol.RESPValue {
	return protocol.NewBulkString(fmt.Sprintf(
		"cluster_state:%s\r\ncluster_slots_assigned:%d\r\ncluster_known_nodes:1\r\n",
		state, assigned))
}

// isCmd 判断命令前缀
func isCmd(args []string, prefix ...string) bool {
	if len(args) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if !strings.EqualFold(args[i], p) {
			return false
		}
	}
	return true
}
