package connection

import (
	"bufio"
	"fmt"
	"net"
	"testing"

	"github.com/code-100-precent/LingCtl/protocol"
)

// scriptedNode 按请求内容应答的迷你节点
type scriptedNode struct {
	ln     net.Listener
	handle func(args []string) *protocol.RESPValue
}

func startScriptedNode(t *testing.T, handle func(args []string) *protocol.RESPValue) *scriptedNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	n := &scriptedNode{ln: ln, handle: handle}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					req, err := protocol.Decode(reader)
					if err != nil {
						return
					}
					reply := n.handle(req.Strings())
					if _, err := conn.Write(reply.Encode()); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return n
}

func (n *scriptedNode) port() int {
	return n.ln.Addr().(*net.TCPAddr).Port
}

// TestExecute 测试单条命令执行
func TestExecute(t *testing.T) {
	node := startScriptedNode(t, func(args []string) *protocol.RESPValue {
		if len(args) == 1 && args[0] == "ping" {
			return protocol.NewSimpleString("PONG")
		}
		return protocol.NewError("ERR unknown command")
	})

	c, err := New("127.0.0.1", node.port())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	reply, err := c.Execute("ping")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if reply.Str != "PONG" {
		t.Errorf("Expected PONG, got %q", reply.Str)
	}
	if len(c.LastRaw()) == 0 {
		t.Error("LastRaw should keep the raw reply bytes")
	}
}

// TestExecuteReplyError 测试错误回复转为 ReplyError
func TestExecuteReplyError(t *testing.T) {
	node := startScriptedNode(t, func(args []string) *protocol.RESPValue {
		return protocol.NewError("ERR I'm already the owner of hash slot 42")
	})

	c, err := New("127.0.0.1", node.port())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	_, err = c.Execute("cluster", "setslot", 42, "importing", "abc")
	re, ok := err.(*ReplyError)
	if !ok {
		t.Fatalf("Expected *ReplyError, got %T: %v", err, err)
	}
	if re.Host != "127.0.0.1" || re.Port != node.port() {
		t.Error("ReplyError should carry the node address")
	}
	if !IsAlreadyOwner(err) {
		t.Error("Predicate should match the reply body")
	}
	if IsNotOwner(err) || IsUnknownNode(err) || IsContainingKeys(err) {
		t.Error("Other predicates should not match")
	}
}

// TestExecuteBulk 测试管道化执行与回复顺序
func TestExecuteBulk(t *testing.T) {
	node := startScriptedNode(t, func(args []string) *protocol.RESPValue {
		// 回显最后一个参数，验证回复顺序
		return protocol.NewBulkString(args[len(args)-1])
	})

	c, err := New("127.0.0.1", node.port())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	cmds := make([][]interface{}, 0, 20)
	for i := 0; i < 20; i++ {
		cmds = append(cmds, []interface{}{"echo", fmt.Sprintf("msg-%d", i)})
	}
	replies, err := c.ExecuteBulk(cmds)
	if err != nil {
		t.Fatalf("ExecuteBulk failed: %v", err)
	}
	if len(replies) != 20 {
		t.Fatalf("Expected 20 replies, got %d", len(replies))
	}
	for i, r := range replies {
		if r.Str != fmt.Sprintf("msg-%d", i) {
			t.Errorf("Reply %d out of order: %q", i, r.Str)
		}
	}
}

// TestSendRaw 测试预打包帧
func TestSendRaw(t *testing.T) {
	node := startScriptedNode(t, func(args []string) *protocol.RESPValue {
		if len(args) == 2 && args[0] == "cluster" && args[1] == "info" {
			return protocol.NewBulkString("cluster_state:ok\r\ncluster_slots_assigned:16384\r\n")
		}
		return protocol.NewError("ERR unexpected")
	})

	c, err := New("127.0.0.1", node.port())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	reply, err := c.SendRaw(protocol.CmdClusterInfo)
	if err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	if reply.Str != "cluster_state:ok\r\ncluster_slots_assigned:16384\r\n" {
		t.Errorf("Unexpected reply: %q", reply.Str)
	}
}

// TestConnectFailure 测试连接失败转为 IOError
func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = New("127.0.0.1", port)
	ioe, ok := err.(*IOError)
	if !ok {
		t.Fatalf("Expected *IOError, got %T: %v", err, err)
	}
	if ioe.Host != "127.0.0.1" || ioe.Port != port {
		t.Error("IOError should carry the node address")
	}
}

// TestCloseIdempotent 测试重复关闭
func TestCloseIdempotent(t *testing.T) {
	node := startScriptedNode(t, func(args []string) *protocol.RESPValue {
		return protocol.NewSimpleString("OK")
	})
	c, err := New("127.0.0.1", node.port())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second close should be a no-op: %v", err)
	}
}
