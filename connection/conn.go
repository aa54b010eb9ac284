package connection

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-100-precent/LingCtl/protocol"
)

/*
 * ============================================================================
 * 节点连接 - 管理命令通道
 * ============================================================================
 *
 * 每个 Connection 持有到一个节点的单条 TCP 连接，
 * 发送 multi-bulk 请求帧并按序读取回复。
 *
 * - Execute: 单条命令，一来一回
 * - ExecuteBulk: 管道化发送多条命令，再按条数收齐回复（键迁移用）
 * - SendRaw: 直接发送预打包帧（info / cluster nodes / cluster info）
 *
 * 错误回复转为 ReplyError 返回，套接字故障转为 IOError，
 * 均附带节点地址。最近一次收到的原始字节保留用于调试日志。
 */

// DefaultTimeout 默认连接与读写超时
const DefaultTimeout = 5 * time.Second

var defaultTimeout = DefaultTimeout

// SetDefaultTimeout 调整后续连接使用的默认超时
func SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		defaultTimeout = d
	}
}

// Connection 到单个节点的命令通道
type Connection struct {
	Host    string
	Port    int
	timeout time.Duration
	sock    net.Conn
	rec     *rawRecorder
	reader  *bufio.Reader
	lastRaw []byte
	closed  bool
}

// rawRecorder 在读路径上旁路记录原始字节
type rawRecorder struct {
	sock net.Conn
	last []byte
}

func (r *rawRecorder) Read(p []byte) (int, error) {
	n, err := r.sock.Read(p)
	if n > 0 {
		r.last = append(r.last, p[:n]...)
	}
	return n, err
}

// New 建立到 host:port 的连接，使用默认超时
func New(host string, port int) (*Connection, error) {
	return NewTimeout(host, port, defaultTimeout)
}

// NewTimeout 建立到 host:port 的连接
func NewTimeout(host string, port int, timeout time.Duration) (*Connection, error) {
	logrus.Debugf("Connect to %s:%d", host, port)
	sock, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return nil, &IOError{Host: host, Port: port, Err: err}
	}
	rec := &rawRecorder{sock: sock}
	return &Connection{
		Host:    host,
		Port:    port,
		timeout: timeout,
		sock:    sock,
		rec:     rec,
		reader:  bufio.NewReader(rec),
	}, nil
}

// Execute 编码并发送一条命令，读取一条回复
// 错误回复以 ReplyError 返回，供调用方按正文做幂等性判断
func (c *Connection) Execute(args ...interface{}) (*protocol.RESPValue, error) {
	replies, err := c.send(protocol.PackCommand(args...), 1)
	if err != nil {
		return nil, err
	}
	return replies[0], nil
}

// ExecuteBulk 管道化执行多条命令，回复顺序与命令顺序一致
func (c *Connection) ExecuteBulk(commands [][]interface{}) ([]*protocol.RESPValue, error) {
	return c.send(protocol.SquashCommands(commands), len(commands))
}

// SendRaw 发送预打包帧并读取一条回复
func (c *Connection) SendRaw(packed [][]byte) (*protocol.RESPValue, error) {
	replies, err := c.send(packed, 1)
	if err != nil {
		return nil, err
	}
	return replies[0], nil
}

func (c *Connection) send(packed [][]byte, expect int) ([]*protocol.RESPValue, error) {
	c.rec.last = c.rec.last[:0]

	if err := c.sock.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, &IOError{Host: c.Host, Port: c.Port, Err: err}
	}
	for _, chunk := range packed {
		if _, err := c.sock.Write(chunk); err != nil {
			return nil, &IOError{Host: c.Host, Port: c.Port, Err: err}
		}
	}

	replies := make([]*protocol.RESPValue, 0, expect)
	for len(replies) < expect {
		v, err := protocol.Decode(c.reader)
		if err != nil {
			return nil, &IOError{Host: c.Host, Port: c.Port, Err: err}
		}
		replies = append(replies, v)
	}
	c.lastRaw = append(c.lastRaw[:0], c.rec.last...)

	// 管道中的错误回复：首个错误中止整批，整批只返回该错误
	for _, v := range replies {
		if v.IsError() {
			return nil, &ReplyError{Host: c.Host, Port: c.Port, Body: v.Str}
		}
	}
	return replies, nil
}

// LastRaw 最近一次交互收到的原始字节，调试日志用
func (c *Connection) LastRaw() []byte {
	return c.lastRaw
}

// StatusErr 以当前节点地址构造状态错误
func (c *Connection) StatusErr(format string, args ...interface{}) error {
	return &StatusError{Host: c.Host, Port: c.Port, Message: fmt.Sprintf(format, args...)}
}

// Close 关闭连接，可重复调用
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
