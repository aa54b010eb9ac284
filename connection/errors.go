package connection

import (
	"fmt"
	"strings"
)

/*
 * ============================================================================
 * 错误分类
 * ============================================================================
 *
 * - ReplyError: 节点返回的协议错误回复，携带原始错误正文
 * - StatusError: 回复成功但取值不在预期集合内，附带 host/port 与回复内容
 * - IOError: 套接字故障，附带 host/port
 *
 * 编排器只容忍特定错误正文（见下方谓词），其余一律向上传播。
 */

// ReplyError 节点返回的协议错误回复
type ReplyError struct {
	Host string
	Port int
	Body string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s:%d - %s", e.Host, e.Port, e.Body)
}

// StatusError 回复成功但内容不符合预期
type StatusError struct {
	Host    string
	Port    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s:%d - %s", e.Host, e.Port, e.Message)
}

// IOError 套接字故障
type IOError struct {
	Host string
	Port int
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s:%d - %v", e.Host, e.Port, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// 对端错误正文是幂等性判断的契约，集中在这里做子串匹配

// IsAlreadyOwner 目标节点已是槽的拥有者
// importing 标记重放时出现，视为该步已完成
func IsAlreadyOwner(err error) bool {
	return replyContains(err, "already the owner of")
}

// IsNotOwner 源节点已不再拥有槽
// migrating 标记重放时出现，视为该步已完成
func IsNotOwner(err error) bool {
	return replyContains(err, "not the owner of")
}

// IsUnknownNode 节点不认识被 forget 的 id
func IsUnknownNode(err error) bool {
	return replyContains(err, "Unknown node")
}

// IsContainingKeys reset 被拒绝，节点仍持有数据
func IsContainingKeys(err error) bool {
	return replyContains(err, "containing keys")
}

func replyContains(err error, substr string) bool {
	re, ok := err.(*ReplyError)
	return ok && strings.Contains(re.Body, substr)
}
