package protocol

import (
	"fmt"
	"strconv"
)

/*
 * ============================================================================
 * 请求编码 - Multi-bulk 命令打包
 * ============================================================================
 *
 * 请求编码为长度前缀的 multi-bulk 帧：*N\r\n$L\r\narg\r\n…
 *
 * 当累积缓冲或下一个参数超过约 6KB 时切换到流式路径：
 * 先输出已累积的部分缓冲，再单独输出超大参数，
 * 避免为大 MIGRATE 批次构造大块连续内存。
 */

// squashThreshold 流式切换阈值（字节）
const squashThreshold = 6000

// EncodeArg 把一个命令参数编码为字节串
// 整数和浮点数转为文本形式，字节串原样透传，文本按 UTF-8 编码
func EncodeArg(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case int:
		return []byte(strconv.Itoa(v))
	case int64:
		return []byte(strconv.FormatInt(v, 10))
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64))
	default:
		return []byte(fmt.Sprint(v))
	}
}

// SquashCommands 把多条命令压缩为一组待发送缓冲
// 返回值按顺序逐块发送即构成完整的 multi-bulk 帧序列
func SquashCommands(commands [][]interface{}) [][]byte {
	output := make([][]byte, 0, 1)
	buf := make([]byte, 0, 256)

	for _, c := range commands {
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(c)), 10)
		buf = append(buf, '\r', '\n')

		for _, raw := range c {
			arg := EncodeArg(raw)
			if len(buf) > squashThreshold || len(arg) > squashThreshold {
				header := append(buf, '$')
				header = strconv.AppendInt(header, int64(len(arg)), 10)
				header = append(header, '\r', '\n')
				output = append(output, header)
				output = append(output, arg)
				buf = []byte("\r\n")
			} else {
				buf = append(buf, '$')
				buf = strconv.AppendInt(buf, int64(len(arg)), 10)
				buf = append(buf, '\r', '\n')
				buf = append(buf, arg...)
				buf = append(buf, '\r', '\n')
			}
		}
	}
	output = append(output, buf)
	return output
}

// PackCommand 打包单条命令
func PackCommand(args ...interface{}) [][]byte {
	return SquashCommands([][]interface{}{args})
}

// 常用命令的预打包帧，避免每次调用时重新编码
var (
	CmdPing         = PackCommand("ping")
	CmdInfo         = PackCommand("info")
	CmdClusterNodes = PackCommand("cluster", "nodes")
	CmdClusterInfo  = PackCommand("cluster", "info")
)
