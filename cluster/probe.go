package cluster

import (
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-100-precent/LingCtl/connection"
	"github.com/code-100-precent/LingCtl/protocol"
)

/*
 * ============================================================================
 * 状态探测
 * ============================================================================
 *
 * 同步谓词，基于已建立的命令通道：
 * - 未入集群检查：cluster_enabled:1 且 cluster_state:fail 且已分配槽为 0，
 *   用于候选节点加入或建群之前
 * - 已入集群检查：cluster_enabled:1 且 cluster_state:ok，
 *   用于已知在运行中集群里的节点
 * - 收敛轮询：分配槽之后等待 gossip 收敛到 ok / 16384
 */

var (
	patClusterEnabled      = regexp.MustCompile(`cluster_enabled:([01])`)
	patClusterState        = regexp.MustCompile(`cluster_state:([a-z]+)`)
	patClusterSlotAssigned = regexp.MustCompile(`cluster_slots_assigned:([0-9]+)`)
)

// ensureClusterEnabled 校验节点开启了集群模式
func ensureClusterEnabled(c *connection.Connection) error {
	reply, err := c.SendRaw(protocol.CmdInfo)
	if err != nil {
		return err
	}
	logrus.Debugf("Ask `info` Rsp %s", reply.Text())
	m := patClusterEnabled.FindStringSubmatch(reply.Text())
	if m == nil || m[1] != "1" {
		return c.StatusErr("Node %s:%d is not cluster enabled", c.Host, c.Port)
	}
	return nil
}

// clusterInfoStatus 读取 cluster info 中的状态与已分配槽数
func clusterInfoStatus(c *connection.Connection) (state string, assigned int, err error) {
	reply, err := c.SendRaw(protocol.CmdClusterInfo)
	if err != nil {
		return "", 0, err
	}
	logrus.Debugf("Ask `cluster info` Rsp %s", reply.Text())
	sm := patClusterState.FindStringSubmatch(reply.Text())
	am := patClusterSlotAssigned.FindStringSubmatch(reply.Text())
	if sm == nil || am == nil {
		return "", 0, c.StatusErr("Unexpected reply to `cluster info`: %s", reply.Text())
	}
	assigned, _ = strconv.Atoi(am[1])
	return sm[1], assigned, nil
}

// ensureClusterStatusUnset 校验节点尚未加入任何集群
func ensureClusterStatusUnset(c *connection.Connection) error {
	if err := ensureClusterEnabled(c); err != nil {
		return err
	}
	state, assigned, err := clusterInfoStatus(c)
	if err != nil {
		return err
	}
	if state != "fail" || assigned != 0 {
		return c.StatusErr("Node %s:%d is already in a cluster", c.Host, c.Port)
	}
	return nil
}

// ensureClusterStatusSet 校验节点已在运行中的集群里
func ensureClusterStatusSet(c *connection.Connection) error {
	if err := ensureClusterEnabled(c); err != nil {
		return err
	}
	state, _, err := clusterInfoStatus(c)
	if err != nil {
		return err
	}
	if state != "ok" {
		return c.StatusErr("Node %s:%d is not in a cluster", c.Host, c.Port)
	}
	return nil
}

// 节点先应答客户端、后切换 cluster_state，
// 分配槽之后要轮询等待状态就绪
func pollCheckStatus(c *connection.Connection) error {
	return retryCall(64, 500*time.Millisecond, func() error {
		state, assigned, err := clusterInfoStatus(c)
		if err != nil {
			return err
		}
		if state != "ok" || assigned != CLUSTER_SLOTS {
			return c.StatusErr("Unexpected status: cluster_state:%s cluster_slots_assigned:%d",
				state, assigned)
		}
		return nil
	})
}
