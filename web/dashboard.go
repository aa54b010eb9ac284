package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/code-100-precent/LingCtl/cluster"
	"github.com/code-100-precent/LingCtl/connection"
	"github.com/code-100-precent/LingCtl/protocol"
)

/*
 * ============================================================================
 * 状态面板 - 只读 HTTP 视图
 * ============================================================================
 *
 * 每个请求都新开一条到种子节点的命令通道，读完即关：
 * 面板自身不持有任何集群状态。
 *
 * - GET /nodes  解析后的 gossip 拓扑
 * - GET /info   cluster info 的键值对
 * - GET /slots  各主节点的槽数与槽区间
 */

// NodeView 单个节点的展示形态
type NodeView struct {
	NodeID    string   `json:"node_id"`
	Addr      string   `json:"addr"`
	Flags     []string `json:"flags"`
	MasterID  string   `json:"master_id,omitempty"`
	SlotCount int      `json:"slot_count"`
	Slots     []string `json:"slots,omitempty"`
	Migrating bool     `json:"migrating"`
}

// slotRanges 把升序槽号压缩为区间表示
func slotRanges(slots []int) []string {
	var out []string
	for i := 0; i < len(slots); {
		j := i
		for j+1 < len(slots) && slots[j+1] == slots[j]+1 {
			j++
		}
		if i == j {
			out = append(out, fmt.Sprintf("%d", slots[i]))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", slots[i], slots[j]))
		}
		i = j + 1
	}
	return out
}

// NewRouter 构建面板路由，seed 为种子节点地址
func NewRouter(seed cluster.Address) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/nodes", func(c *gin.Context) {
		nodes, _, err := cluster.ListNodes(seed.Host, seed.Port, seed.Host, nil)
		defer func() {
			for _, n := range nodes {
				n.Close()
			}
		}()
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		views := make([]NodeView, 0, len(nodes))
		for _, n := range nodes {
			views = append(views, NodeView{
				NodeID:    n.NodeID,
				Addr:      n.Addr(),
				Flags:     n.Flags,
				MasterID:  n.MasterID,
				SlotCount: len(n.AssignedSlots),
				Slots:     slotRanges(n.AssignedSlots),
				Migrating: n.SlotsMigrating,
			})
		}
		c.JSON(http.StatusOK, views)
	})

	router.GET("/info", func(c *gin.Context) {
		conn, err := connection.New(seed.Host, seed.Port)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		defer conn.Close()
		reply, err := conn.SendRaw(protocol.CmdClusterInfo)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		info := make(map[string]string)
		for _, line := range strings.Split(reply.Text(), "\n") {
			line = strings.TrimRight(line, "\r")
			if k, v, ok := strings.Cut(line, ":"); ok {
				info[k] = v
			}
		}
		c.JSON(http.StatusOK, info)
	})

	router.GET("/slots", func(c *gin.Context) {
		masters, _, err := cluster.ListMasters(seed.Host, seed.Port, seed.Host)
		defer func() {
			for _, n := range masters {
				n.Close()
			}
		}()
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		out := make(map[string]gin.H, len(masters))
		for _, n := range masters {
			out[n.Addr()] = gin.H{
				"node_id":    n.NodeID,
				"slot_count": len(n.AssignedSlots),
				"slots":      slotRanges(n.AssignedSlots),
			}
		}
		c.JSON(http.StatusOK, out)
	})

	return router
}

// Serve 启动面板并阻塞运行
func Serve(seed cluster.Address, listen string) error {
	return NewRouter(seed).Run(listen)
}
