package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/code-100-precent/LingCtl/cluster"
	"github.com/code-100-precent/LingCtl/connection"
	"github.com/code-100-precent/LingCtl/utils"
	"github.com/code-100-precent/LingCtl/web"
)

/*
 * ============================================================================
 * lingctl - 集群管理工具入口
 * ============================================================================
 *
 * 面向运维的控制面命令，每次调用完成一个操作后退出：
 *
 *   create / start / add-node / replicate / del-node / shutdown /
 *   fix / rescue / migrate / list / execute / dashboard
 *
 * 地址参数一律为 HOST:PORT；退出码 0 表示成功。
 */

func parseAddrArg(s string) cluster.Address {
	addr, err := cluster.ParseAddress(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return addr
}

// parseSlotArgs 解析槽参数，接受 N 和 N-M 区间
func parseSlotArgs(args []string) ([]int, error) {
	var slots []int
	for _, rg := range args {
		if i := strings.IndexByte(rg, '-'); i >= 0 {
			begin, err := strconv.Atoi(rg[:i])
			if err != nil {
				return nil, fmt.Errorf("invalid slot range %q", rg)
			}
			end, err := strconv.Atoi(rg[i+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid slot range %q", rg)
			}
			for s := begin; s <= end; s++ {
				slots = append(slots, s)
			}
			continue
		}
		s, err := strconv.Atoi(rg)
		if err != nil {
			return nil, fmt.Errorf("invalid slot %q", rg)
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// NewCreateCommand 'create' 命令
func NewCreateCommand(cfg *utils.CtlConfig) *cobra.Command {
	var maxSlots int

	cmd := &cobra.Command{
		Use:   "create HOST:PORT [HOST:PORT ...]",
		Short: "用一组空节点建立新集群",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs := make([]cluster.Address, 0, len(args))
			for _, a := range args {
				addrs = append(addrs, parseAddrArg(a))
			}
			if len(addrs) == 1 {
				return cluster.StartCluster(addrs[0].Host, addrs[0].Port, maxSlots)
			}
			return cluster.Create(addrs, maxSlots)
		},
	}
	cmd.Flags().IntVar(&maxSlots, "max-slots", cfg.MaxSlots, "每条 addslots 命令携带的最大槽数")
	return cmd
}

// NewStartCommand 'start' 命令
func NewStartCommand(cfg *utils.CtlConfig) *cobra.Command {
	var maxSlots int

	cmd := &cobra.Command{
		Use:   "start HOST:PORT",
		Short: "把单个空节点启动为独享全部槽的集群",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			return cluster.StartCluster(addr.Host, addr.Port, maxSlots)
		},
	}
	cmd.Flags().IntVar(&maxSlots, "max-slots", cfg.MaxSlots, "每条 addslots 命令携带的最大槽数")
	return cmd
}

// NewAddNodeCommand 'add-node' 命令
func NewAddNodeCommand() *cobra.Command {
	var noRebalance bool

	cmd := &cobra.Command{
		Use:   "add-node CLUSTER_HOST:PORT NEW_HOST:PORT",
		Short: "节点入群，默认入群后重新均摊槽",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clst := parseAddrArg(args[0])
			newin := parseAddrArg(args[1])
			if noRebalance {
				return cluster.AddNode(clst.Host, clst.Port, newin.Host, newin.Port)
			}
			return cluster.JoinCluster(clst.Host, clst.Port, newin.Host, newin.Port, nil)
		},
	}
	cmd.Flags().BoolVar(&noRebalance, "no-rebalance", false, "只入群，不移动任何槽")
	return cmd
}

// NewReplicateCommand 'replicate' 命令
func NewReplicateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replicate MASTER_HOST:PORT SLAVE_HOST:PORT",
		Short: "候选节点入群并复制指定主节点",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			master := parseAddrArg(args[0])
			slave := parseAddrArg(args[1])
			return cluster.Replicate(master.Host, master.Port, slave.Host, slave.Port)
		},
	}
}

// NewDelNodeCommand 'del-node' 命令
func NewDelNodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "del-node HOST:PORT",
		Short: "把节点迁空并移出集群",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			return cluster.DelNode(addr.Host, addr.Port)
		},
	}
}

// NewShutdownCommand 'shutdown' 命令
func NewShutdownCommand() *cobra.Command {
	var ignoreFailed bool

	cmd := &cobra.Command{
		Use:   "shutdown HOST:PORT",
		Short: "关停只剩单个节点的集群",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			return cluster.ShutdownCluster(addr.Host, addr.Port, ignoreFailed)
		},
	}
	cmd.Flags().BoolVar(&ignoreFailed, "ignore-failed", false, "gossip 表里的故障节点不计入节点数")
	return cmd
}

// NewFixCommand 'fix' 命令
func NewFixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fix HOST:PORT",
		Short: "修复残留的槽迁移标记",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			return cluster.FixMigrating(addr.Host, addr.Port)
		},
	}
}

// NewRescueCommand 'rescue' 命令
func NewRescueCommand(cfg *utils.CtlConfig) *cobra.Command {
	var maxSlots int

	cmd := &cobra.Command{
		Use:   "rescue HOST:PORT SUBST_HOST:PORT",
		Short: "用替补节点接管失主的槽",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			subst := parseAddrArg(args[1])
			return cluster.RescueCluster(addr.Host, addr.Port, subst.Host, subst.Port, maxSlots)
		},
	}
	cmd.Flags().IntVar(&maxSlots, "max-slots", cfg.MaxSlots, "每条 addslots 命令携带的最大槽数")
	return cmd
}

// NewMigrateCommand 'migrate' 命令
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate SRC_HOST:PORT DST_HOST:PORT SLOT[-SLOT] [...]",
		Short: "在两个主节点之间迁移指定槽",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := parseAddrArg(args[0])
			dst := parseAddrArg(args[1])
			slots, err := parseSlotArgs(args[2:])
			if err != nil {
				return err
			}
			return cluster.MigrateSlots(src.Host, src.Port, dst.Host, dst.Port, slots)
		},
	}
}

// NewListCommand 'list' 命令
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list HOST:PORT",
		Short: "列出集群拓扑",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])
			nodes, _, err := cluster.ListNodes(addr.Host, addr.Port, addr.Host, nil)
			for _, n := range nodes {
				defer n.Close()
			}
			if err != nil {
				return err
			}
			for _, n := range nodes {
				role := "master"
				if n.IsSlave() {
					role = "slave of " + n.MasterID
				}
				fmt.Printf("%s %s %s %d slots\n", n.NodeID, n.Addr(), role, len(n.AssignedSlots))
			}
			return nil
		},
	}
}

// NewExecuteCommand 'execute' 命令
func NewExecuteCommand() *cobra.Command {
	var masterOnly, slaveOnly bool

	cmd := &cobra.Command{
		Use:   "execute HOST:PORT [--master-only|--slave-only] -- CMD [ARG ...]",
		Short: "向每个节点广播执行同一条命令",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := parseAddrArg(args[0])

			filter := cluster.FilterAll
			if masterOnly && slaveOnly {
				return fmt.Errorf("--master-only and --slave-only are exclusive")
			}
			if masterOnly {
				filter = cluster.FilterMaster
			} else if slaveOnly {
				filter = cluster.FilterSlave
			}

			command := make([]interface{}, 0, len(args)-1)
			for _, a := range args[1:] {
				command = append(command, a)
			}

			results, err := cluster.BroadcastExecute(addr.Host, addr.Port, filter, command...)
			if results == nil && err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("=== %s %s\n", r.Node.NodeID, r.Node.Addr())
				if r.Err != nil {
					fmt.Printf("error: %v\n", r.Err)
					continue
				}
				fmt.Println(r.Reply.Text())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&masterOnly, "master-only", false, "只发给主节点")
	cmd.Flags().BoolVar(&slaveOnly, "slave-only", false, "只发给从节点")
	return cmd
}

// NewDashboardCommand 'dashboard' 命令
func NewDashboardCommand(cfg *utils.CtlConfig) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "dashboard HOST:PORT",
		Short: "启动只读状态面板",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return web.Serve(parseAddrArg(args[0]), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", cfg.DashboardListen, "面板监听地址")
	return cmd
}

func main() {
	utils.LoadEnv("")
	cfg := utils.LoadCtlConfig()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	connection.SetDefaultTimeout(cfg.ConnectTimeout)

	root := &cobra.Command{
		Use:           "lingctl",
		Short:         "LingCache 集群管理工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		NewCreateCommand(cfg),
		NewStartCommand(cfg),
		NewAddNodeCommand(),
		NewReplicateCommand(),
		NewDelNodeCommand(),
		NewShutdownCommand(),
		NewFixCommand(),
		NewRescueCommand(cfg),
		NewMigrateCommand(),
		NewListCommand(),
		NewExecuteCommand(),
		NewDashboardCommand(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
