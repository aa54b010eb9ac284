package utils

import "time"

/*
 * ============================================================================
 * 配置管理
 * ============================================================================
 *
 * 从环境变量和 .env 文件读取工具配置。
 * 优先级：命令行参数 > 环境变量 > 默认值。
 */

// CtlConfig 管理工具配置
type CtlConfig struct {
	// 连接与读写超时
	ConnectTimeout time.Duration `env:"LINGCTL_CONNECT_TIMEOUT"`

	// 每条 addslots 命令携带的最大槽数
	MaxSlots int `env:"LINGCTL_MAX_SLOTS"`

	// 日志级别
	LogLevel string `env:"LINGCTL_LOG_LEVEL"`

	// 状态面板监听地址
	DashboardListen string `env:"LINGCTL_DASHBOARD_LISTEN"`
}

// LoadCtlConfig 加载工具配置
func LoadCtlConfig() *CtlConfig {
	return &CtlConfig{
		ConnectTimeout:  time.Duration(GetIntEnvWithDefault("LINGCTL_CONNECT_TIMEOUT", 5000)) * time.Millisecond,
		MaxSlots:        int(GetIntEnvWithDefault("LINGCTL_MAX_SLOTS", 1024)),
		LogLevel:        GetEnvWithDefault("LINGCTL_LOG_LEVEL", "info"),
		DashboardListen: GetEnvWithDefault("LINGCTL_DASHBOARD_LISTEN", ":8080"),
	}
}
