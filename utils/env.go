package utils

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

/*
 * ============================================================================
 * .env 文件解析工具
 * ============================================================================
 *
 * 从环境变量和 .env 文件读取配置。
 * 文件由 godotenv 加载进程环境；已存在的环境变量优先，
 * 文件里的同名项不覆盖。
 */

// LoadEnv 加载 .env 文件
// env 参数用于指定环境（如 "dev", "prod"），对应 .env.dev, .env.prod
// 如果 env 为空，则加载 .env；文件不存在不报错（允许只使用环境变量）
func LoadEnv(env string) error {
	envFile := ".env"
	if env != "" {
		envFile = ".env." + env
	}

	if err := godotenv.Load(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// GetEnv 获取环境变量值
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvWithDefault 获取环境变量值，如果不存在则返回默认值
func GetEnvWithDefault(key, defaultValue string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return defaultValue
}

// LookupEnv 查找环境变量，返回值和是否存在
func LookupEnv(key string) (value string, found bool) {
	return os.LookupEnv(key)
}

// GetBoolEnv 获取布尔类型环境变量
func GetBoolEnv(key string) bool {
	return GetBoolEnvWithDefault(key, false)
}

// GetBoolEnvWithDefault 获取布尔类型环境变量，带默认值
func GetBoolEnvWithDefault(key string, defaultValue bool) bool {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}

	val, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return defaultValue
	}

	return val
}

// GetIntEnv 获取整数类型环境变量
func GetIntEnv(key string) int64 {
	return GetIntEnvWithDefault(key, 0)
}

// GetIntEnvWithDefault 获取整数类型环境变量，带默认值
func GetIntEnvWithDefault(key string, defaultValue int64) int64 {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}

	val, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

// GetFloatEnv 获取浮点数类型环境变量
func GetFloatEnv(key string) float64 {
	return GetFloatEnvWithDefault(key, 0)
}

// GetFloatEnvWithDefault 获取浮点数类型环境变量，带默认值
func GetFloatEnvWithDefault(key string, defaultValue float64) float64 {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}

	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}

	return val
}
