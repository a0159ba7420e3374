package config

import "fmt"

var (
	Version    string = "dev"
	CommitHash string = ""
	BuildTime  string = ""
)

// IsProduction 判断是否为生产环境
// 生产环境：Version 不为 "dev" 且 CommitHash 不为空
func IsProduction() bool {
	return Version != "dev" && CommitHash != ""
}

// VersionString 返回可读的版本信息
func VersionString() string {
	if CommitHash == "" {
		return Version
	}
	if BuildTime == "" {
		return fmt.Sprintf("%s (%s)", Version, CommitHash)
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, CommitHash, BuildTime)
}
