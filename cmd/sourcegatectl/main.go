// sourcegatectl 是 Source 健康状态的运维命令行工具。
//
// 用法:
//
//	sourcegatectl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	--redis-addr       Redis 地址（与 --mongo-uri 二选一）
//	--redis-db         Redis 库编号 (默认: 0)
//	--key-prefix       Redis 记录 key 前缀 (默认: sourcegate:health:)
//	--mongo-uri        MongoDB 连接串
//	--mongo-database   MongoDB 数据库名 (默认: sourcegate)
//	-t, --timeout      命令超时时间 (默认: 10s)
//
// 命令:
//
//	list               列出全部 Source 的健康状态
//	get <source-id>    查看单个 Source 的健康快照
//	reset <source-id>  重置 Source 的健康记录（--by 记录操作人）
//
// 退出码:
//
//	0: 命令执行成功
//	1: 命令执行失败
//	2: 参数错误（缺少存储后端、缺少 source-id 等）
//
// 示例:
//
//	sourcegatectl --redis-addr 127.0.0.1:6379 list
//	sourcegatectl --redis-addr 127.0.0.1:6379 get S1
//	sourcegatectl --mongo-uri mongodb://127.0.0.1:27017 reset --by ops@carhire S1
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认超时时间。
const defaultTimeout = 10 * time.Second

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "sourcegatectl",
		Usage:   "Source 健康状态运维工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "redis-addr",
				Usage: "Redis 地址",
			},
			&cli.IntFlag{
				Name:  "redis-db",
				Usage: "Redis 库编号",
			},
			&cli.StringFlag{
				Name:  "key-prefix",
				Usage: "Redis 记录 key 前缀",
			},
			&cli.StringFlag{
				Name:  "mongo-uri",
				Usage: "MongoDB 连接串",
			},
			&cli.StringFlag{
				Name:  "mongo-database",
				Usage: "MongoDB 数据库名",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
	}
}

func run() int {
	app := createApp()

	if err := app.Run(context.Background(), os.Args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
