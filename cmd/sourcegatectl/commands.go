package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/sourcegate/pkg/health/xsource"
	"github.com/omeyang/sourcegate/pkg/storage/xhealthstore"
)

// usageError 表示参数错误，run() 将其映射为退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createListCommand(),
		createGetCommand(),
		createResetCommand(),
	}
}

func createListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "列出全部 Source 的健康状态",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withMonitor(ctx, cmd, func(ctx context.Context, m xsource.Monitor) error {
				snaps, err := m.ListAll(ctx)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SOURCE\tSTATUS\tSAMPLES\tSLOW RATE\tSTRIKES\tLEVEL\tEXCLUDED UNTIL")
				for _, s := range snaps {
					fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%d\t%d\t%s\n",
						s.SourceID, s.Status, s.SampleCount, s.SlowRate,
						s.StrikeCount, s.BackoffLevel, formatTime(s.ExcludedUntil))
				}
				return w.Flush()
			})
		},
	}
}

func createGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "查看单个 Source 的健康快照",
		ArgsUsage: "<source-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sourceID := cmd.Args().First()
			if sourceID == "" {
				return &usageError{msg: "缺少 source-id 参数"}
			}
			return withMonitor(ctx, cmd, func(ctx context.Context, m xsource.Monitor) error {
				snap, err := m.Get(ctx, sourceID)
				if err != nil {
					return err
				}

				fmt.Printf("source:         %s\n", snap.SourceID)
				fmt.Printf("status:         %s\n", snap.Status)
				fmt.Printf("healthy:        %t\n", snap.Healthy)
				fmt.Printf("samples:        %d\n", snap.SampleCount)
				fmt.Printf("slow samples:   %d\n", snap.SlowCount)
				fmt.Printf("slow rate:      %.3f\n", snap.SlowRate)
				fmt.Printf("strikes:        %d\n", snap.StrikeCount)
				fmt.Printf("backoff level:  %d\n", snap.BackoffLevel)
				fmt.Printf("excluded until: %s\n", formatTime(snap.ExcludedUntil))
				fmt.Printf("last strike:    %s\n", formatTime(snap.LastStrikeAt))
				if snap.LastResetBy != "" {
					fmt.Printf("last reset:     %s by %s\n", formatTime(snap.LastResetAt), snap.LastResetBy)
				}
				return nil
			})
		},
	}
}

func createResetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "重置 Source 的健康记录",
		ArgsUsage: "<source-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "by",
				Usage: "操作人标识（写入审计字段）",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sourceID := cmd.Args().First()
			if sourceID == "" {
				return &usageError{msg: "缺少 source-id 参数"}
			}
			return withMonitor(ctx, cmd, func(ctx context.Context, m xsource.Monitor) error {
				if err := m.Reset(ctx, sourceID, cmd.String("by")); err != nil {
					return err
				}
				fmt.Printf("source %s 已重置\n", sourceID)
				return nil
			})
		},
	}
}

// withMonitor 根据全局选项构建存储与 Monitor，执行 fn 后清理资源。
func withMonitor(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, m xsource.Monitor) error) error {
	store, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // 命令行工具退出前的清理

	m, err := xsource.New(store)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck // 同上

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	return fn(ctx, m)
}

// buildStore 根据全局选项选择存储后端。
func buildStore(cmd *cli.Command) (xhealthstore.Store, error) {
	redisAddr := cmd.String("redis-addr")
	mongoURI := cmd.String("mongo-uri")

	switch {
	case redisAddr != "" && mongoURI != "":
		return nil, &usageError{msg: "--redis-addr 与 --mongo-uri 只能指定一个"}
	case redisAddr != "":
		client := redis.NewClient(&redis.Options{
			Addr: redisAddr,
			DB:   cmd.Int("redis-db"),
		})
		var opts []xhealthstore.RedisOption
		if prefix := cmd.String("key-prefix"); prefix != "" {
			opts = append(opts, xhealthstore.WithKeyPrefix(prefix))
		}
		return xhealthstore.NewRedis(client, opts...)
	case mongoURI != "":
		client, err := mongo.Connect(mongoopts.Client().ApplyURI(mongoURI))
		if err != nil {
			return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
		}
		var opts []xhealthstore.MongoOption
		if db := cmd.String("mongo-database"); db != "" {
			opts = append(opts, xhealthstore.WithDatabase(db))
		}
		return xhealthstore.NewMongo(client, opts...)
	default:
		return nil, &usageError{msg: "必须指定 --redis-addr 或 --mongo-uri"}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
