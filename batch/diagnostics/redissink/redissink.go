// Package redissink 把诊断事件写入 Redis Stream（XADD）。
package redissink

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ormbatch/batch/diagnostics"
	"ormbatch/logging"
)

// client go-redis 中用到的命令子集，便于测试替换
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Config Redis 出口配置
type Config struct {
	// Client 为空时按 Addr 等字段新建连接
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	Stream string
	// MaxLen 流的近似长度上限，0 表示不裁剪
	MaxLen int64
	Logger logging.Logger
}

// Sink Redis Stream 出口
type Sink struct {
	client client
	stream string
	maxLen int64
	logger logging.Logger
}

var _ diagnostics.Sink = (*Sink)(nil)

// New 创建出口
func New(cfg Config) *Sink {
	if cfg.Stream == "" {
		cfg.Stream = "ormbatch:diagnostics"
	}
	var cl client = cfg.Client
	if cfg.Client == nil {
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.Component("diagnostics.redis"))
	}
	return &Sink{client: cl, stream: cfg.Stream, maxLen: cfg.MaxLen, logger: cfg.Logger}
}

func (s *Sink) Emit(ctx context.Context, e diagnostics.Event) {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: encode(e),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.logger.Warn(ctx, "[redissink] xadd failed", logging.Error(err), logging.String("stream", s.stream))
	}
}

func encode(e diagnostics.Event) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"kind":        string(e.Kind),
		"operation":   e.Operation,
		"provider":    e.Provider,
		"message":     e.Message,
		"sql":         e.SQL,
		"fingerprint": e.Fingerprint,
		"rows":        strconv.FormatInt(e.Rows, 10),
		"duration_ms": strconv.FormatInt(e.Duration.Milliseconds(), 10),
		"timestamp":   strconv.FormatInt(e.Time.UnixNano(), 10),
	}
}
