// Package natssink 把诊断事件以 JSON 发布到 NATS 主题。
package natssink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"ormbatch/batch/diagnostics"
	"ormbatch/logging"
)

// publisher nats.Conn 中用到的方法子集
type publisher interface {
	Publish(subject string, data []byte) error
}

// Config NATS 出口配置
type Config struct {
	// Conn 为空时连接 URL（默认 nats.DefaultURL）
	Conn    *nats.Conn
	URL     string
	Subject string
	Logger  logging.Logger
}

// Sink NATS 出口
type Sink struct {
	pub     publisher
	subject string
	logger  logging.Logger
}

var _ diagnostics.Sink = (*Sink)(nil)

// New 创建出口；未提供 Conn 时建立新连接
func New(cfg Config) (*Sink, error) {
	if cfg.Subject == "" {
		cfg.Subject = "ormbatch.diagnostics"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.Component("diagnostics.nats"))
	}
	conn := cfg.Conn
	if conn == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		c, err := nats.Connect(url, nats.Name("ormbatch-diagnostics"))
		if err != nil {
			return nil, err
		}
		conn = c
	}
	return &Sink{pub: conn, subject: cfg.Subject, logger: cfg.Logger}, nil
}

type payload struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Operation   string `json:"operation"`
	Provider    string `json:"provider,omitempty"`
	Message     string `json:"message"`
	SQL         string `json:"sql,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Rows        int64  `json:"rows,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

func (s *Sink) Emit(ctx context.Context, e diagnostics.Event) {
	data, err := json.Marshal(payload{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Operation:   e.Operation,
		Provider:    e.Provider,
		Message:     e.Message,
		SQL:         e.SQL,
		Fingerprint: e.Fingerprint,
		Rows:        e.Rows,
		DurationMS:  e.Duration.Milliseconds(),
		Timestamp:   e.Time.UnixNano(),
	})
	if err != nil {
		s.logger.Warn(ctx, "[natssink] encode failed", logging.Error(err))
		return
	}
	if err := s.pub.Publish(s.subject+"."+subjectToken(e), data); err != nil {
		s.logger.Warn(ctx, "[natssink] publish failed", logging.Error(err), logging.String("subject", s.subject))
	}
}

// subjectToken 按事件类型分主题，空类型归入 unknown
func subjectToken(e diagnostics.Event) string {
	if e.Kind == "" {
		return "unknown"
	}
	return string(e.Kind)
}

// decode 测试与消费方使用
func decode(data []byte) (diagnostics.Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return diagnostics.Event{}, err
	}
	return diagnostics.Event{
		ID:          p.ID,
		Kind:        diagnostics.Kind(p.Kind),
		Operation:   p.Operation,
		Provider:    p.Provider,
		Message:     p.Message,
		SQL:         p.SQL,
		Fingerprint: p.Fingerprint,
		Rows:        p.Rows,
		Duration:    time.Duration(p.DurationMS) * time.Millisecond,
		Time:        time.Unix(0, p.Timestamp),
	}, nil
}
