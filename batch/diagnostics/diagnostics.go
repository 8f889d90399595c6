// Package diagnostics 批量引擎的可插拔诊断出口：提供者选择、回退与执行的语句。
//
// 诊断不影响操作结果：Sink 不返回错误，投递失败由 Sink 自行记录。
package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"ormbatch/logging"
)

// Kind 事件类型
type Kind string

const (
	KindProviderSelected Kind = "provider_selected"
	KindFallback         Kind = "fallback"
	KindStatement        Kind = "statement"
	KindBulk             Kind = "bulk"
)

// Event 一条诊断事件
type Event struct {
	ID        string
	Kind      Kind
	Operation string
	Provider  string
	Message   string

	SQL         string
	Fingerprint string
	Rows        int64
	Duration    time.Duration
	Time        time.Time
}

// NewEvent 创建带 ID 与时间戳的事件
func NewEvent(kind Kind, operation, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Operation: operation,
		Message:   message,
		Time:      time.Now(),
	}
}

// WithSQL 附加语句文本与指纹
func (e Event) WithSQL(sql string) Event {
	e.SQL = sql
	e.Fingerprint = Fingerprint(sql)
	return e
}

// Fingerprint 语句指纹：折叠空白后的 xxhash64，十六进制
func Fingerprint(sql string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(strings.Fields(sql), " ")))
}

// Sink 诊断出口
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Nop 丢弃全部事件
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// LoggerSink 写入日志：回退为 Warn，其余为 Debug
type LoggerSink struct {
	logger logging.Logger
}

// NewLoggerSink logger 为 nil 时使用全局日志器
func NewLoggerSink(logger logging.Logger) *LoggerSink {
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.Component("batch"))
	}
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(ctx context.Context, e Event) {
	fields := []logging.Field{
		logging.String("kind", string(e.Kind)),
		logging.String("operation", e.Operation),
	}
	if e.Provider != "" {
		fields = append(fields, logging.String("provider", e.Provider))
	}
	if e.Fingerprint != "" {
		fields = append(fields, logging.String("fingerprint", e.Fingerprint))
	}
	if e.Rows > 0 {
		fields = append(fields, logging.Int64("rows", e.Rows))
	}
	if e.Duration > 0 {
		fields = append(fields, logging.Duration("duration", e.Duration))
	}

	if e.Kind == KindFallback {
		s.logger.Warn(ctx, e.Message, fields...)
		return
	}
	s.logger.Debug(ctx, e.Message, fields...)
}

// MemorySink 保存事件，测试使用
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events 事件副本
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Of 指定类型的事件
func (s *MemorySink) Of(kind Kind) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Messages 全部事件消息
func (s *MemorySink) Messages() []string {
	events := s.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}

// Multi 依次投递到多个出口；nil 被忽略
func Multi(sinks ...Sink) Sink {
	var list []Sink
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range list {
			s.Emit(ctx, e)
		}
	})
}
