// Package reader 把对象序列适配为按序号取列的只进行游标，供批量传输 API 消费。
//
// 游标不缓冲行：除输入序列本身外只持有当前行与至多一行预读。
// 只支持一次前向遍历，用完即弃。
package reader

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/jackc/pgx/v5"

	"ormbatch/batch/mapping"
)

// AccessorResolver 为列解析访问器（*mapping.MappingCatalog 实现）
type AccessorResolver interface {
	AccessorFor(t reflect.Type, col mapping.ColumnMapping) (mapping.Accessor, error)
}

// Source 与元素类型无关的游标视图，提供者只依赖它
type Source interface {
	FieldCount() int
	Names() []string
	Columns() []mapping.ColumnMapping
	More() bool
	Read() bool
	GetValue(ordinal int) any
	Values() []any
	Rows() int64
	Err() error
	Close() error
	// Batch 返回至多 n 行的分批视图
	Batch(n int) Batch
}

// Batch 分批视图；满足 pgx.CopyFromSource
type Batch interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Rows() int
}

var (
	_ Source = (*Cursor[struct{}])(nil)
	_ Batch  = (*Window[struct{}])(nil)
)

// Cursor 对象序列上的行游标
type Cursor[T any] struct {
	next func() (T, bool)
	stop func()

	columns   []mapping.ColumnMapping
	accessors []mapping.Accessor

	current reflect.Value
	pending *T
	hasRow  bool
	done    bool
	closed  bool
	rows    int64
	err     error
}

// New 创建游标；访问器在此一次性解析完毕
func New[T any](items iter.Seq[T], columns []mapping.ColumnMapping, resolver AccessorResolver) (*Cursor[T], error) {
	if items == nil {
		return nil, fmt.Errorf("reader: nil item sequence")
	}
	t := reflect.TypeFor[T]()
	accessors := make([]mapping.Accessor, len(columns))
	for i, col := range columns {
		acc, err := resolver.AccessorFor(t, col)
		if err != nil {
			return nil, err
		}
		accessors[i] = acc
	}

	next, stop := iter.Pull(items)
	return &Cursor[T]{
		next:      next,
		stop:      stop,
		columns:   columns,
		accessors: accessors,
	}, nil
}

// FromSlice 以切片创建游标
func FromSlice[T any](items []T, columns []mapping.ColumnMapping, resolver AccessorResolver) (*Cursor[T], error) {
	return New(func(yield func(T) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}, columns, resolver)
}

// FieldCount 列数
func (c *Cursor[T]) FieldCount() int { return len(c.columns) }

// Names 数据库列名（按序号）
func (c *Cursor[T]) Names() []string {
	names := make([]string, len(c.columns))
	for i, col := range c.columns {
		names[i] = col.DatabaseColumn
	}
	return names
}

// Columns 列映射（按序号）
func (c *Cursor[T]) Columns() []mapping.ColumnMapping { return c.columns }

// More 是否还有下一行（必要时预读一行）
func (c *Cursor[T]) More() bool {
	if c.pending != nil {
		return true
	}
	if c.done || c.closed {
		return false
	}
	item, ok := c.next()
	if !ok {
		c.done = true
		return false
	}
	c.pending = &item
	return true
}

// Read 前进一行，到达末尾返回 false
func (c *Cursor[T]) Read() bool {
	if c.closed {
		c.err = fmt.Errorf("reader: read after close")
		return false
	}
	if !c.More() {
		c.hasRow = false
		c.current = reflect.Value{}
		return false
	}
	c.current = reflect.ValueOf(*c.pending)
	c.pending = nil
	c.hasRow = true
	c.rows++
	return true
}

// GetValue 当前行第 ordinal 列的值
func (c *Cursor[T]) GetValue(ordinal int) any {
	if !c.hasRow || ordinal < 0 || ordinal >= len(c.accessors) {
		return nil
	}
	return c.accessors[ordinal](c.current)
}

// Values 当前行的全部列值（每次返回新切片）
func (c *Cursor[T]) Values() []any {
	vals := make([]any, len(c.accessors))
	for i := range c.accessors {
		vals[i] = c.GetValue(i)
	}
	return vals
}

// Rows 已读取的行数
func (c *Cursor[T]) Rows() int64 { return c.rows }

// Err 遍历过程中的错误
func (c *Cursor[T]) Err() error { return c.err }

// Close 停止底层序列；可重复调用
func (c *Cursor[T]) Close() error {
	if !c.closed {
		c.closed = true
		c.stop()
	}
	return nil
}

// Window 返回至多读取 n 行的视图（n <= 0 表示不限），用于分批传输。
// 视图实现 pgx.CopyFromSource。
func (c *Cursor[T]) Window(n int) *Window[T] {
	return &Window[T]{cursor: c, limit: n}
}

// Batch 同 Window，返回接口类型
func (c *Cursor[T]) Batch(n int) Batch { return c.Window(n) }

// CopySource 把整个游标适配为 pgx.CopyFromSource
func (c *Cursor[T]) CopySource() pgx.CopyFromSource {
	return c.Window(0)
}

// Window 游标上的限行视图
type Window[T any] struct {
	cursor *Cursor[T]
	limit  int
	n      int
}

var _ pgx.CopyFromSource = (*Window[struct{}])(nil)

// Next 前进一行；达到上限或游标结束时返回 false
func (w *Window[T]) Next() bool {
	if w.limit > 0 && w.n >= w.limit {
		return false
	}
	if !w.cursor.Read() {
		return false
	}
	w.n++
	return true
}

// Values 当前行的值
func (w *Window[T]) Values() ([]any, error) {
	return w.cursor.Values(), nil
}

// Err 游标错误
func (w *Window[T]) Err() error { return w.cursor.Err() }

// Rows 本视图读取的行数
func (w *Window[T]) Rows() int { return w.n }
