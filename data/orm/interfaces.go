package orm

import (
	"context"
	"database/sql"
	"reflect"

	"ormbatch/data/db"
	"ormbatch/data/orm/expr"
)

// IOrm 表示 ORM 适配器入口。
// 仅定义接口，具体实现由业务侧选择并以适配器形式注入。
type IOrm interface {
	// Capabilities 返回适配器支持的能力集合。
	Capabilities() Capabilities
	// WithContext 派生绑定上下文的 Orm 会话。
	WithContext(ctx context.Context) IOrm
	// Model 返回指定模型的操作入口。
	Model(meta *ModelMeta) IModel
	// Begin 开启事务会话。
	Begin(ctx context.Context) (IOrmSession, error)
	// BeginTx 开启带选项的事务会话。
	BeginTx(ctx context.Context, opts *sql.TxOptions) (IOrmSession, error)
	// Database 返回适配器绑定的通用数据库（可选，可为 nil）。
	Database() db.IDatabase
	// Raw 返回底层 ORM 引擎实例，便于特殊场景透传。
	Raw() any
}

// IDatabaseBinder 可选接口：派生一个在指定连接或事务上执行的 Orm。
type IDatabaseBinder interface {
	WithDatabase(database db.IDatabase) IOrm
}

// IOrmSession 表示事务会话。
type IOrmSession interface {
	IOrm
	Commit() error
	Rollback() error
}

// IModel 封装模型级别的基础操作。
type IModel interface {
	Meta() *ModelMeta
	Capabilities() Capabilities

	First(ctx context.Context, dest any, opts ...QueryOption) error
	Find(ctx context.Context, dest any, opts ...QueryOption) error
	Count(ctx context.Context, opts ...QueryOption) (int64, error)

	// Create 插入记录；单表继承模型会自动写入鉴别列。
	Create(ctx context.Context, entities ...any) error
	// Save 根据 QueryOptions 执行更新，通常结合主键或条件。
	Save(ctx context.Context, entity any, opts ...QueryOption) error
	UpdateValues(ctx context.Context, values map[string]any, opts ...QueryOption) error
	Delete(ctx context.Context, opts ...QueryOption) error
}

// IContext ORM 上下文：一个 Orm 加上它管理的模型集合。
// 映射目录以上下文的动态类型为缓存键，同一类型的上下文必须声明相同的模型。
type IContext interface {
	Orm() IOrm
	Models() []*ModelMeta
}

// INativeQuery 编译后的查询对象。
type INativeQuery interface {
	// ToTraceString 返回将要执行的 SQL 文本（占位符为 ?）。
	ToTraceString() string
	// Args 返回与占位符一一对应的参数。
	Args() []any
}

// IQueryCompiler 可选接口：把谓词编译为原生查询。
//
// entityType 为要查询的具体类型；它是单表继承中的派生类型时，
// 编译结果附加鉴别列条件。谓词无法翻译时返回 ErrUnsupportedExpression。
type IQueryCompiler interface {
	Compile(meta *ModelMeta, entityType reflect.Type, pred *expr.Func) (INativeQuery, error)
}
