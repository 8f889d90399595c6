package mapping

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"ormbatch/cache"
	"ormbatch/data/db/dialect"
	"ormbatch/data/orm"
	"ormbatch/errors"
	"ormbatch/logging"
	"ormbatch/validation"
)

// Catalog 一个 ORM 上下文类型的全部实体映射，构建后只读。
type Catalog struct {
	dialect  dialect.Dialect
	entities map[reflect.Type]*EntityTypeMapping
}

// Dialect 构建映射时使用的方言
func (c *Catalog) Dialect() dialect.Dialect { return c.dialect }

// Mapping 返回实体类型（或其所在继承层次）的映射
func (c *Catalog) Mapping(t reflect.Type) (*EntityTypeMapping, error) {
	t = indirect(t)
	if m, ok := c.entities[t]; ok {
		return m, nil
	}
	return nil, errors.UnsupportedMapping("type %v is not mapped by the context", t)
}

// MappingCatalog 按 ORM 上下文的动态类型缓存 Catalog。
//
// 同一上下文类型只构建一次（双重检查）；构建完成后读者之间互不阻塞。
// 生命周期归组合根所有，随 batch.Engine 创建并显式传递。
type MappingCatalog struct {
	mu       sync.RWMutex
	catalogs map[reflect.Type]*Catalog
	builds   atomic.Int64

	accessors *cache.Cache[accessorKey, Accessor]
	logger    logging.Logger
}

// Option 配置 MappingCatalog
type Option func(*MappingCatalog)

// WithAccessorCacheSize 访问器缓存容量，默认 4096
func WithAccessorCacheSize(n int) Option {
	return func(mc *MappingCatalog) {
		mc.accessors = cache.New[accessorKey, Accessor](cache.Config{Name: "mapping.accessors", MaxSize: n})
	}
}

// WithLogger 指定日志器，默认使用全局日志器
func WithLogger(l logging.Logger) Option {
	return func(mc *MappingCatalog) { mc.logger = l }
}

// NewMappingCatalog 创建映射目录
func NewMappingCatalog(opts ...Option) *MappingCatalog {
	mc := &MappingCatalog{
		catalogs: make(map[reflect.Type]*Catalog),
	}
	for _, opt := range opts {
		opt(mc)
	}
	if mc.accessors == nil {
		WithAccessorCacheSize(4096)(mc)
	}
	if mc.logger == nil {
		mc.logger = logging.GetLogger()
	}
	return mc
}

// GetMapping 返回上下文类型对应的 Catalog，首次调用时构建。
// 构建失败返回配置错误，不缓存。
func (mc *MappingCatalog) GetMapping(ctx orm.IContext) (*Catalog, error) {
	if ctx == nil {
		return nil, errors.Configuration("nil orm context")
	}
	key := reflect.TypeOf(ctx)

	mc.mu.RLock()
	c, ok := mc.catalogs[key]
	mc.mu.RUnlock()
	if ok {
		return c, nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if c, ok := mc.catalogs[key]; ok {
		return c, nil
	}

	c, err := buildCatalog(ctx)
	if err != nil {
		return nil, err
	}
	mc.builds.Add(1)
	mc.catalogs[key] = c
	mc.logger.Debug(context.Background(), "[MappingCatalog] built",
		logging.String("context", key.String()),
		logging.Int("entities", len(c.entities)))
	return c, nil
}

// MappingFor GetMapping 与 Catalog.Mapping 的组合
func (mc *MappingCatalog) MappingFor(ctx orm.IContext, t reflect.Type) (*EntityTypeMapping, error) {
	c, err := mc.GetMapping(ctx)
	if err != nil {
		return nil, err
	}
	return c.Mapping(t)
}

// Builds 已完成的构建次数
func (mc *MappingCatalog) Builds() int64 { return mc.builds.Load() }

// AccessorStats 访问器缓存的统计快照
func (mc *MappingCatalog) AccessorStats() cache.CacheStats { return mc.accessors.Stats() }

// Accessor 返回 (类型, 属性路径) 的访问器，构建一次后缓存
func (mc *MappingCatalog) Accessor(t reflect.Type, path string) (Accessor, error) {
	key := accessorKey{t: indirect(t), path: path}
	return mc.accessors.GetOrLoad(key, func() (Accessor, error) {
		return compileAccessor(key.t, path)
	})
}

// AccessorFor 返回列在具体类型上的访问器；鉴别列返回常量
func (mc *MappingCatalog) AccessorFor(t reflect.Type, col ColumnMapping) (Accessor, error) {
	if col.discriminator || col.ObjectPath == "" {
		return Constant(col.StaticValue), nil
	}
	return mc.Accessor(t, col.ObjectPath)
}

func buildCatalog(ctx orm.IContext) (*Catalog, error) {
	o := ctx.Orm()
	if o == nil {
		return nil, errors.Configuration("orm context %T has no orm", ctx)
	}
	c := &Catalog{
		dialect:  dialect.FromDatabase(o.Database()),
		entities: make(map[reflect.Type]*EntityTypeMapping),
	}

	for _, meta := range ctx.Models() {
		if err := meta.Validate(); err != nil {
			return nil, errors.Configuration("%v", err)
		}
		em, err := buildEntity(c.dialect, meta)
		if err != nil {
			return nil, err
		}
		for _, t := range hierarchy(meta) {
			if prev, dup := c.entities[t]; dup && prev != em {
				return nil, errors.Configuration("type %s is mapped by more than one model", t)
			}
			c.entities[t] = em
		}
	}
	return c, nil
}

// hierarchy 返回模型类型及其继承层次中的全部具体类型，基类在前
func hierarchy(meta *orm.ModelMeta) []reflect.Type {
	types := []reflect.Type{meta.Type()}
	if meta.Inheritance == nil {
		return types
	}
	for _, d := range meta.Inheritance.Types {
		t := indirect(reflect.TypeOf(d.Model))
		dup := false
		for _, seen := range types {
			dup = dup || seen == t
		}
		if !dup {
			types = append(types, t)
		}
	}
	return types
}

type columnEntry struct {
	col   ColumnMapping
	depth int
}

func buildEntity(d dialect.Dialect, meta *orm.ModelMeta) (*EntityTypeMapping, error) {
	types := hierarchy(meta)
	inHierarchy := make(map[reflect.Type]bool, len(types))
	for _, t := range types {
		inHierarchy[t] = true
	}
	depths := make(map[reflect.Type]int, len(types))
	for _, t := range types {
		depths[t] = depthOf(t, inHierarchy, map[reflect.Type]bool{})
	}

	schema := meta.Schema
	if schema == "" {
		schema = d.DefaultSchema()
	}
	mainTable := meta.TableName()

	var tableOrder []string
	tables := map[string][]*columnEntry{}
	index := map[string]map[string]*columnEntry{}
	addTable := func(name string) {
		if _, ok := tables[name]; !ok {
			tableOrder = append(tableOrder, name)
			tables[name] = nil
			index[name] = map[string]*columnEntry{}
		}
	}
	addTable(mainTable)

	for _, t := range types {
		fields, err := meta.FieldsOf(t)
		if err != nil {
			return nil, errors.UnsupportedMapping("%v", err)
		}
		for _, f := range fields {
			table := mainTable
			if f.Table != "" {
				table = f.Table
			}
			addTable(table)

			owner := owningType(t, f.Index, inHierarchy)
			key := strings.ToLower(f.Column)
			if e, ok := index[table][key]; ok {
				e.col.contributors = appendType(e.col.contributors, t)
				// 同名列保留最派生的声明
				if depths[owner] > e.depth {
					contributors := e.col.contributors
					e.col = newColumn(d, f, owner)
					e.col.contributors = contributors
					e.depth = depths[owner]
				}
				continue
			}
			col := newColumn(d, f, owner)
			col.contributors = []reflect.Type{t}
			e := &columnEntry{col: col, depth: depths[owner]}
			index[table][key] = e
			tables[table] = append(tables[table], e)
		}
	}

	em := &EntityTypeMapping{Type: meta.Type()}
	for _, name := range tableOrder {
		tm := &TableMapping{Schema: schema, Table: name}
		for _, e := range tables[name] {
			tm.Columns = append(tm.Columns, e.col)
		}
		em.Tables = append(em.Tables, tm)
	}

	primary := em.Tables[0]
	if len(primary.Columns) == 0 {
		return nil, errors.UnsupportedMapping("model %s has no mapped columns", meta.Type())
	}

	// 拆分表通过主键与主表关联
	pks := primary.PrimaryKeys()
	for _, tm := range em.Tables[1:] {
		if len(pks) == 0 {
			return nil, errors.UnsupportedMapping("split table %s requires a primary key on %s", tm.Table, mainTable)
		}
		tm.Columns = append(append([]ColumnMapping(nil), pks...), tm.Columns...)
	}

	if inh := meta.Inheritance; inh != nil {
		if _, clash := primary.ColumnByName(inh.Discriminator); clash {
			return nil, errors.UnsupportedMapping("discriminator %s collides with a mapped property", inh.Discriminator)
		}
		cfg := &DiscriminatorConfig{Column: inh.Discriminator, Values: map[reflect.Type]string{}}
		for _, dm := range inh.Types {
			cfg.Values[indirect(reflect.TypeOf(dm.Model))] = dm.Value
		}
		strType := reflect.TypeOf("")
		dt, full := d.ColumnType(strType, 128, 0, 0)
		primary.Discriminator = cfg
		primary.Columns = append(primary.Columns, ColumnMapping{
			DatabaseColumn: inh.Discriminator,
			DataType:       dt,
			DataTypeFull:   full,
			GoType:         strType,
			discriminator:  true,
		})
	}

	if err := checkIdentifiers(schema, em.Tables); err != nil {
		return nil, err
	}
	return em, nil
}

// checkIdentifiers 映射出的名称会直接拼入 SQL 文本
func checkIdentifiers(schema string, tables []*TableMapping) error {
	var errs []error
	if schema != "" {
		errs = append(errs, validation.ValidateIdentifier(schema, "schema"))
	}
	for _, tm := range tables {
		errs = append(errs, validation.ValidateIdentifier(tm.Table, "table"))
		for _, c := range tm.Columns {
			errs = append(errs, validation.ValidateIdentifier(c.DatabaseColumn, tm.Table+" column"))
		}
	}
	if err := validation.First(errs...); err != nil {
		return errors.WrapError(err, errors.ErrCodeUnsupportedMapping, "unsafe identifier in mapping")
	}
	return nil
}

func newColumn(d dialect.Dialect, f orm.FieldMeta, owner reflect.Type) ColumnMapping {
	goType := indirect(f.Type)
	dt, full := d.ColumnType(f.Type, f.Size, f.Precision, f.Scale)
	if f.DBType != "" {
		full = f.DBType
		dt = strings.ToLower(strings.TrimSpace(strings.SplitN(f.DBType, "(", 2)[0]))
	}
	return ColumnMapping{
		ObjectPath:         f.Name,
		DatabaseColumn:     f.Column,
		DataType:           dt,
		DataTypeFull:       full,
		IsPrimaryKey:       f.PrimaryKey,
		IsComputed:         f.Computed,
		IsIdentity:         f.PrimaryKey && f.AutoIncrement,
		OwningConcreteType: owner,
		GoType:             goType,
	}
}

// owningType 沿字段索引路径经过的最后一个层次内类型
func owningType(t reflect.Type, index []int, inHierarchy map[reflect.Type]bool) reflect.Type {
	owner := t
	cur := t
	for _, i := range index[:len(index)-1] {
		cur = indirect(cur.Field(i).Type)
		if inHierarchy[cur] {
			owner = cur
		}
	}
	return owner
}

// depthOf 类型在继承层次中的深度：内嵌了层次内类型的比被内嵌者深一层
func depthOf(t reflect.Type, inHierarchy, visiting map[reflect.Type]bool) int {
	if visiting[t] {
		return 0
	}
	visiting[t] = true
	depth := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := indirect(f.Type)
		if ft.Kind() != reflect.Struct {
			continue
		}
		d := depthOf(ft, inHierarchy, visiting)
		if inHierarchy[ft] {
			d++
		}
		if d > depth {
			depth = d
		}
	}
	return depth
}

func appendType(list []reflect.Type, t reflect.Type) []reflect.Type {
	for _, x := range list {
		if x == t {
			return list
		}
	}
	return append(list, t)
}
