package basic

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	dbcore "ormbatch/data/db"
	"ormbatch/data/db/dialect"
	dbsql "ormbatch/data/db/sql"
	"ormbatch/data/orm"
)

// Orm 是基于 ormbatch/data/db + ormbatch/data/db/sql 的轻量 IOrm 实现。
//
// 设计目标：
//   - 不依赖具体 ORM（如 gorm），直接在 DB 抽象之上工作；
//   - 覆盖批量层需要的基础增删改查、单表继承与谓词编译；
//   - 保持能力最小化，关联、预加载等特性不提供。
type Orm struct {
	db      dbcore.IDatabase
	sql     dbsql.ISql
	dialect dialect.Dialect
	caps    orm.Capabilities
}

// New 创建一个基于指定 IDatabase 的 Orm 适配器。
func New(db dbcore.IDatabase) orm.IOrm {
	return newOrm(db)
}

func newOrm(db dbcore.IDatabase) *Orm {
	s := dbsql.New(db)
	return &Orm{
		db:      db,
		sql:     s,
		dialect: s.Dialect(),
		caps: orm.NewCapabilities(
			orm.CapabilityBasicCRUD,
			orm.CapabilityQuery,
			orm.CapabilityTransaction,
			orm.CapabilityCompile,
			orm.CapabilityInheritance,
		),
	}
}

// Capabilities 返回适配器支持的能力。
func (o *Orm) Capabilities() orm.Capabilities { return o.caps }

// WithContext 当前实现不在 Orm 上持有 context，直接返回自身即可。
func (o *Orm) WithContext(ctx context.Context) orm.IOrm { // nolint: revive
	_ = ctx
	return o
}

// Model 返回模型级操作入口。
func (o *Orm) Model(meta *orm.ModelMeta) orm.IModel {
	if meta == nil {
		panic("basic.Orm: ModelMeta cannot be nil")
	}
	table := meta.TableName()
	if table == "" {
		panic("basic.Orm: table name is empty")
	}
	return &model{orm: o, meta: meta, table: table}
}

// Begin 开启事务会话。
func (o *Orm) Begin(ctx context.Context) (orm.IOrmSession, error) {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &session{Orm: newOrm(tx), tx: tx}, nil
}

// BeginTx 开启带选项的事务会话。
func (o *Orm) BeginTx(ctx context.Context, opts *sql.TxOptions) (orm.IOrmSession, error) {
	tx, err := o.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &session{Orm: newOrm(tx), tx: tx}, nil
}

// WithDatabase 派生在 database（连接或事务）上执行的 Orm。
func (o *Orm) WithDatabase(database dbcore.IDatabase) orm.IOrm {
	return newOrm(database)
}

// Database 返回底层数据库抽象。
func (o *Orm) Database() dbcore.IDatabase { return o.db }

// Raw 返回底层实现（此处为 dbcore.IDatabase）。
func (o *Orm) Raw() any { return o.db }

// Dialect 返回推断出的方言。
func (o *Orm) Dialect() dialect.Dialect { return o.dialect }

// session 实现 IOrmSession，委托给内部 Orm，并持有事务以便 Commit/Rollback。
type session struct {
	*Orm
	tx dbcore.ITransaction
}

// Commit 提交事务。
func (s *session) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Commit()
}

// Rollback 回滚事务。
func (s *session) Rollback() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Rollback()
}

// ------------------------------------------------------------------------
// model 实现 orm.IModel
// ------------------------------------------------------------------------

type model struct {
	orm   *Orm
	meta  *orm.ModelMeta
	table string
}

func (m *model) Meta() *orm.ModelMeta           { return m.meta }
func (m *model) Capabilities() orm.Capabilities { return m.orm.caps }

// target 供 insert/update/delete 构建器使用的表名（构建器负责引用）
func (m *model) target(table string) string {
	if m.meta.Schema != "" {
		return m.meta.Schema + "." + table
	}
	return table
}

// from 供 SELECT 使用的已引用表名
func (m *model) from() string {
	return m.orm.dialect.QuoteIdentifier(m.target(m.table))
}

// First 查询单条记录。
func (m *model) First(ctx context.Context, dest any, opts ...orm.QueryOption) error {
	qo := orm.CollectQueryOptions(opts...)
	if qo.Limit <= 0 {
		qo.Limit = 1
	}

	rows, err := m.query(ctx, dest, qo)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return orm.ErrNotFound
	}
	return scanRowsIntoDest(rows, dest)
}

// Find 查询多条记录。
func (m *model) Find(ctx context.Context, dest any, opts ...orm.QueryOption) error {
	qo := orm.CollectQueryOptions(opts...)
	rows, err := m.query(ctx, dest, qo)
	if err != nil {
		return err
	}
	defer rows.Close()

	return scanRowsIntoDest(rows, dest)
}

func (m *model) query(ctx context.Context, dest any, qo orm.QueryOptions) (dbcore.IRows, error) {
	columns := qo.Select
	if len(columns) == 0 {
		columns = []string{"*"}
	}

	builder := m.orm.sql.Select(columns...).From(buildTableExpr(m.from(), qo.Joins))
	if err := m.applyFilters(builder, qo, destElemType(dest)); err != nil {
		return nil, err
	}
	if len(qo.GroupBy) > 0 {
		builder = builder.GroupBy(qo.GroupBy...)
	}
	if len(qo.OrderBy) > 0 {
		builder = builder.OrderBy(buildOrderByExpr(qo.OrderBy))
	}
	if qo.Limit > 0 {
		builder = builder.Limit(qo.Limit)
	}
	if qo.Offset > 0 {
		builder = builder.Offset(qo.Offset)
	}
	return builder.Query(ctx)
}

// Count 统计数量（忽略 Select/GroupBy，只做简单 COUNT(*)）。
func (m *model) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	qo := orm.CollectQueryOptions(opts...)

	builder := m.orm.sql.Select("COUNT(*)").From(buildTableExpr(m.from(), qo.Joins))
	if err := m.applyFilters(builder, qo, nil); err != nil {
		return 0, err
	}
	q, args, err := builder.Build()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := m.orm.db.QueryRow(ctx, q, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type whereAdder interface {
	Where(cond string, args ...any) dbsql.ISelectBuilder
}

// applyFilters 追加 Where 条件、表达式谓词以及派生类型的鉴别条件
func (m *model) applyFilters(builder whereAdder, qo orm.QueryOptions, entityType reflect.Type) error {
	for _, w := range qo.Where {
		builder.Where(w.Expr, w.Args...)
	}
	if entityType == nil {
		entityType = m.meta.Type()
	}
	if qo.Predicate != nil {
		frag, args, err := m.orm.renderPredicate(m.meta, entityType, qo.Predicate, "")
		if err != nil {
			return err
		}
		builder.Where(frag, args...)
	}
	if cond, ok := m.orm.discriminatorFilter(m.meta, entityType, ""); ok {
		builder.Where(cond)
	}
	return nil
}

// Create 插入记录（支持批量）。
//
// 连续的同类型实体合并为一条多行 INSERT；单表继承的派生类型写入各自的鉴别值。
// 拆分到其他表的列在主表写入后按主键写入对应表。
func (m *model) Create(ctx context.Context, entities ...any) error {
	var run []reflect.Value
	var runType reflect.Type

	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		err := m.insertRun(ctx, runType, run)
		run = run[:0]
		return err
	}

	for _, e := range entities {
		val := reflect.ValueOf(e)
		for val.Kind() == reflect.Pointer {
			val = val.Elem()
		}
		if !val.IsValid() || val.Kind() != reflect.Struct {
			return fmt.Errorf("basic.Model.Create: entity must be struct or *struct, got %T", e)
		}
		if !m.meta.Covers(val.Type()) {
			return fmt.Errorf("basic.Model.Create: %s is not part of model %s", val.Type(), m.meta.Type())
		}
		if val.Type() != runType {
			if err := flush(); err != nil {
				return err
			}
			runType = val.Type()
		}
		run = append(run, val)
	}
	return flush()
}

func (m *model) insertRun(ctx context.Context, t reflect.Type, vals []reflect.Value) error {
	fields, err := m.meta.FieldsOf(t)
	if err != nil {
		return err
	}

	byTable := map[string][]orm.FieldMeta{}
	var order []string
	for _, f := range fields {
		if f.Computed || (f.PrimaryKey && f.AutoIncrement && f.Table == "") {
			continue
		}
		if _, seen := byTable[f.Table]; !seen {
			order = append(order, f.Table)
		}
		byTable[f.Table] = append(byTable[f.Table], f)
	}
	if len(byTable[""]) == 0 {
		return fmt.Errorf("basic.Model.Create: no insertable columns for %s", t)
	}

	for _, table := range order {
		cols := columnsOf(byTable[table])
		insertFields := byTable[table]
		name := m.table
		var disc string
		if table == "" {
			if v, ok := m.meta.Inheritance.ValueFor(t); ok {
				disc = v
				cols = append(cols, m.meta.Inheritance.Discriminator)
			}
		} else {
			name = table
			// 拆分表需要主键关联主表
			pks := primaryKeys(fields)
			if len(pks) == 0 {
				return fmt.Errorf("basic.Model.Create: split table %s requires a primary key", table)
			}
			insertFields = append(pks, insertFields...)
			cols = columnsOf(insertFields)
		}

		builder := m.orm.sql.InsertInto(m.target(name)).Columns(cols...)
		for _, val := range vals {
			rowVals := make([]any, 0, len(cols))
			for _, fi := range insertFields {
				fv := fieldByIndexSafe(val, fi.Index)
				if !fv.IsValid() {
					rowVals = append(rowVals, nil)
					continue
				}
				rowVals = append(rowVals, fv.Interface())
			}
			if disc != "" {
				rowVals = append(rowVals, disc)
			}
			builder = builder.Values(rowVals...)
		}
		if _, err := builder.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Save 根据 QueryOptions 执行更新（通常结合主键或条件）。主键与计算列不写入。
func (m *model) Save(ctx context.Context, entity any, opts ...orm.QueryOption) error {
	val := reflect.ValueOf(entity)
	for val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if !val.IsValid() || val.Kind() != reflect.Struct {
		return fmt.Errorf("basic.Model.Save: entity must be struct or *struct, got %T", entity)
	}

	fields, err := m.meta.FieldsOf(val.Type())
	if err != nil {
		return err
	}

	qo := orm.CollectQueryOptions(opts...)
	builder := m.orm.sql.Update(m.target(m.table))
	for _, fi := range fields {
		if fi.PrimaryKey || fi.Computed || fi.Table != "" {
			continue
		}
		fv := fieldByIndexSafe(val, fi.Index)
		if !fv.IsValid() {
			builder = builder.Set(fi.Column, nil)
			continue
		}
		builder = builder.Set(fi.Column, fv.Interface())
	}

	if len(qo.Where) == 0 && qo.Predicate == nil {
		// 无条件时按主键更新
		for _, pk := range primaryKeys(fields) {
			builder = builder.Where(m.orm.dialect.QuoteIdentifier(pk.Column)+" = ?", fieldByIndexSafe(val, pk.Index).Interface())
		}
	}
	for _, w := range qo.Where {
		builder = builder.Where(w.Expr, w.Args...)
	}
	if qo.Predicate != nil {
		frag, args, err := m.orm.renderPredicate(m.meta, val.Type(), qo.Predicate, "")
		if err != nil {
			return err
		}
		builder = builder.Where(frag, args...)
	}

	_, err = builder.Exec(ctx)
	return err
}

// UpdateValues 根据 values 与 QueryOptions 进行更新。
func (m *model) UpdateValues(ctx context.Context, values map[string]any, opts ...orm.QueryOption) error {
	if len(values) == 0 {
		return nil
	}

	qo := orm.CollectQueryOptions(opts...)
	builder := m.orm.sql.Update(m.target(m.table)).SetMap(values)
	for _, w := range qo.Where {
		builder = builder.Where(w.Expr, w.Args...)
	}
	if qo.Predicate != nil {
		frag, args, err := m.orm.renderPredicate(m.meta, m.meta.Type(), qo.Predicate, "")
		if err != nil {
			return err
		}
		builder = builder.Where(frag, args...)
	}

	_, err := builder.Exec(ctx)
	return err
}

// Delete 根据 QueryOptions 删除记录。
func (m *model) Delete(ctx context.Context, opts ...orm.QueryOption) error {
	qo := orm.CollectQueryOptions(opts...)
	if len(qo.Where) == 0 && qo.Predicate == nil {
		return fmt.Errorf("basic.Orm: delete without where is not allowed")
	}

	builder := m.orm.sql.DeleteFrom(m.target(m.table))
	for _, w := range qo.Where {
		builder = builder.Where(w.Expr, w.Args...)
	}
	if qo.Predicate != nil {
		frag, args, err := m.orm.renderPredicate(m.meta, m.meta.Type(), qo.Predicate, "")
		if err != nil {
			return err
		}
		builder = builder.Where(frag, args...)
	}
	_, err := builder.Exec(ctx)
	return err
}

// ------------------------------------------------------------------------
// 扫描工具
// ------------------------------------------------------------------------

func columnsOf(fields []orm.FieldMeta) []string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Column
	}
	return cols
}

func primaryKeys(fields []orm.FieldMeta) []orm.FieldMeta {
	var pks []orm.FieldMeta
	for _, f := range fields {
		if f.PrimaryKey && f.Table == "" {
			pks = append(pks, f)
		}
	}
	return pks
}

// destElemType 返回 *T 或 *[]T / *[]*T 的元素结构体类型
func destElemType(dest any) reflect.Type {
	t := reflect.TypeOf(dest)
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// scanRowsIntoDest 将 rows 扫描到 dest 中。
// 支持 dest 为 *T、*[]T 或 *[]*T。
func scanRowsIntoDest(rows dbcore.IRows, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("basic.scanRowsIntoDest: dest must be non-nil pointer")
	}

	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Slice:
		elemType := elem.Type().Elem()
		isPtr := elemType.Kind() == reflect.Pointer
		if isPtr {
			elemType = elemType.Elem()
		}
		for rows.Next() {
			item := reflect.New(elemType)
			if err := scanOneRow(rows, item.Elem()); err != nil {
				return err
			}
			if isPtr {
				elem.Set(reflect.Append(elem, item))
			} else {
				elem.Set(reflect.Append(elem, item.Elem()))
			}
		}
		return rows.Err()
	case reflect.Struct:
		// 已在 First 手动 Next() 过一行，这里直接扫描当前行
		return scanOneRow(rows, elem)
	default:
		return fmt.Errorf("basic.scanRowsIntoDest: unsupported dest element kind %s", elem.Kind())
	}
}

func scanOneRow(rows dbcore.IRows, v reflect.Value) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	fields, err := orm.ReflectFields(v.Type())
	if err != nil {
		return err
	}
	byColumn := make(map[string]orm.FieldMeta, len(fields))
	for _, f := range fields {
		byColumn[strings.ToLower(f.Column)] = f
	}

	destPtrs := make([]any, len(cols))
	for i, col := range cols {
		fi, ok := byColumn[strings.ToLower(col)]
		if !ok {
			var tmp any
			destPtrs[i] = &tmp
			continue
		}
		fv := fieldByIndexSafe(v, fi.Index)
		if !fv.IsValid() || !fv.CanSet() {
			var tmp any
			destPtrs[i] = &tmp
			continue
		}
		destPtrs[i] = fv.Addr().Interface()
	}

	return rows.Scan(destPtrs...)
}

func fieldByIndexSafe(v reflect.Value, index []int) reflect.Value {
	for _, i := range index {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct || i < 0 || i >= v.NumField() {
			return reflect.Value{}
		}
		v = v.Field(i)
	}
	return v
}

func buildTableExpr(base string, joins []orm.Join) string {
	if len(joins) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	for _, j := range joins {
		sb.WriteRune(' ')
		sb.WriteString(j.Expr)
	}
	return sb.String()
}

func buildOrderByExpr(orders []orm.OrderBy) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Column == "" {
			continue
		}
		if o.Desc {
			parts = append(parts, o.Column+" DESC")
		} else {
			parts = append(parts, o.Column+" ASC")
		}
	}
	return strings.Join(parts, ", ")
}
