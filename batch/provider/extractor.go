package provider

import (
	"fmt"
	"regexp"
	"strings"

	"ormbatch/data/db/dialect"
	dbsql "ormbatch/data/db/sql"
	"ormbatch/data/orm"
	"ormbatch/errors"
)

// TextExtractor 从 ORM 生成的 SELECT 文本中提取表信息与条件。
//
// 依赖编译器的输出形状：FROM <q>schema<q>.<q>table<q> AS <q>alias<q> ... WHERE ...；
// 编译器输出形状变化时在这里报 MALFORMED_SQL，不会生成错误语句。
type TextExtractor struct {
	from   *regexp.Regexp
	update *regexp.Regexp
}

// NewTextExtractor 按标识符引号构造提取器，例如 "[" "]" 或 `"` `"`
func NewTextExtractor(open, close string) *TextExtractor {
	o, c := regexp.QuoteMeta(open), regexp.QuoteMeta(close)
	ident := o + "[^" + c + "]+" + c
	part := o + "([^" + c + "]+)" + c
	return &TextExtractor{
		from:   regexp.MustCompile(`(?i)FROM ` + part + `\.` + part + ` AS (` + ident + `)`),
		update: regexp.MustCompile(`(?i)(` + ident + `)[^=]+=(.+)`),
	}
}

var extractors = map[dialect.Name]*TextExtractor{
	dialect.NameSQLServer: NewTextExtractor("[", "]"),
	dialect.NameSQLite:    NewTextExtractor(`"`, `"`),
	dialect.NamePostgres:  NewTextExtractor(`"`, `"`),
}

// ExtractorFor 返回方言对应的提取器
func ExtractorFor(d dialect.Dialect) (*TextExtractor, error) {
	if x, ok := extractors[d.Name()]; ok {
		return x, nil
	}
	return nil, errors.Configuration("no query text extractor for dialect %q", d.Name())
}

// Extract 提取 schema、表、别名，以及去掉别名前缀的 WHERE 子句
func (x *TextExtractor) Extract(q orm.INativeQuery) (*QueryInformation, error) {
	text := q.ToTraceString()
	loc := x.from.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, errors.MalformedSQL("FROM clause not found in generated query", text)
	}
	info := &QueryInformation{
		Schema: text[loc[2]:loc[3]],
		Table:  text[loc[4]:loc[5]],
		Alias:  text[loc[6]:loc[7]],
	}
	if !dbsql.IsSafeIdentifier(info.Schema) || !dbsql.IsSafeIdentifier(info.Table) {
		return nil, errors.MalformedSQL(fmt.Sprintf("unsafe table name %s.%s", info.Schema, info.Table), text)
	}

	rest := text[loc[1]:]
	if i := strings.Index(rest, "WHERE"); i >= 0 {
		info.WhereSQL = stripAlias(rest[i:], info.Alias)
	}
	if !Balanced(info.WhereSQL) {
		return nil, errors.MalformedSQL("unbalanced parentheses in where clause", text)
	}

	args := q.Args()
	if n := dialect.CountPlaceholders(info.WhereSQL); n != len(args) {
		return nil, errors.MalformedSQL(fmt.Sprintf("where clause has %d placeholders for %d arguments", n, len(args)), text)
	}
	info.Args = append([]any(nil), args...)
	return info, nil
}

// Assignment 从 "col = expr" 形式的比较条件推出 SET 片段。
//
// 比较是在布尔上下文中编译的，括号按 WHERE 的方式嵌套；
// 去掉比较外层后剩下的括号可能不成对，用 FixParentheses 修复。
// 匹配不到列引用时按 " = " 拆分并交换左右两侧。
func (x *TextExtractor) Assignment(modification *QueryInformation) (string, error) {
	msql := strings.TrimSpace(strings.Replace(modification.WhereSQL, "WHERE ", "", 1))
	if msql == "" {
		return "", errors.MalformedSQL("update expression compiled without a comparison", modification.WhereSQL)
	}
	if i := topLevelAnd(msql); i >= 0 {
		msql = strings.TrimSpace(msql[:i])
	}

	var set string
	if m := x.update.FindStringSubmatch(msql); m != nil {
		set = m[1] + " = " + strings.TrimSpace(FixParentheses(m[2]))
	} else {
		var parts []string
		for _, p := range strings.Split(msql, " = ") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		set = FixParentheses(strings.Join(parts, " = "))
	}

	if !strings.Contains(set, " = ") {
		return "", errors.MalformedSQL("update expression is not an assignment", msql)
	}
	if n := dialect.CountPlaceholders(set); n != len(modification.Args) {
		return "", errors.MalformedSQL(fmt.Sprintf("assignment has %d placeholders for %d arguments", n, len(modification.Args)), set)
	}
	return set, nil
}

// FixParentheses 删除所有不成对的括号：从左到右用栈匹配，
// 多余的 ")" 与剩余未闭合的 "(" 都被移除。字符串字面量与引用标识符内的括号不参与匹配。
func FixParentheses(s string) string {
	var stack []int
	remove := map[int]bool{}
	scanCode(s, func(i int, ch byte) {
		switch ch {
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			} else {
				remove[i] = true
			}
		}
	})
	for _, i := range stack {
		remove[i] = true
	}
	if len(remove) == 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if !remove[i] {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// Balanced 字面量之外的括号是否成对
func Balanced(s string) bool {
	depth := 0
	ok := true
	scanCode(s, func(_ int, ch byte) {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				ok = false
			}
		}
	})
	return ok && depth == 0
}

// topLevelAnd 括号深度为 0 的第一个 " AND " 的位置，没有时返回 -1
func topLevelAnd(s string) int {
	depth := 0
	found := -1
	scanCode(s, func(i int, ch byte) {
		if found >= 0 {
			return
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case 'A':
			if depth == 0 && i > 0 && s[i-1] == ' ' && strings.HasPrefix(s[i:], "AND ") {
				found = i - 1
			}
		}
	})
	return found
}

// stripAlias 删除字面量与引用标识符之外的 "alias." 前缀
func stripAlias(s, alias string) string {
	prefix := alias + "."
	var sb strings.Builder
	sb.Grow(len(s))
	skip := 0
	scanSQL(s, func(i int, top bool) {
		if skip == 0 && top && strings.HasPrefix(s[i:], prefix) {
			skip = len(prefix)
		}
		if skip > 0 {
			skip--
			return
		}
		sb.WriteByte(s[i])
	})
	return sb.String()
}

// scanCode 对字符串字面量与引用标识符之外的每个字节回调
func scanCode(s string, fn func(i int, ch byte)) {
	scanSQL(s, func(i int, top bool) {
		if ch := s[i]; top && ch != '\'' && ch != '"' && ch != '[' {
			fn(i, ch)
		}
	})
}

// scanSQL 对每个字节回调；top 为 false 表示位于字面量或引用标识符内部（含结束引号），
// 开始引号本身算在外部
func scanSQL(s string, fn func(i int, top bool)) {
	var closer byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if closer != 0 {
			fn(i, false)
			if ch == closer {
				if (closer == '\'' || closer == '"') && i+1 < len(s) && s[i+1] == closer {
					i++
					fn(i, false)
					continue
				}
				closer = 0
			}
			continue
		}
		fn(i, true)
		switch ch {
		case '\'':
			closer = '\''
		case '"':
			closer = '"'
		case '[':
			closer = ']'
		}
	}
}
