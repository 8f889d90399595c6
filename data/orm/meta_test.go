package orm

import (
	"database/sql"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormbatch/data/orm/expr"
)

type location struct {
	City    string
	Country string `gorm:"column:country_code;size:2"`
}

type post struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	Title     string  `gorm:"size:200"`
	Reads     int     `db:"reads"`
	Score     float64 `gorm:"precision:18;scale:2"`
	Slug      string  `gorm:"->"`
	Location  location
	Author    sql.NullString
	Internal  string `gorm:"-"`
	Extra     string `gorm:"table:post_extras"`
	CreatedBy string `json:"created_by,omitempty"`
	hidden    int
}

func (post) TableName() string { return "posts" }

type featuredPost struct {
	post
	Title    string `gorm:"size:300"`
	Featured bool
}

func TestParseFieldTag(t *testing.T) {
	pt := reflect.TypeOf(post{})

	f, _ := pt.FieldByName("ID")
	m, skip := ParseFieldTag(f)
	require.False(t, skip)
	assert.Equal(t, "id", m.Column)
	assert.True(t, m.PrimaryKey)
	assert.True(t, m.AutoIncrement)

	f, _ = pt.FieldByName("Score")
	m, _ = ParseFieldTag(f)
	assert.Equal(t, 18, m.Precision)
	assert.Equal(t, 2, m.Scale)

	f, _ = pt.FieldByName("Slug")
	m, _ = ParseFieldTag(f)
	assert.True(t, m.Computed)

	f, _ = pt.FieldByName("Author")
	m, _ = ParseFieldTag(f)
	assert.True(t, m.Nullable)

	f, _ = pt.FieldByName("Internal")
	_, skip = ParseFieldTag(f)
	assert.True(t, skip)

	f, _ = pt.FieldByName("CreatedBy")
	m, _ = ParseFieldTag(f)
	assert.Equal(t, "created_by", m.Column)
}

func TestReflectFields_FlattensComplexProperties(t *testing.T) {
	fields, err := ReflectFields(reflect.TypeOf(&post{}))
	require.NoError(t, err)

	byName := map[string]FieldMeta{}
	for _, f := range fields {
		byName[f.Name] = f
	}

	assert.NotContains(t, byName, "Internal")
	assert.NotContains(t, byName, "hidden")
	assert.Equal(t, "location_city", byName["Location.City"].Column)
	assert.Equal(t, "location_country_code", byName["Location.Country"].Column)
	assert.Equal(t, 2, byName["Location.Country"].Size)
	assert.Equal(t, "post_extras", byName["Extra"].Table)
	assert.Equal(t, reflect.TypeOf(post{}), byName["Location.City"].DeclaringType)
	assert.Equal(t, []int{5, 0}, byName["Location.City"].Index)
}

func TestReflectFields_DerivedShadowsBase(t *testing.T) {
	fields, err := ReflectFields(reflect.TypeOf(featuredPost{}))
	require.NoError(t, err)

	var titles []FieldMeta
	for _, f := range fields {
		if f.Column == "title" {
			titles = append(titles, f)
		}
	}
	require.Len(t, titles, 1)
	assert.Equal(t, reflect.TypeOf(featuredPost{}), titles[0].DeclaringType)
	assert.Equal(t, 300, titles[0].Size)

	for _, f := range fields {
		if f.Column == "reads" {
			assert.Equal(t, reflect.TypeOf(post{}), f.DeclaringType)
			assert.Equal(t, []int{0, 2}, f.Index)
		}
	}
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"ID":         "id",
		"UserID":     "user_id",
		"HTTPServer": "http_server",
		"Reads":      "reads",
		"Address2":   "address2",
		"BlogPostId": "blog_post_id",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestModelMeta(t *testing.T) {
	meta := &ModelMeta{
		Model: &post{},
		Inheritance: &InheritanceMeta{
			Discriminator: "kind",
			Types: []DerivedMeta{
				{Model: post{}, Value: "Post"},
				{Model: &featuredPost{}, Value: "Featured"},
			},
		},
	}
	require.NoError(t, meta.Validate())
	assert.Equal(t, "posts", meta.TableName())
	assert.True(t, meta.Covers(reflect.TypeOf(featuredPost{})))
	assert.False(t, meta.Covers(reflect.TypeOf(location{})))

	v, ok := meta.Inheritance.ValueFor(reflect.TypeOf(&featuredPost{}))
	assert.True(t, ok)
	assert.Equal(t, "Featured", v)

	assert.Error(t, (&ModelMeta{Model: location{}}).Validate())
}

func TestWithPredicate_CombinesWithAnd(t *testing.T) {
	a := expr.Lambda(func(p *expr.Param) expr.Expr { return expr.Eq(p.Field("Title"), "T1") })
	b := expr.Lambda(func(p *expr.Param) expr.Expr { return expr.Gt(p.Field("Reads"), 2) })

	opts := CollectQueryOptions(WithPredicate(a), WithPredicate(nil), WithPredicate(b))
	require.NotNil(t, opts.Predicate)

	ok, err := opts.Predicate.Test(post{Title: "T1", Reads: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = opts.Predicate.Test(post{Title: "T1", Reads: 1})
	require.NoError(t, err)
	assert.False(t, ok)
}
