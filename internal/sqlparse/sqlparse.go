// Package sqlparse 从查询文本中提取表、列和连接条件，作为额外的血缘线索
package sqlparse

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedDialect 未支持的方言
	ErrUnsupportedDialect = errors.New("unsupported dialect")
	// ErrEmptyQuery 查询为空
	ErrEmptyQuery = errors.New("empty query")
)

// Dialect 解析方言，只影响标识符引用规则
type Dialect string

const (
	ANSI      Dialect = "ansi"
	MySQL     Dialect = "mysql"
	Postgres  Dialect = "postgres"
	SQLServer Dialect = "sqlserver"
)

// ParseDialect 解析方言名称，空值为 ANSI
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ansi", "sql", "generic":
		return ANSI, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlserver", "mssql", "tsql":
		return SQLServer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
}

// 置信度：全限定、单表作用域内的裸列、作用域不明确
const (
	ConfidenceQualified = 1.0
	ConfidenceScoped    = 0.8
	ConfidenceAmbiguous = 0.5
)

// TableRef 表引用
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	Alias  string `json:"alias,omitempty"`
}

// FullName schema.table
func (t TableRef) FullName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnRef 列引用
type ColumnRef struct {
	// Table 解析出的表全名，无法确定时为空
	Table string `json:"table,omitempty"`
	// Qualifier 原文中的限定符（别名或表名）
	Qualifier  string  `json:"qualifier,omitempty"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

func (c ColumnRef) String() string {
	switch {
	case c.Table != "":
		return c.Table + "." + c.Name
	case c.Qualifier != "":
		return c.Qualifier + "." + c.Name
	}
	return c.Name
}

// JoinCondition 连接谓词
type JoinCondition struct {
	Left       ColumnRef `json:"left"`
	Right      ColumnRef `json:"right"`
	Operator   string    `json:"operator"`
	JoinType   string    `json:"join_type"`
	Confidence float64   `json:"confidence"`
}

// Analysis 提取结果
type Analysis struct {
	Dialect        Dialect         `json:"dialect"`
	Tables         []TableRef      `json:"tables"`
	Columns        []ColumnRef     `json:"columns"`
	JoinConditions []JoinCondition `json:"join_conditions"`
	Confidence     float64         `json:"confidence"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// AnalyzeSQL 轻量提取，不做完整语法分析
func AnalyzeSQL(query, dialect string) (*Analysis, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	lx := newLexer(query, d)
	x := newExtractor(lx.tokens())
	x.run()

	a := x.resolve()
	a.Dialect = d
	a.Warnings = append(lx.problems, a.Warnings...)
	if len(lx.problems) > 0 && a.Confidence > ConfidenceAmbiguous {
		a.Confidence = ConfidenceAmbiguous
	}
	return a, nil
}
