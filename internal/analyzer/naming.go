package analyzer

import (
	"strings"
	"unicode"
)

// keySuffixes 连接键后缀
var keySuffixes = []string{"id", "key", "fk"}

// irregularPlurals 不规则复数
var irregularPlurals = map[string]string{
	"people":   "person",
	"children": "child",
	"men":      "man",
	"women":    "woman",
	"data":     "datum",
	"indices":  "index",
}

// splitWords 拆分标识符为小写单词：CustomerID -> [customer id], order_items -> [order items]
func splitWords(name string) []string {
	runes := []rune(name)
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if r == '_' || r == '-' || r == ' ' || r == '.' || r == '$' {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// 小写->大写，或连续大写缩写的结尾（HTTPServer）
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// normalize 统一为 snake_case
func normalize(name string) string {
	return strings.Join(splitWords(name), "_")
}

// splitKey 拆出外键后缀：customer_id -> (customer, id, true)
func splitKey(name string) (base, suffix string, ok bool) {
	words := splitWords(name)
	if len(words) < 2 {
		return "", "", false
	}
	last := words[len(words)-1]
	for _, s := range keySuffixes {
		if last == s {
			return strings.Join(words[:len(words)-1], "_"), last, true
		}
	}
	return "", "", false
}

// isKeyShaped 是否具有连接键形状（*_id / *_key / *_fk 或 id）
func isKeyShaped(name string) bool {
	if normalize(name) == "id" {
		return true
	}
	_, _, ok := splitKey(name)
	return ok
}

// singularize 单数化最后一个单词：order_items -> order_item
func singularize(name string) string {
	n := normalize(name)
	i := strings.LastIndex(n, "_")
	return n[:i+1] + singularWord(n[i+1:])
}

func singularWord(w string) string {
	if s, ok := irregularPlurals[w]; ok {
		return s
	}
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "uses"), strings.HasSuffix(w, "xes"),
		strings.HasSuffix(w, "zes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case len(w) > 1 && strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

// typeFamily 数据类型族
func typeFamily(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexAny(t, "( "); i > 0 {
		t = t[:i]
	}
	switch t {
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint",
		"int2", "int4", "int8", "serial", "bigserial", "smallserial":
		return "integer"
	case "decimal", "numeric", "number", "money", "smallmoney":
		return "decimal"
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext", "character",
		"string", "bpchar", "citext", "tinytext", "mediumtext", "longtext", "varchar2", "nvarchar2":
		return "string"
	case "uuid", "uniqueidentifier":
		return "uuid"
	case "date", "datetime", "datetime2", "smalldatetime", "datetimeoffset",
		"timestamp", "timestamptz", "time", "timetz":
		return "temporal"
	case "float", "double", "real", "float4", "float8":
		return "float"
	case "bit", "bool", "boolean":
		return "boolean"
	case "binary", "varbinary", "blob", "bytea", "image":
		return "binary"
	}
	return t
}

// typesCompatible 判断类型是否兼容（同一类型族；整数与定点数互通）
func typesCompatible(type1, type2 string) bool {
	// 目录文件可能不提供类型
	if type1 == "" || type2 == "" {
		return true
	}
	f1, f2 := typeFamily(type1), typeFamily(type2)
	if f1 == f2 {
		return true
	}
	numeric := map[string]bool{"integer": true, "decimal": true}
	return numeric[f1] && numeric[f2]
}
