package sqlparse

import (
	"fmt"
	"strings"
)

var keywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`SELECT FROM WHERE JOIN INNER LEFT RIGHT FULL OUTER CROSS NATURAL
		LATERAL APPLY ON USING GROUP BY ORDER HAVING LIMIT OFFSET FETCH UNION ALL EXCEPT INTERSECT
		AS AND OR NOT NULL IS IN EXISTS BETWEEN LIKE ILIKE CASE WHEN THEN ELSE END DISTINCT WITH
		RECURSIVE INSERT INTO VALUES UPDATE SET DELETE MERGE TOP ASC DESC TRUE FALSE OVER PARTITION
		WINDOW ROWS RANGE RETURNING QUALIFY ANY SOME INTERVAL`) {
		keywords[k] = true
	}
}

func isKeyword(t token) bool {
	return t.kind == tokIdent && keywords[t.keyword()]
}

func isComparison(t token) bool {
	if t.kind != tokSymbol {
		return false
	}
	switch t.text {
	case "=", "<>", "!=", "<", ">", "<=", ">=":
		return true
	}
	return false
}

type clause int

const (
	clauseNone clause = iota
	clauseSelect
	clauseFrom
	clauseOn
	clauseWhere
	clauseExpr
)

type rawJoin struct {
	left, right int
	op          string
	joinType    string
}

// extractor 单遍扫描 token，表和别名在结束后统一解析
type extractor struct {
	toks   []token
	pos    int
	clause clause
	stack  []clause

	tables  []TableRef
	aliases map[string]int // 小写别名/表名 -> 表下标，-1 表示派生表或 CTE
	ctes    map[string]bool
	derived map[int]bool // 派生表右括号位置
	scopes  []string     // FROM 中依次出现的限定名

	refs      [][]string
	joins     []rawJoin
	joinWords []string
	joinType  string
	topEnd    int

	warnings []string
	warned   map[string]bool
}

func newExtractor(toks []token) *extractor {
	return &extractor{
		toks:    toks,
		aliases: make(map[string]int),
		ctes:    make(map[string]bool),
		derived: make(map[int]bool),
		warned:  make(map[string]bool),
		topEnd:  -1,
	}
}

func (x *extractor) peekAt(off int) token {
	if i := x.pos + off; i < len(x.toks) {
		return x.toks[i]
	}
	return x.toks[len(x.toks)-1]
}

func (x *extractor) peek() token { return x.peekAt(0) }

func (x *extractor) warn(msg string) {
	if !x.warned[msg] {
		x.warned[msg] = true
		x.warnings = append(x.warnings, msg)
	}
}

func (x *extractor) run() {
	x.findCTEs()
	for x.pos < len(x.toks) {
		t := x.toks[x.pos]
		switch {
		case t.kind == tokEOF:
			x.pos = len(x.toks)
		case t.is("("):
			x.stack = append(x.stack, x.clause)
			x.pos++
		case t.is(")"):
			closeAt := x.pos
			x.pos++
			if len(x.stack) == 0 {
				x.warn("unbalanced parentheses")
				continue
			}
			x.clause = x.stack[len(x.stack)-1]
			x.stack = x.stack[:len(x.stack)-1]
			if x.derived[closeAt] {
				if alias := x.alias(); alias != "" {
					x.aliases[strings.ToLower(alias)] = -1
					x.scopes = append(x.scopes, alias)
				}
				if x.peek().is(",") {
					x.pos++
					x.tableList()
				}
			}
		case isKeyword(t):
			x.keyword(t.keyword())
		case t.isIdent():
			x.identifier()
		default:
			x.pos++
		}
	}
	if len(x.stack) > 0 {
		x.warn("unbalanced parentheses")
	}
}

func (x *extractor) keyword(kw string) {
	x.pos++
	switch kw {
	case "SELECT":
		x.clause = clauseSelect
	case "FROM":
		x.clause = clauseFrom
		x.tableList()
	case "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL", "OUTER":
		if x.peek().is("(") {
			// LEFT(s, n) 之类的函数
			return
		}
		x.joinWords = append(x.joinWords, kw)
	case "JOIN", "APPLY":
		x.joinType = joinType(x.joinWords)
		x.joinWords = nil
		x.clause = clauseFrom
		x.tableRef(true)
		if x.peek().keyword() == "USING" {
			x.pos++
			x.using()
		}
	case "ON":
		x.clause = clauseOn
	case "WHERE":
		x.clause = clauseWhere
	case "GROUP", "ORDER", "HAVING", "SET", "RETURNING", "QUALIFY":
		x.clause = clauseExpr
	case "UPDATE":
		x.tableRef(true)
		x.clause = clauseNone
	case "INTO":
		key := x.tableRef(false)
		if key != "" && x.peek().is("(") {
			x.columnList(key)
		}
	case "UNION", "EXCEPT", "INTERSECT", "VALUES":
		x.clause = clauseNone
	case "TOP":
		if x.peek().is("(") {
			if closeAt := x.matching(x.pos); closeAt > 0 {
				x.pos = closeAt + 1
			}
		} else if x.peek().kind == tokNumber || x.peek().kind == tokParam {
			x.pos++
		}
		x.topEnd = x.pos
	}
}

func joinType(words []string) string {
	for _, w := range words {
		switch w {
		case "LEFT", "RIGHT", "FULL", "CROSS":
			return w
		}
	}
	return "INNER"
}

// findCTEs 预先识别 WITH name AS ( ... )
func (x *extractor) findCTEs() {
	for i := 1; i+2 < len(x.toks); i++ {
		prev, t := x.toks[i-1], x.toks[i]
		if !t.isIdent() || x.toks[i+1].keyword() != "AS" || !x.toks[i+2].is("(") {
			continue
		}
		if k := prev.keyword(); k == "WITH" || k == "RECURSIVE" || prev.is(",") {
			x.ctes[strings.ToLower(t.text)] = true
		}
	}
}

// matching 返回与 open 处左括号匹配的右括号位置，不存在返回 -1
func (x *extractor) matching(open int) int {
	depth := 0
	for i := open; i < len(x.toks); i++ {
		switch {
		case x.toks[i].is("("):
			depth++
		case x.toks[i].is(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (x *extractor) tableList() {
	for {
		x.tableRef(true)
		if !x.peek().is(",") || x.clause != clauseFrom {
			return
		}
		x.pos++
	}
}

// dotted 读取 a.b.c，不包含末尾的 .*
func (x *extractor) dotted() []string {
	parts := []string{x.toks[x.pos].text}
	x.pos++
	for x.peek().is(".") && x.peekAt(1).isIdent() {
		parts = append(parts, x.toks[x.pos+1].text)
		x.pos += 2
	}
	return parts
}

func (x *extractor) alias() string {
	if x.peek().keyword() == "AS" {
		x.pos++
		if t := x.peek(); t.isIdent() {
			x.pos++
			return t.text
		}
		return ""
	}
	if t := x.peek(); t.isIdent() && !isKeyword(t) {
		x.pos++
		return t.text
	}
	return ""
}

// tableRef 读取一个表引用并登记别名，返回用于限定列的名字；
// fn 为 true 时紧跟的左括号表示表值函数，否则是列清单
func (x *extractor) tableRef(fn bool) string {
	t := x.peek()
	if t.is("(") {
		if closeAt := x.matching(x.pos); closeAt > 0 {
			x.derived[closeAt] = true
		}
		return ""
	}
	if !t.isIdent() || isKeyword(t) {
		return ""
	}
	parts := x.dotted()
	if fn && x.peek().is("(") {
		return ""
	}
	ref := TableRef{Name: parts[len(parts)-1]}
	if len(parts) >= 2 {
		ref.Schema = parts[len(parts)-2]
	}
	alias := x.alias()
	key := strings.ToLower(ref.Name)
	scope := ref.FullName()
	if alias != "" {
		scope = alias
	}
	x.scopes = append(x.scopes, scope)

	if ref.Schema == "" && x.ctes[key] {
		x.aliases[key] = -1
		if alias != "" {
			x.aliases[strings.ToLower(alias)] = -1
		}
		return scope
	}

	ref.Alias = alias
	idx := x.addTable(ref)
	x.aliases[key] = idx
	x.aliases[strings.ToLower(ref.FullName())] = idx
	if alias != "" {
		x.aliases[strings.ToLower(alias)] = idx
	}
	return scope
}

func (x *extractor) addTable(ref TableRef) int {
	for i, t := range x.tables {
		if strings.EqualFold(t.FullName(), ref.FullName()) {
			return i
		}
	}
	x.tables = append(x.tables, ref)
	return len(x.tables) - 1
}

func (x *extractor) addRef(parts []string) int {
	x.refs = append(x.refs, parts)
	return len(x.refs) - 1
}

// identList 读取 ( a, b, c )
func (x *extractor) identList() []string {
	if !x.peek().is("(") {
		return nil
	}
	end := x.matching(x.pos)
	if end < 0 {
		x.warn("unbalanced parentheses")
		x.pos = len(x.toks)
		return nil
	}
	var names []string
	for i := x.pos + 1; i < end; i++ {
		if x.toks[i].isIdent() {
			names = append(names, x.toks[i].text)
		}
	}
	x.pos = end + 1
	return names
}

// using JOIN ... USING (col)：两侧同名列
func (x *extractor) using() {
	cols := x.identList()
	if len(x.scopes) < 2 {
		return
	}
	left, right := x.scopes[len(x.scopes)-2], x.scopes[len(x.scopes)-1]
	for _, c := range cols {
		l := x.addRef([]string{left, c})
		r := x.addRef([]string{right, c})
		x.joins = append(x.joins, rawJoin{left: l, right: r, op: "=", joinType: x.joinType})
	}
}

func (x *extractor) columnList(table string) {
	for _, c := range x.identList() {
		x.addRef([]string{table, c})
	}
}

func (x *extractor) identifier() {
	start := x.pos
	var prev token
	if start > 0 {
		prev = x.toks[start-1]
	}
	parts := x.dotted()
	if x.peek().is("(") {
		return
	}
	if x.peek().is(".") && x.peekAt(1).is("*") {
		x.pos += 2
		return
	}

	switch x.clause {
	case clauseSelect, clauseOn, clauseWhere, clauseExpr:
	default:
		return
	}
	if prev.keyword() == "AS" || prev.is("::") {
		return
	}
	if x.clause == clauseSelect && len(parts) == 1 && start != x.topEnd && endsExpr(prev) {
		// 隐式别名
		return
	}
	left := x.addRef(parts)

	if (x.clause != clauseOn && x.clause != clauseWhere) || !isComparison(x.peek()) {
		return
	}
	next := x.peekAt(1)
	if !next.isIdent() || isKeyword(next) {
		return
	}
	op := x.peek().text
	x.pos++
	rparts := x.dotted()
	if x.peek().is("(") {
		return
	}
	right := x.addRef(rparts)

	if x.clause == clauseOn {
		x.joins = append(x.joins, rawJoin{left: left, right: right, op: op, joinType: x.joinType})
		return
	}
	// WHERE 中两侧限定不同的等值比较视为隐式连接
	if len(parts) > 1 && len(rparts) > 1 && op == "=" &&
		!strings.EqualFold(strings.Join(parts[:len(parts)-1], "."), strings.Join(rparts[:len(rparts)-1], ".")) {
		x.joins = append(x.joins, rawJoin{left: left, right: right, op: op, joinType: "IMPLICIT"})
	}
}

// endsExpr 上一个 token 结束了一个表达式，后面的标识符只能是别名
func endsExpr(prev token) bool {
	switch prev.kind {
	case tokQuotedIdent, tokNumber, tokString, tokParam:
		return true
	case tokIdent:
		return !isKeyword(prev) || prev.keyword() == "END"
	case tokSymbol:
		return prev.text == ")"
	}
	return false
}

func (x *extractor) resolveRef(parts []string) ColumnRef {
	c := ColumnRef{Name: parts[len(parts)-1]}
	q := parts[:len(parts)-1]
	if len(q) == 0 {
		if len(x.tables) == 1 && !x.hasDerived() {
			c.Table = x.tables[0].FullName()
			c.Confidence = ConfidenceScoped
		} else {
			c.Confidence = ConfidenceAmbiguous
		}
		return c
	}

	c.Qualifier = strings.Join(q, ".")
	idx, ok := x.aliases[strings.ToLower(c.Qualifier)]
	if !ok {
		idx, ok = x.aliases[strings.ToLower(q[len(q)-1])]
	}
	switch {
	case ok && idx >= 0:
		c.Table = x.tables[idx].FullName()
		c.Confidence = ConfidenceQualified
	case ok:
		c.Confidence = ConfidenceScoped
	default:
		c.Confidence = ConfidenceAmbiguous
		x.warn(fmt.Sprintf("unknown qualifier %q", c.Qualifier))
	}
	return c
}

// hasDerived 作用域中是否有派生表或 CTE
func (x *extractor) hasDerived() bool {
	for _, idx := range x.aliases {
		if idx < 0 {
			return true
		}
	}
	return false
}

func (x *extractor) resolve() *Analysis {
	a := &Analysis{
		Tables:         append([]TableRef{}, x.tables...),
		Columns:        []ColumnRef{},
		JoinConditions: []JoinCondition{},
		Confidence:     ConfidenceQualified,
	}

	resolved := make([]ColumnRef, len(x.refs))
	seen := make(map[string]bool)
	for i, parts := range x.refs {
		c := x.resolveRef(parts)
		resolved[i] = c
		if c.Confidence < a.Confidence {
			a.Confidence = c.Confidence
		}
		key := strings.ToLower(c.String())
		if !seen[key] {
			seen[key] = true
			a.Columns = append(a.Columns, c)
		}
	}

	for _, j := range x.joins {
		l, r := resolved[j.left], resolved[j.right]
		conf := l.Confidence
		if r.Confidence < conf {
			conf = r.Confidence
		}
		a.JoinConditions = append(a.JoinConditions, JoinCondition{
			Left: l, Right: r, Operator: j.op, JoinType: j.joinType, Confidence: conf,
		})
	}

	if len(x.tables) == 0 && len(x.aliases) == 0 {
		x.warn("no table references found")
		a.Confidence = 0
	}
	a.Warnings = x.warnings
	return a
}
