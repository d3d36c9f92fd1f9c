package sqlparse

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keyword 未加引号的标识符按大写比较
func (t token) keyword() string {
	if t.kind != tokIdent {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) isIdent() bool {
	return t.kind == tokIdent || t.kind == tokQuotedIdent
}

func (t token) is(sym string) bool {
	return t.kind == tokSymbol && t.text == sym
}

// lexer 按方言的引用规则切分 SQL
type lexer struct {
	input   string
	pos     int
	dialect Dialect
	// problems 未闭合的字符串、引用或注释
	problems []string
}

func newLexer(input string, d Dialect) *lexer {
	return &lexer{input: input, dialect: d}
}

func (l *lexer) peek(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *lexer) tokens() []token {
	var out []token
	for {
		t := l.next()
		out = append(out, t)
		if t.kind == tokEOF {
			return out
		}
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.pos++
		case ch == '-' && l.peek(1) == '-':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '#' && l.dialect == MySQL:
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.peek(1) == '*':
			end := strings.Index(l.input[l.pos+2:], "*/")
			if end < 0 {
				l.problems = append(l.problems, "unterminated block comment")
				l.pos = len(l.input)
				return
			}
			l.pos += end + 4
		default:
			return
		}
	}
}

func (l *lexer) next() token {
	l.skipSpaceAndComments()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: start}
	}

	ch := l.input[l.pos]
	switch {
	case ch == '\'':
		return token{kind: tokString, text: l.readQuoted('\'', "string literal"), pos: start}
	case ch == '"' && l.dialect == MySQL:
		return token{kind: tokString, text: l.readQuoted('"', "string literal"), pos: start}
	case ch == '"':
		return token{kind: tokQuotedIdent, text: l.readQuoted('"', "quoted identifier"), pos: start}
	case ch == '`' && l.dialect == MySQL:
		return token{kind: tokQuotedIdent, text: l.readQuoted('`', "quoted identifier"), pos: start}
	case ch == '[' && l.dialect == SQLServer:
		return token{kind: tokQuotedIdent, text: l.readQuoted(']', "bracketed identifier"), pos: start}
	case isDigit(ch):
		return token{kind: tokNumber, text: l.readNumber(), pos: start}
	case ch == '?':
		l.pos++
		return token{kind: tokParam, text: "?", pos: start}
	case (ch == '$' || ch == ':') && isDigit(l.peek(1)):
		l.pos++
		l.readNumber()
		return token{kind: tokParam, text: l.input[start:l.pos], pos: start}
	case ch == '@' || (ch == ':' && isIdentStart(l.peek(1))):
		l.pos++
		for l.pos < len(l.input) && (isIdentPart(l.input[l.pos]) || l.input[l.pos] == '@') {
			l.pos++
		}
		return token{kind: tokParam, text: l.input[start:l.pos], pos: start}
	case isIdentStart(ch):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}
	}

	// 双字符运算符
	if l.pos+1 < len(l.input) {
		switch two := l.input[l.pos : l.pos+2]; two {
		case "<=", ">=", "<>", "!=", "::", "||":
			l.pos += 2
			return token{kind: tokSymbol, text: two, pos: start}
		}
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	return token{kind: tokSymbol, text: string(r), pos: start}
}

// readQuoted 读取引用内容，成对的结束符表示转义
func (l *lexer) readQuoted(closer byte, what string) string {
	l.pos++ // 开始符
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == closer {
			if l.peek(1) == closer {
				b.WriteByte(closer)
				l.pos += 2
				continue
			}
			l.pos++
			return b.String()
		}
		b.WriteByte(ch)
		l.pos++
	}
	l.problems = append(l.problems, "unterminated "+what)
	return b.String()
}

func (l *lexer) readNumber() string {
	start := l.pos
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
		l.pos++
	}
	return l.input[start:l.pos]
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= utf8.RuneSelf || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
