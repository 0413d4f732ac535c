package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr узел разобранного удаленного фильтра
type Expr interface {
	render(column ColumnFunc, args *[]any) string
}

// ColumnFunc отображает имя поля записи на SQL выражение колонки
type ColumnFunc func(field string) string

type orExpr []Expr

type andExpr []Expr

// Condition сравнение поля с литералом
type Condition struct {
	Value any
	Field string
	Op    Op
}

func (e orExpr) render(column ColumnFunc, args *[]any) string {
	parts := make([]string, len(e))
	for i, sub := range e {
		parts[i] = sub.render(column, args)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (e andExpr) render(column ColumnFunc, args *[]any) string {
	parts := make([]string, len(e))
	for i, sub := range e {
		parts[i] = sub.render(column, args)
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (c Condition) render(column ColumnFunc, args *[]any) string {
	col := column(c.Field)
	value := c.Value
	switch v := value.(type) {
	case bool:
		if v {
			value = 1
		} else {
			value = 0
		}
	case string:
		// пустая строка совпадает и с отсутствующим полем
		if v == "" {
			col = "COALESCE(" + col + ", '')"
		}
	}
	*args = append(*args, value)
	return fmt.Sprintf("%s %s ?", col, c.Op)
}

// RenderSQL превращает разобранный фильтр в условие WHERE и параметры
func RenderSQL(e Expr, column ColumnFunc) (string, []any) {
	if e == nil {
		return "", nil
	}
	var args []any
	return e.render(column, &args), args
}

// ParseRemote разбирает строку фильтра удаленного backend'а:
//
//	expr := and ('||' and)*
//	and  := unary ('&&' unary)*
//	unary := '(' expr ')' | field op literal
//
// Литералы: строки в двойных или одинарных кавычках, числа, true, false, null.
// Пустая строка возвращает nil.
func ParseRemote(input string) (Expr, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidFilter, p.tokens[p.pos].text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	text string
	kind tokenKind
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	items := orExpr{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return items, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	items := andExpr{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return items, nil
}

func (p *parser) parseUnary() (Expr, error) {
	t, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrInvalidFilter)
	}

	if t.kind == tokLParen {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.next()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ')'", ErrInvalidFilter)
		}
		return inner, nil
	}

	if t.kind != tokIdent || !ValidIdentifier(t.text) {
		return nil, fmt.Errorf("%w: expected field, got %q", ErrInvalidFilter, t.text)
	}

	opTok, ok := p.next()
	if !ok || opTok.kind != tokOp {
		return nil, fmt.Errorf("%w: expected operator after %q", ErrInvalidFilter, t.text)
	}

	litTok, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("%w: expected value after %q", ErrInvalidFilter, opTok.text)
	}
	value, err := literalValue(litTok)
	if err != nil {
		return nil, err
	}

	return Condition{Field: t.text, Op: Op(opTok.text), Value: value}, nil
}

func literalValue(t token) (any, error) {
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrInvalidFilter, t.text)
		}
		return f, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return "", nil
		}
	}
	return nil, fmt.Errorf("%w: expected literal, got %q", ErrInvalidFilter, t.text)
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("%w: stray %q", ErrInvalidFilter, string(r))
			}
			kind := tokAnd
			if r == '|' {
				kind = tokOr
			}
			tokens = append(tokens, token{kind: kind, text: string([]rune{r, r})})
			i += 2
		case r == '"' || r == '\'':
			s, n, err := readString(runes[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: s})
			i += n
		case r == '=' || r == '!' || r == '<' || r == '>':
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
			}
			if !Op(op).Valid() {
				return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
			}
			tokens = append(tokens, token{kind: tokOp, text: op})
			i += len(op)
		case r == '-' || unicode.IsDigit(r):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[i:j])})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrInvalidFilter, string(r))
		}
	}

	return tokens, nil
}

// readString читает строковый литерал в кавычках, поддерживая \" и \\
func readString(runes []rune) (string, int, error) {
	quoteRune := runes[0]
	var b strings.Builder
	for i := 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				b.WriteRune(runes[i+1])
				i++
			}
		case quoteRune:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrInvalidFilter)
}
