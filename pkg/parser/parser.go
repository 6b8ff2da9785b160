// Package parser turns a lexer.Token stream into the ast.Template tree.
//
// The parser is a recursive-descent, precedence-climbing parser with a
// two-token lookahead window (curTok/peekTok), in the same style as
// the rest of this module's hand-written parsers: each grammar rule is
// one method, and a failed parse records an error message (lexer
// errors included) rather than panicking, so the caller can decide whether to keep going.
//
// Expression precedence, loosest to tightest:
//
//	ternary if/else
//	or
//	and
//	not
//	comparisons (== != < <= > >= in, is test)
//	~ (string concat)
//	+ -
//	* / // %
//	unary -
//	**
//	postfix (.attr [idx] (call) |filter)
//	primary (literals, names, (expr), [list], {map})
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/mjcore/pkg/ast"
	"github.com/kristofer/mjcore/pkg/lexer"
)

// Parser holds the state for one parse of one template source.
type Parser struct {
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
	errors  []string
}

// New creates a parser over the given template source.
func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.curTok = p.peekTok
	tok, err := p.l.NextToken()
	if err != nil {
		p.errors = append(p.errors, err.Error())
		tok = lexer.Token{Kind: lexer.TokenIllegal, Span: tok.Span}
	}
	p.peekTok = tok
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) addError(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *Parser) span() lexer.Span { return p.curTok.Span }

// Parse parses the full template and returns its AST, along with an
// error aggregating every syntax error seen.
func (p *Parser) Parse() (*ast.Template, error) {
	sp := p.span()
	body := p.parseStmts()
	if p.curTok.Kind != lexer.TokenEOF {
		p.addError("unexpected trailing token %s", p.curTok.Kind)
	}
	if len(p.errors) > 0 {
		return &ast.Template{Body: body, Sp: sp}, fmt.Errorf("parse errors: %v", p.errors)
	}
	return &ast.Template{Body: body, Sp: sp}, nil
}

// parseStmts parses statements until EOF or a block-ending keyword is
// seen at the top of a `{% ... %}` tag (endif, endfor, else, elif,
// endblock, endwith, endautoescape, endfilter, endmacro, endset).
func (p *Parser) parseStmts() []ast.Stmt {
	var out []ast.Stmt
	for p.curTok.Kind != lexer.TokenEOF && !p.atBlockEnd() {
		stmt := p.parseStmt()
		if stmt != nil {
			out = append(out, stmt)
		}
	}
	return out
}

var blockEndKeywords = map[string]bool{
	"endif": true, "else": true, "elif": true,
	"endfor": true,
	"endblock": true, "endwith": true, "endautoescape": true,
	"endfilter": true, "endmacro": true, "endset": true,
}

func (p *Parser) atBlockEnd() bool {
	return p.curTok.Kind == lexer.TokenBlockStart &&
		p.peekTok.Kind == lexer.TokenIdent && blockEndKeywords[p.peekTok.Literal]
}

func (p *Parser) parseStmt() ast.Stmt {
	switch p.curTok.Kind {
	case lexer.TokenTemplateData:
		s := &ast.EmitRaw{Data: p.curTok.Literal, Sp: p.span()}
		p.next()
		return s
	case lexer.TokenVariableStart:
		return p.parseEmitExpr()
	case lexer.TokenBlockStart:
		return p.parseBlockTag()
	default:
		p.addError("unexpected token %s in template body", p.curTok.Kind)
		p.next()
		return nil
	}
}

func (p *Parser) parseEmitExpr() ast.Stmt {
	sp := p.span()
	p.next() // consume {{
	expr := p.parseExpr()
	if p.curTok.Kind != lexer.TokenVariableEnd {
		p.addError("expected }} to close expression")
	} else {
		p.next()
	}
	return &ast.EmitExpr{Expr: expr, Sp: sp}
}

// tagNameIs reports whether the current token is the identifier want;
// it consumes nothing.
func (p *Parser) tagNameIs(want string) bool {
	return p.curTok.Kind == lexer.TokenIdent && p.curTok.Literal == want
}

func (p *Parser) parseBlockTag() ast.Stmt {
	sp := p.span()
	p.next() // consume {%
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected tag name after {%%")
		p.skipToBlockEnd()
		return nil
	}
	name := p.curTok.Literal
	switch name {
	case "if":
		return p.parseIf(sp)
	case "for":
		return p.parseFor(sp)
	case "set":
		return p.parseSet(sp)
	case "with":
		return p.parseWith(sp)
	case "block":
		return p.parseBlock(sp)
	case "extends":
		return p.parseExtends(sp)
	case "include":
		return p.parseInclude(sp)
	case "import", "from":
		return p.parseImport(sp, name)
	case "autoescape":
		return p.parseAutoEscape(sp)
	case "filter":
		return p.parseFilterBlock(sp)
	case "macro":
		return p.parseMacro(sp)
	default:
		p.addError("unknown tag %q", name)
		p.skipToBlockEnd()
		return nil
	}
}

// skipToBlockEnd recovers from a malformed tag by consuming tokens up
// to and including the next %}.
func (p *Parser) skipToBlockEnd() {
	for p.curTok.Kind != lexer.TokenBlockEnd && p.curTok.Kind != lexer.TokenEOF {
		p.next()
	}
	if p.curTok.Kind == lexer.TokenBlockEnd {
		p.next()
	}
}

func (p *Parser) expectBlockEnd() {
	if p.curTok.Kind != lexer.TokenBlockEnd {
		p.addError("expected %%} to close tag, got %s", p.curTok.Kind)
		p.skipToBlockEnd()
		return
	}
	p.next()
}

// expectOpenTag consumes `{%` name and leaves curTok positioned just past
// the tag name, ready for arguments.
func (p *Parser) expectOpenTag(name string) bool {
	if p.curTok.Kind != lexer.TokenBlockStart || p.peekTok.Literal != name {
		p.addError("expected {%% %s %%}", name)
		return false
	}
	p.next() // {%
	p.next() // name
	return true
}

func (p *Parser) parseIf(sp lexer.Span) ast.Stmt {
	node := &ast.IfCond{Sp: sp}
	p.next() // consume "if"
	test := p.parseExpr()
	p.expectBlockEnd()
	body := p.parseStmts()
	node.Branches = append(node.Branches, ast.CondBranch{Test: test, Body: body})

	for p.tagStartsWith("elif") {
		p.next() // {%
		p.next() // elif
		t := p.parseExpr()
		p.expectBlockEnd()
		b := p.parseStmts()
		node.Branches = append(node.Branches, ast.CondBranch{Test: t, Body: b})
	}
	if p.tagStartsWith("else") {
		p.next()
		p.next()
		p.expectBlockEnd()
		node.ElseBody = p.parseStmts()
	}
	if !p.expectOpenTag("endif") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) tagStartsWith(name string) bool {
	return p.curTok.Kind == lexer.TokenBlockStart && p.peekTok.Kind == lexer.TokenIdent && p.peekTok.Literal == name
}

func (p *Parser) parseFor(sp lexer.Span) ast.Stmt {
	node := &ast.ForLoop{Sp: sp}
	p.next() // consume "for"
	node.Target = p.parseAssignTarget()
	if !p.tagNameIsLiteral("in") {
		p.addError("expected 'in' in for loop")
	} else {
		p.next()
	}
	node.Iter = p.parseExprNoCond()
	if p.tagNameIsLiteral("if") {
		p.next()
		node.FilterExpr = p.parseExpr()
	}
	if p.tagNameIsLiteral("recursive") {
		p.next()
		node.Recursive = true
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if p.tagStartsWith("else") {
		p.next()
		p.next()
		p.expectBlockEnd()
		node.ElseBody = p.parseStmts()
	}
	if !p.expectOpenTag("endfor") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

// tagNameIsLiteral checks for a bare identifier acting as a keyword
// while scanning tag arguments (not at a {% boundary).
func (p *Parser) tagNameIsLiteral(word string) bool {
	return p.curTok.Kind == lexer.TokenIdent && p.curTok.Literal == word
}

func (p *Parser) parseAssignTarget() ast.AssignTarget {
	sp := p.span()
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected identifier in assignment target")
		return ast.AssignTarget{Sp: sp}
	}
	first := p.curTok.Literal
	p.next()
	if p.curTok.Kind == lexer.TokenComma {
		names := []string{first}
		for p.curTok.Kind == lexer.TokenComma {
			p.next()
			if p.curTok.Kind != lexer.TokenIdent {
				p.addError("expected identifier after , in unpack target")
				break
			}
			names = append(names, p.curTok.Literal)
			p.next()
		}
		return ast.AssignTarget{List: names, Sp: sp}
	}
	return ast.AssignTarget{Name: first, Sp: sp}
}

func (p *Parser) parseSet(sp lexer.Span) ast.Stmt {
	node := &ast.SetStmt{Sp: sp}
	p.next() // consume "set"
	node.Target = p.parseAssignTarget()
	if p.curTok.Kind == lexer.TokenPipe {
		p.next()
		if p.curTok.Kind != lexer.TokenIdent {
			p.addError("expected filter name after |")
		} else {
			node.Filter = p.curTok.Literal
			p.next()
		}
	}
	if p.curTok.Kind == lexer.TokenAssign {
		p.next()
		node.Value = p.parseExpr()
		p.expectBlockEnd()
		return node
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endset") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseWith(sp lexer.Span) ast.Stmt {
	node := &ast.WithBlock{Sp: sp}
	p.next() // consume "with"
	for p.curTok.Kind == lexer.TokenIdent {
		target := p.parseAssignTarget()
		if p.curTok.Kind != lexer.TokenAssign {
			p.addError("expected = in with-binding")
			break
		}
		p.next()
		val := p.parseExpr()
		node.Targets = append(node.Targets, target)
		node.Values = append(node.Values, val)
		if p.curTok.Kind == lexer.TokenComma {
			p.next()
			continue
		}
		break
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endwith") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseBlock(sp lexer.Span) ast.Stmt {
	node := &ast.Block{Sp: sp}
	p.next() // consume "block"
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected block name")
	} else {
		node.Name = p.curTok.Literal
		p.next()
	}
	for p.curTok.Kind == lexer.TokenIdent {
		switch p.curTok.Literal {
		case "scoped":
			node.Scoped = true
			p.next()
		case "required":
			node.Required = true
			p.next()
		default:
			p.addError("unexpected modifier %q on block tag", p.curTok.Literal)
			p.next()
		}
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endblock") {
		p.skipToBlockEnd()
		return node
	}
	// optional repeated name after endblock
	if p.curTok.Kind == lexer.TokenIdent {
		p.next()
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseExtends(sp lexer.Span) ast.Stmt {
	p.next() // consume "extends"
	if p.curTok.Kind != lexer.TokenString {
		p.addError("expected template name string after extends")
		p.skipToBlockEnd()
		return &ast.Extends{Sp: sp}
	}
	name := p.curTok.Literal
	p.next()
	p.expectBlockEnd()
	return &ast.Extends{Name: name, Sp: sp}
}

func (p *Parser) parseInclude(sp lexer.Span) ast.Stmt {
	node := &ast.Include{Sp: sp}
	p.next() // consume "include"
	node.Name = p.parseExpr()
	if p.tagNameIsLiteral("ignore") {
		p.next()
		if p.tagNameIsLiteral("missing") {
			p.next()
			node.IgnoreMissing = true
		}
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseImport(sp lexer.Span, kind string) ast.Stmt {
	node := &ast.Import{Sp: sp}
	p.next() // consume "import"/"from"
	node.Template = p.parseExpr()
	if kind == "import" {
		if p.tagNameIsLiteral("as") {
			p.next()
			if p.curTok.Kind == lexer.TokenIdent {
				node.Target = p.curTok.Literal
				p.next()
			}
		}
	} else {
		if p.tagNameIsLiteral("import") {
			p.next()
		}
		for p.curTok.Kind == lexer.TokenIdent {
			node.Names = append(node.Names, p.curTok.Literal)
			p.next()
			if p.curTok.Kind == lexer.TokenComma {
				p.next()
				continue
			}
			break
		}
	}
	if p.tagNameIsLiteral("with") {
		p.next()
		if p.tagNameIsLiteral("context") {
			p.next()
			node.WithContext = true
		}
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseAutoEscape(sp lexer.Span) ast.Stmt {
	node := &ast.AutoEscape{Sp: sp}
	p.next() // consume "autoescape"
	node.Mode = p.parseExpr()
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endautoescape") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseFilterBlock(sp lexer.Span) ast.Stmt {
	node := &ast.FilterBlock{Sp: sp}
	p.next() // consume "filter"
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected filter name")
	} else {
		node.Name = p.curTok.Literal
		p.next()
	}
	if p.curTok.Kind == lexer.TokenLParen {
		node.Args = p.parseCallArgs()
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endfilter") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

func (p *Parser) parseMacro(sp lexer.Span) ast.Stmt {
	node := &ast.Macro{Sp: sp}
	p.next() // consume "macro"
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected macro name")
	} else {
		node.Name = p.curTok.Literal
		p.next()
	}
	if p.curTok.Kind == lexer.TokenLParen {
		p.next()
		for p.curTok.Kind != lexer.TokenRParen && p.curTok.Kind != lexer.TokenEOF {
			if p.curTok.Kind != lexer.TokenIdent {
				p.addError("expected parameter name")
				break
			}
			node.Params = append(node.Params, p.curTok.Literal)
			p.next()
			if p.curTok.Kind == lexer.TokenAssign {
				p.next()
				node.Defaults = append(node.Defaults, p.parseExpr())
			} else {
				node.Defaults = append(node.Defaults, nil)
			}
			if p.curTok.Kind == lexer.TokenComma {
				p.next()
				continue
			}
			break
		}
		if p.curTok.Kind == lexer.TokenRParen {
			p.next()
		}
	}
	p.expectBlockEnd()
	node.Body = p.parseStmts()
	if !p.expectOpenTag("endmacro") {
		p.skipToBlockEnd()
		return node
	}
	p.expectBlockEnd()
	return node
}

// ---- expressions ----

// parseExpr parses a full expression including the ternary if/else
// form and top-level `and`/`or`.
func (p *Parser) parseExpr() ast.Expr {
	return p.parseTernary()
}

// parseExprNoCond is used where a trailing `if` must be left for the
// caller to interpret as a loop filter (`{% for x in xs if x.ok %}`)
// rather than consumed as a ternary.
func (p *Parser) parseExprNoCond() ast.Expr {
	return p.parseOr()
}

func (p *Parser) parseTernary() ast.Expr {
	expr := p.parseOr()
	if p.tagNameIsLiteral("if") {
		sp := p.span()
		p.next()
		test := p.parseOr()
		var elseExpr ast.Expr
		if p.tagNameIsLiteral("else") {
			p.next()
			elseExpr = p.parseTernary()
		}
		return &ast.IfExpr{Test: test, True: expr, False: elseExpr, Sp: sp}
	}
	return expr
}

func (p *Parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.tagNameIsLiteral("or") {
		sp := p.span()
		p.next()
		right := p.parseAnd()
		left = &ast.BinOp{Op: ast.BinScOr, Left: left, Right: right, Sp: sp}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	left := p.parseNot()
	for p.tagNameIsLiteral("and") {
		sp := p.span()
		p.next()
		right := p.parseNot()
		left = &ast.BinOp{Op: ast.BinScAnd, Left: left, Right: right, Sp: sp}
	}
	return left
}

func (p *Parser) parseNot() ast.Expr {
	if p.tagNameIsLiteral("not") {
		sp := p.span()
		p.next()
		operand := p.parseNot()
		return &ast.UnaryOp{Op: ast.UnaryNot, Expr: operand, Sp: sp}
	}
	return p.parseCompare()
}

func (p *Parser) parseCompare() ast.Expr {
	left := p.parseConcat()
	for {
		var op ast.BinOpKind
		switch p.curTok.Kind {
		case lexer.TokenEq:
			op = ast.BinEq
		case lexer.TokenNe:
			op = ast.BinNe
		case lexer.TokenLt:
			op = ast.BinLt
		case lexer.TokenLte:
			op = ast.BinLte
		case lexer.TokenGt:
			op = ast.BinGt
		case lexer.TokenGte:
			op = ast.BinGte
		default:
			if p.tagNameIsLiteral("in") {
				sp := p.span()
				p.next()
				right := p.parseConcat()
				left = &ast.BinOp{Op: ast.BinIn, Left: left, Right: right, Sp: sp}
				continue
			}
			if p.tagNameIsLiteral("not") && p.peekTok.Literal == "in" {
				sp := p.span()
				p.next()
				p.next()
				right := p.parseConcat()
				in := &ast.BinOp{Op: ast.BinIn, Left: left, Right: right, Sp: sp}
				left = &ast.UnaryOp{Op: ast.UnaryNot, Expr: in, Sp: sp}
				continue
			}
			if p.tagNameIsLiteral("is") {
				left = p.parseTest(left)
				continue
			}
			return left
		}
		sp := p.span()
		p.next()
		right := p.parseConcat()
		left = &ast.BinOp{Op: op, Left: left, Right: right, Sp: sp}
	}
}

func (p *Parser) parseTest(expr ast.Expr) ast.Expr {
	sp := p.span()
	p.next() // consume "is"
	negate := false
	if p.tagNameIsLiteral("not") {
		negate = true
		p.next()
	}
	if p.curTok.Kind != lexer.TokenIdent {
		p.addError("expected test name after 'is'")
		return expr
	}
	name := p.curTok.Literal
	p.next()
	var args []ast.Expr
	if p.curTok.Kind == lexer.TokenLParen {
		args = p.parseCallArgs()
	} else if canStartPrimary(p.curTok.Kind) && p.curTok.Kind != lexer.TokenIdent {
		args = append(args, p.parsePostfix())
	}
	return &ast.Test{Expr: expr, Name: name, Args: args, Negate: negate, Sp: sp}
}

func canStartPrimary(k lexer.TokenKind) bool {
	switch k {
	case lexer.TokenInt, lexer.TokenFloat, lexer.TokenString, lexer.TokenIdent,
		lexer.TokenLParen, lexer.TokenLBracket, lexer.TokenLBrace, lexer.TokenMinus:
		return true
	}
	return false
}

func (p *Parser) parseConcat() ast.Expr {
	left := p.parseAdditive()
	for p.curTok.Kind == lexer.TokenTilde {
		sp := p.span()
		p.next()
		right := p.parseAdditive()
		left = &ast.BinOp{Op: ast.BinConcat, Left: left, Right: right, Sp: sp}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.curTok.Kind == lexer.TokenPlus || p.curTok.Kind == lexer.TokenMinus {
		op := ast.BinAdd
		if p.curTok.Kind == lexer.TokenMinus {
			op = ast.BinSub
		}
		sp := p.span()
		p.next()
		right := p.parseMultiplicative()
		left = &ast.BinOp{Op: op, Left: left, Right: right, Sp: sp}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parseUnary()
	for {
		var op ast.BinOpKind
		switch p.curTok.Kind {
		case lexer.TokenStar:
			op = ast.BinMul
		case lexer.TokenSlash:
			op = ast.BinDiv
		case lexer.TokenSlashSlash:
			op = ast.BinFloorDiv
		case lexer.TokenPercent:
			op = ast.BinRem
		default:
			return left
		}
		sp := p.span()
		p.next()
		right := p.parseUnary()
		left = &ast.BinOp{Op: op, Left: left, Right: right, Sp: sp}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	if p.curTok.Kind == lexer.TokenMinus {
		sp := p.span()
		p.next()
		operand := p.parseUnary()
		return &ast.UnaryOp{Op: ast.UnaryNeg, Expr: operand, Sp: sp}
	}
	if p.curTok.Kind == lexer.TokenPlus {
		p.next()
		return p.parseUnary()
	}
	return p.parsePow()
}

func (p *Parser) parsePow() ast.Expr {
	left := p.parsePostfix()
	if p.curTok.Kind == lexer.TokenStarStar {
		sp := p.span()
		p.next()
		right := p.parseUnary() // right-associative
		return &ast.BinOp{Op: ast.BinPow, Left: left, Right: right, Sp: sp}
	}
	return left
}

// parsePostfix handles attribute/index/call access and the pipe
// filter chain, all left-associative and of equal, tightest
// precedence.
func (p *Parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()
	for {
		switch p.curTok.Kind {
		case lexer.TokenDot:
			sp := p.span()
			p.next()
			if p.curTok.Kind != lexer.TokenIdent {
				p.addError("expected identifier after .")
				return expr
			}
			name := p.curTok.Literal
			p.next()
			if p.curTok.Kind == lexer.TokenLParen {
				args, kwargs := p.parseCallArgsKw()
				expr = &ast.Call{Kind: ast.CallMethod, Func: expr, Name: name, Args: args, Kwargs: kwargs, Sp: sp}
			} else {
				expr = &ast.GetAttr{Expr: expr, Name: name, Sp: sp}
			}
		case lexer.TokenLBracket:
			sp := p.span()
			p.next()
			idx := p.parseExpr()
			if p.curTok.Kind != lexer.TokenRBracket {
				p.addError("expected ] to close subscript")
			} else {
				p.next()
			}
			expr = &ast.GetItem{Expr: expr, Index: idx, Sp: sp}
		case lexer.TokenLParen:
			sp := p.span()
			args, kwargs := p.parseCallArgsKw()
			expr = &ast.Call{Kind: ast.CallObject, Func: expr, Args: args, Kwargs: kwargs, Sp: sp}
		case lexer.TokenPipe:
			sp := p.span()
			p.next()
			if p.curTok.Kind != lexer.TokenIdent {
				p.addError("expected filter name after |")
				return expr
			}
			name := p.curTok.Literal
			p.next()
			var args []ast.Expr
			var kwargs []ast.Kwarg
			if p.curTok.Kind == lexer.TokenLParen {
				args, kwargs = p.parseCallArgsKw()
			}
			expr = &ast.Filter{Expr: expr, Name: name, Args: args, Kwargs: kwargs, Sp: sp}
		default:
			return expr
		}
	}
}

func (p *Parser) parseCallArgs() []ast.Expr {
	args, _ := p.parseCallArgsKw()
	return args
}

func (p *Parser) parseCallArgsKw() ([]ast.Expr, []ast.Kwarg) {
	var args []ast.Expr
	var kwargs []ast.Kwarg
	p.next() // consume (
	for p.curTok.Kind != lexer.TokenRParen && p.curTok.Kind != lexer.TokenEOF {
		if p.curTok.Kind == lexer.TokenIdent && p.peekTok.Kind == lexer.TokenAssign {
			name := p.curTok.Literal
			p.next()
			p.next()
			kwargs = append(kwargs, ast.Kwarg{Name: name, Value: p.parseExpr()})
		} else {
			args = append(args, p.parseExpr())
		}
		if p.curTok.Kind == lexer.TokenComma {
			p.next()
			continue
		}
		break
	}
	if p.curTok.Kind != lexer.TokenRParen {
		p.addError("expected ) to close argument list")
	} else {
		p.next()
	}
	return args, kwargs
}

func (p *Parser) parsePrimary() ast.Expr {
	sp := p.span()
	switch p.curTok.Kind {
	case lexer.TokenInt:
		lit := p.curTok.Literal
		p.next()
		v, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			p.addError("invalid integer literal %q", lit)
		}
		return &ast.Const{Kind: ast.ConstInt, Int: v, Sp: sp}
	case lexer.TokenFloat:
		lit := p.curTok.Literal
		p.next()
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.addError("invalid float literal %q", lit)
		}
		return &ast.Const{Kind: ast.ConstFloat, Float: v, Sp: sp}
	case lexer.TokenString:
		lit := p.curTok.Literal
		p.next()
		return &ast.Const{Kind: ast.ConstString, Str: lit, Sp: sp}
	case lexer.TokenIdent:
		name := p.curTok.Literal
		p.next()
		switch name {
		case "true", "True":
			return &ast.Const{Kind: ast.ConstBool, Bool: true, Sp: sp}
		case "false", "False":
			return &ast.Const{Kind: ast.ConstBool, Bool: false, Sp: sp}
		case "none", "None", "null":
			return &ast.Const{Kind: ast.ConstNone, Sp: sp}
		}
		if p.curTok.Kind == lexer.TokenLParen {
			args, kwargs := p.parseCallArgsKw()
			return &ast.Call{Kind: ast.CallFunction, Name: name, Args: args, Kwargs: kwargs, Sp: sp}
		}
		return &ast.Var{Name: name, Sp: sp}
	case lexer.TokenLParen:
		p.next()
		expr := p.parseExpr()
		if p.curTok.Kind != lexer.TokenRParen {
			p.addError("expected ) to close parenthesized expression")
		} else {
			p.next()
		}
		return expr
	case lexer.TokenLBracket:
		return p.parseListLiteral(sp)
	case lexer.TokenLBrace:
		return p.parseMapLiteral(sp)
	default:
		p.addError("unexpected token %s in expression", p.curTok.Kind)
		p.next()
		return &ast.Const{Kind: ast.ConstNone, Sp: sp}
	}
}

func (p *Parser) parseListLiteral(sp lexer.Span) ast.Expr {
	p.next() // consume [
	var items []ast.Expr
	for p.curTok.Kind != lexer.TokenRBracket && p.curTok.Kind != lexer.TokenEOF {
		items = append(items, p.parseExpr())
		if p.curTok.Kind == lexer.TokenComma {
			p.next()
			continue
		}
		break
	}
	if p.curTok.Kind != lexer.TokenRBracket {
		p.addError("expected ] to close list literal")
	} else {
		p.next()
	}
	return &ast.List{Items: items, Sp: sp}
}

func (p *Parser) parseMapLiteral(sp lexer.Span) ast.Expr {
	p.next() // consume {
	var entries []ast.MapEntry
	for p.curTok.Kind != lexer.TokenRBrace && p.curTok.Kind != lexer.TokenEOF {
		key := p.parseExpr()
		if p.curTok.Kind != lexer.TokenColon {
			p.addError("expected : in map literal")
		} else {
			p.next()
		}
		val := p.parseExpr()
		entries = append(entries, ast.MapEntry{Key: key, Value: val})
		if p.curTok.Kind == lexer.TokenComma {
			p.next()
			continue
		}
		break
	}
	if p.curTok.Kind != lexer.TokenRBrace {
		p.addError("expected } to close map literal")
	} else {
		p.next()
	}
	return &ast.Map{Entries: entries, Sp: sp}
}

