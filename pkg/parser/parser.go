// Package parser implements the sandscript parser.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/lexer"
)

type parser struct {
	tokens []lexer.Token
	pos    int
	diags  []diagnostics.Diagnostic
}

// Parse tokenizes source and parses it into an AST. Parsing stops at the
// first error.
func Parse(source, filename string) (*ast.Program, []diagnostics.Diagnostic) {
	tokens, err := lexer.Tokenize(source, filename)
	if err != nil {
		var le *lexer.LexError
		if errors.As(err, &le) {
			return nil, []diagnostics.Diagnostic{le.Diag}
		}
		return nil, []diagnostics.Diagnostic{diagnostics.MakeDiag(diagnostics.ELex, err.Error(), nil, "")}
	}

	p := &parser{tokens: tokens}
	prog := p.parseProgram()
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	return prog, nil
}

func (p *parser) current() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *parser) peek() lexer.TokenType { return p.current().Type }

func (p *parser) advance() lexer.Token {
	tok := p.current()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

// accept consumes the current token when it has type typ.
func (p *parser) accept(typ lexer.TokenType) bool {
	if p.peek() == typ {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(typ lexer.TokenType) (lexer.Token, bool) {
	tok := p.current()
	if tok.Type != typ {
		p.addError(fmt.Sprintf("expected %s, got %s", tokenName(typ), describe(tok)), &tok.Span)
		return tok, false
	}
	return p.advance(), true
}

func (p *parser) addError(msg string, span *ast.Span) {
	p.diags = append(p.diags, diagnostics.MakeDiag(diagnostics.EParse, msg, span, ""))
}

// spanFrom covers start up to the last consumed token.
func (p *parser) spanFrom(start ast.Span) ast.Span {
	end := start
	if p.pos > 0 {
		end = p.tokens[p.pos-1].Span
	}
	return ast.Span{
		File:      start.File,
		StartLine: start.StartLine,
		StartCol:  start.StartCol,
		EndLine:   end.EndLine,
		EndCol:    end.EndCol,
	}
}

var tokenNames = map[lexer.TokenType]string{
	lexer.TokLBrace:    "'{'",
	lexer.TokRBrace:    "'}'",
	lexer.TokLBracket:  "'['",
	lexer.TokRBracket:  "']'",
	lexer.TokLParen:    "'('",
	lexer.TokRParen:    "')'",
	lexer.TokColon:     "':'",
	lexer.TokComma:     "','",
	lexer.TokEquals:    "'='",
	lexer.TokIn:        "'in'",
	lexer.TokIdent:     "identifier",
	lexer.TokStringLit: "string",
	lexer.TokEOF:       "end of file",
}

func tokenName(t lexer.TokenType) string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", t)
}

// isWord reports whether tok is an identifier or keyword, both of which may
// name record keys and members.
func isWord(tok lexer.Token) bool {
	return tok.Type == lexer.TokIdent || lexer.IsKeyword(tok.Value) && tok.Type <= lexer.TokNull
}

func describe(tok lexer.Token) string {
	if tok.Type == lexer.TokEOF {
		return "end of file"
	}
	return fmt.Sprintf("'%s'", tok.Value)
}

// --- Program and headers ---

func (p *parser) parseProgram() *ast.Program {
	start := p.current().Span
	prog := &ast.Program{}

	for {
		var h ast.Header
		switch p.peek() {
		case lexer.TokImport:
			h = p.parseImportDecl()
		case lexer.TokLimits:
			h = p.parseLimitsDecl()
		default:
			goto statements
		}
		if h == nil {
			return nil
		}
		prog.Headers = append(prog.Headers, h)
	}

statements:
	for p.peek() != lexer.TokEOF {
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	prog.Span = p.spanFrom(start)
	return prog
}

func (p *parser) parseImportDecl() *ast.ImportDecl {
	start := p.advance()
	name, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}
	decl := &ast.ImportDecl{Module: name.Value, Alias: name.Value}
	if p.accept(lexer.TokAs) {
		alias, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		decl.Alias = alias.Value
	}
	p.accept(lexer.TokSemi)
	decl.Span = p.spanFrom(start.Span)
	return decl
}

func (p *parser) parseLimitsDecl() *ast.LimitsDecl {
	start := p.advance()
	rec := p.parseRecordExpr()
	if rec == nil {
		return nil
	}
	p.accept(lexer.TokSemi)
	return &ast.LimitsDecl{Span: p.spanFrom(start.Span), Fields: rec.Fields}
}

// --- Statements ---

func (p *parser) parseStmt() ast.Stmt {
	var stmt ast.Stmt
	switch p.peek() {
	case lexer.TokLet:
		if s := p.parseLetStmt(); s != nil {
			stmt = s
		}
	case lexer.TokReturn:
		if s := p.parseReturnStmt(); s != nil {
			stmt = s
		}
	case lexer.TokIf:
		if s := p.parseIfStmt(); s != nil {
			stmt = s
		}
	case lexer.TokWhile:
		if s := p.parseWhileStmt(); s != nil {
			stmt = s
		}
	case lexer.TokFor:
		if s := p.parseForStmt(); s != nil {
			stmt = s
		}
	case lexer.TokBreak:
		stmt = &ast.BreakStmt{Span: p.advance().Span}
	case lexer.TokContinue:
		stmt = &ast.ContinueStmt{Span: p.advance().Span}
	case lexer.TokFn:
		if p.lookahead(1) != lexer.TokIdent {
			stmt = p.parseExprOrAssign()
		} else if s := p.parseFnDecl(); s != nil {
			stmt = s
		}
	case lexer.TokImport, lexer.TokLimits:
		tok := p.current()
		p.addError(fmt.Sprintf("'%s' must appear before any statement", tok.Value), &tok.Span)
		return nil
	default:
		stmt = p.parseExprOrAssign()
	}
	if stmt == nil {
		return nil
	}
	p.accept(lexer.TokSemi)
	return stmt
}

func (p *parser) lookahead(offset int) lexer.TokenType {
	if idx := p.pos + offset; idx < len(p.tokens) {
		return p.tokens[idx].Type
	}
	return lexer.TokEOF
}

func (p *parser) parseLetStmt() *ast.LetStmt {
	start := p.advance()
	name, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}
	if _, ok := p.expect(lexer.TokEquals); !ok {
		return nil
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	return &ast.LetStmt{Span: p.spanFrom(start.Span), Name: name.Value, Value: value}
}

func (p *parser) parseReturnStmt() *ast.ReturnStmt {
	start := p.advance()
	stmt := &ast.ReturnStmt{}
	switch p.peek() {
	case lexer.TokRBrace, lexer.TokSemi, lexer.TokEOF:
	default:
		if stmt.Value = p.parseExpr(); stmt.Value == nil {
			return nil
		}
	}
	stmt.Span = p.spanFrom(start.Span)
	return stmt
}

func (p *parser) parseFnDecl() *ast.FnDecl {
	start := p.current().Span
	fn := p.parseFnExpr()
	if fn == nil {
		return nil
	}
	return &ast.FnDecl{Span: p.spanFrom(start), Fn: fn}
}

// parseFnExpr parses `fn [name](params) { body }`.
func (p *parser) parseFnExpr() *ast.FnExpr {
	start := p.advance()
	fn := &ast.FnExpr{}
	if p.peek() == lexer.TokIdent {
		fn.Name = p.advance().Value
	}
	if _, ok := p.expect(lexer.TokLParen); !ok {
		return nil
	}
	seen := map[string]bool{}
	for p.peek() != lexer.TokRParen {
		param, ok := p.expect(lexer.TokIdent)
		if !ok {
			return nil
		}
		if seen[param.Value] {
			p.addError(fmt.Sprintf("duplicate parameter '%s'", param.Value), &param.Span)
			return nil
		}
		seen[param.Value] = true
		fn.Params = append(fn.Params, param.Value)
		if !p.accept(lexer.TokComma) {
			break
		}
	}
	if _, ok := p.expect(lexer.TokRParen); !ok {
		return nil
	}
	if fn.Body = p.parseBlock(); fn.Body == nil {
		return nil
	}
	fn.Span = p.spanFrom(start.Span)
	return fn
}

func (p *parser) parseBlock() *ast.Block {
	start, ok := p.expect(lexer.TokLBrace)
	if !ok {
		return nil
	}
	block := &ast.Block{}
	for p.peek() != lexer.TokRBrace {
		if p.peek() == lexer.TokEOF {
			tok := p.current()
			p.addError("unterminated block, expected '}'", &tok.Span)
			return nil
		}
		stmt := p.parseStmt()
		if stmt == nil {
			return nil
		}
		block.Statements = append(block.Statements, stmt)
	}
	p.advance()
	block.Span = p.spanFrom(start.Span)
	return block
}

func (p *parser) parseCondition() ast.Expr {
	if _, ok := p.expect(lexer.TokLParen); !ok {
		return nil
	}
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if _, ok := p.expect(lexer.TokRParen); !ok {
		return nil
	}
	return cond
}

func (p *parser) parseIfStmt() *ast.IfStmt {
	start := p.advance()
	cond := p.parseCondition()
	if cond == nil {
		return nil
	}
	then := p.parseBlock()
	if then == nil {
		return nil
	}
	stmt := &ast.IfStmt{Cond: cond, Then: then}
	if p.accept(lexer.TokElse) {
		if p.peek() == lexer.TokIf {
			elif := p.parseIfStmt()
			if elif == nil {
				return nil
			}
			stmt.Else = elif
		} else {
			block := p.parseBlock()
			if block == nil {
				return nil
			}
			stmt.Else = block
		}
	}
	stmt.Span = p.spanFrom(start.Span)
	return stmt
}

func (p *parser) parseWhileStmt() *ast.WhileStmt {
	start := p.advance()
	cond := p.parseCondition()
	if cond == nil {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ast.WhileStmt{Span: p.spanFrom(start.Span), Cond: cond, Body: body}
}

func (p *parser) parseForStmt() *ast.ForStmt {
	start := p.advance()
	if _, ok := p.expect(lexer.TokLParen); !ok {
		return nil
	}
	binding, ok := p.expect(lexer.TokIdent)
	if !ok {
		return nil
	}
	if _, ok := p.expect(lexer.TokIn); !ok {
		return nil
	}
	iter := p.parseExpr()
	if iter == nil {
		return nil
	}
	if _, ok := p.expect(lexer.TokRParen); !ok {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ast.ForStmt{Span: p.spanFrom(start.Span), Binding: binding.Value, Iterable: iter, Body: body}
}

func (p *parser) parseExprOrAssign() ast.Stmt {
	start := p.current().Span
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	if !p.accept(lexer.TokEquals) {
		return &ast.ExprStmt{Span: p.spanFrom(start), Expr: expr}
	}
	switch expr.(type) {
	case *ast.Ident, *ast.MemberExpr, *ast.IndexExpr:
	default:
		span := expr.NodeSpan()
		p.addError("invalid assignment target", &span)
		return nil
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	return &ast.AssignStmt{Span: p.spanFrom(start), Target: expr, Value: value}
}

// --- Expressions (precedence climbing, lowest first) ---

var binaryLevels = [][]struct {
	tok lexer.TokenType
	op  ast.BinaryOp
}{
	{{lexer.TokOrOr, ast.OpOr}},
	{{lexer.TokAndAnd, ast.OpAnd}},
	{{lexer.TokEqEq, ast.OpEqEq}, {lexer.TokBangEq, ast.OpNeq}},
	{{lexer.TokGt, ast.OpGt}, {lexer.TokLt, ast.OpLt}, {lexer.TokGtEq, ast.OpGtEq}, {lexer.TokLtEq, ast.OpLtEq}},
	{{lexer.TokPlus, ast.OpAdd}, {lexer.TokMinus, ast.OpSub}},
	{{lexer.TokStar, ast.OpMul}, {lexer.TokSlash, ast.OpDiv}, {lexer.TokPercent, ast.OpMod}},
}

func (p *parser) parseExpr() ast.Expr {
	return p.parseBinary(0)
}

func (p *parser) parseBinary(level int) ast.Expr {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	if left == nil {
		return nil
	}
	for {
		op, ok := matchOp(binaryLevels[level], p.peek())
		if !ok {
			return left
		}
		p.advance()
		right := p.parseBinary(level + 1)
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{Span: p.spanFrom(left.NodeSpan()), Op: op, Left: left, Right: right}
	}
}

func matchOp(level []struct {
	tok lexer.TokenType
	op  ast.BinaryOp
}, typ lexer.TokenType) (ast.BinaryOp, bool) {
	for _, entry := range level {
		if entry.tok == typ {
			return entry.op, true
		}
	}
	return "", false
}

func (p *parser) parseUnary() ast.Expr {
	var op ast.UnaryOp
	switch p.peek() {
	case lexer.TokMinus:
		op = ast.OpNeg
	case lexer.TokBang:
		op = ast.OpNot
	default:
		return p.parsePostfix()
	}
	start := p.advance()
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	return &ast.UnaryExpr{Span: p.spanFrom(start.Span), Op: op, Operand: operand}
}

func (p *parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()
	for expr != nil {
		start := expr.NodeSpan()
		switch p.peek() {
		case lexer.TokLParen:
			p.advance()
			args := p.parseExprList(lexer.TokRParen)
			if args == nil {
				return nil
			}
			expr = &ast.CallExpr{Span: p.spanFrom(start), Callee: expr, Args: args.exprs}
		case lexer.TokDot:
			p.advance()
			name := p.current()
			if !isWord(name) {
				p.addError(fmt.Sprintf("expected member name after '.', got %s", describe(name)), &name.Span)
				return nil
			}
			p.advance()
			expr = &ast.MemberExpr{Span: p.spanFrom(start), Object: expr, Name: name.Value}
		case lexer.TokLBracket:
			p.advance()
			index := p.parseExpr()
			if index == nil {
				return nil
			}
			if _, ok := p.expect(lexer.TokRBracket); !ok {
				return nil
			}
			expr = &ast.IndexExpr{Span: p.spanFrom(start), Object: expr, Index: index}
		default:
			return expr
		}
	}
	return nil
}

type exprList struct{ exprs []ast.Expr }

// parseExprList parses comma-separated expressions up to and including the
// closing token. Trailing commas are allowed.
func (p *parser) parseExprList(closing lexer.TokenType) *exprList {
	list := &exprList{}
	for p.peek() != closing {
		e := p.parseExpr()
		if e == nil {
			return nil
		}
		list.exprs = append(list.exprs, e)
		if !p.accept(lexer.TokComma) {
			break
		}
	}
	if _, ok := p.expect(closing); !ok {
		return nil
	}
	return list
}

func (p *parser) parsePrimary() ast.Expr {
	tok := p.current()
	switch tok.Type {
	case lexer.TokNumberLit:
		p.advance()
		v, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.addError(fmt.Sprintf("invalid number literal '%s'", tok.Value), &tok.Span)
			return nil
		}
		return &ast.NumberLiteral{Span: tok.Span, Value: v}
	case lexer.TokStringLit:
		p.advance()
		return &ast.StrLiteral{Span: tok.Span, Value: tok.Value}
	case lexer.TokTrue, lexer.TokFalse:
		p.advance()
		return &ast.BoolLiteral{Span: tok.Span, Value: tok.Type == lexer.TokTrue}
	case lexer.TokNull:
		p.advance()
		return &ast.NullLiteral{Span: tok.Span}
	case lexer.TokIdent:
		p.advance()
		return &ast.Ident{Span: tok.Span, Name: tok.Value}
	case lexer.TokFn:
		if fn := p.parseFnExpr(); fn != nil {
			return fn
		}
		return nil
	case lexer.TokLParen:
		p.advance()
		inner := p.parseExpr()
		if inner == nil {
			return nil
		}
		if _, ok := p.expect(lexer.TokRParen); !ok {
			return nil
		}
		return inner
	case lexer.TokLBracket:
		p.advance()
		elems := p.parseExprList(lexer.TokRBracket)
		if elems == nil {
			return nil
		}
		return &ast.ListExpr{Span: p.spanFrom(tok.Span), Elements: elems.exprs}
	case lexer.TokLBrace:
		if rec := p.parseRecordExpr(); rec != nil {
			return rec
		}
		return nil
	}
	p.addError(fmt.Sprintf("unexpected %s", describe(tok)), &tok.Span)
	return nil
}

// parseRecordExpr parses `{ key: value, "quoted key": value }`.
func (p *parser) parseRecordExpr() *ast.RecordExpr {
	start, ok := p.expect(lexer.TokLBrace)
	if !ok {
		return nil
	}
	rec := &ast.RecordExpr{}
	seen := map[string]bool{}
	for p.peek() != lexer.TokRBrace {
		key := p.current()
		if key.Type != lexer.TokStringLit && !isWord(key) {
			p.addError(fmt.Sprintf("expected record key, got %s", describe(key)), &key.Span)
			return nil
		}
		p.advance()
		if seen[key.Value] {
			p.addError(fmt.Sprintf("duplicate record key '%s'", key.Value), &key.Span)
			return nil
		}
		seen[key.Value] = true
		if _, ok := p.expect(lexer.TokColon); !ok {
			return nil
		}
		value := p.parseExpr()
		if value == nil {
			return nil
		}
		rec.Fields = append(rec.Fields, ast.RecordField{Span: p.spanFrom(key.Span), Key: key.Value, Value: value})
		if !p.accept(lexer.TokComma) {
			break
		}
	}
	if _, ok := p.expect(lexer.TokRBrace); !ok {
		return nil
	}
	rec.Span = p.spanFrom(start.Span)
	return rec
}
