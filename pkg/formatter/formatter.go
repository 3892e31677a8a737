// Package formatter pretty-prints sandscript programs.
package formatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/lexer"
)

const (
	indent    = "  "
	lineWidth = 72
)

// Precedence table for binary operators (higher = tighter binding)
var precedence = map[ast.BinaryOp]int{
	ast.OpOr:   1,
	ast.OpAnd:  2,
	ast.OpEqEq: 3, ast.OpNeq: 3,
	ast.OpGt: 4, ast.OpLt: 4, ast.OpGtEq: 4, ast.OpLtEq: 4,
	ast.OpAdd: 5, ast.OpSub: 5,
	ast.OpMul: 6, ast.OpDiv: 6, ast.OpMod: 6,
}

func needsParens(child ast.Expr, parentOp ast.BinaryOp, isRight bool) bool {
	bin, ok := child.(*ast.BinaryExpr)
	if !ok {
		return false
	}
	childPrec := precedence[bin.Op]
	parentPrec := precedence[parentOp]
	if childPrec < parentPrec {
		return true
	}
	// Operators are left-associative.
	return childPrec == parentPrec && isRight
}

// Format pretty-prints a program back to source code. The output parses to
// the same program.
func Format(program *ast.Program) string {
	var lines []string
	for _, h := range program.Headers {
		lines = append(lines, formatHeader(h))
	}
	if len(program.Headers) > 0 && len(program.Statements) > 0 {
		lines = append(lines, "")
	}
	lines = append(lines, formatStmts(program.Statements, 0)...)
	return strings.Join(lines, "\n") + "\n"
}

// HasComments reports whether source contains comments, which Format does
// not preserve.
func HasComments(source string) bool {
	var quote byte
	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote || ch == '\n' {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#':
			return true
		}
	}
	return false
}

func formatHeader(h ast.Header) string {
	switch hdr := h.(type) {
	case *ast.LimitsDecl:
		return "limits " + formatFields(hdr.Fields, 0)
	case *ast.ImportDecl:
		if hdr.Alias != "" && hdr.Alias != hdr.Module {
			return "import " + hdr.Module + " as " + hdr.Alias
		}
		return "import " + hdr.Module
	}
	return ""
}

// formatStmts lays statements out one per line, adding a semicolon where
// the next line would otherwise continue the previous statement.
func formatStmts(stmts []ast.Stmt, depth int) []string {
	lines := make([]string, len(stmts))
	for i, s := range stmts {
		lines[i] = formatStmt(s, depth)
	}
	prefix := strings.Repeat(indent, depth)
	for i := 0; i+1 < len(lines); i++ {
		if ret, ok := stmts[i].(*ast.ReturnStmt); ok && ret.Value == nil {
			lines[i] += ";"
			continue
		}
		next := strings.TrimPrefix(lines[i+1], prefix)
		if next != "" && strings.ContainsRune("([-", rune(next[0])) {
			lines[i] += ";"
		}
	}
	return lines
}

func formatBlock(b *ast.Block, depth int) string {
	if b == nil || len(b.Statements) == 0 {
		return "{}"
	}
	body := formatStmts(b.Statements, depth+1)
	return "{\n" + strings.Join(body, "\n") + "\n" + strings.Repeat(indent, depth) + "}"
}

func formatStmt(s ast.Stmt, depth int) string {
	prefix := strings.Repeat(indent, depth)
	switch stmt := s.(type) {
	case *ast.LetStmt:
		return prefix + "let " + stmt.Name + " = " + formatExpr(stmt.Value, depth)
	case *ast.AssignStmt:
		return prefix + formatExpr(stmt.Target, depth) + " = " + formatExpr(stmt.Value, depth)
	case *ast.ExprStmt:
		out := formatExpr(stmt.Expr, depth)
		// A named function at the start of a statement would be a declaration.
		if fn, ok := stmt.Expr.(*ast.FnExpr); ok && fn.Name != "" {
			out = "(" + out + ")"
		}
		return prefix + out
	case *ast.ReturnStmt:
		if stmt.Value == nil {
			return prefix + "return"
		}
		return prefix + "return " + formatExpr(stmt.Value, depth)
	case *ast.FnDecl:
		return prefix + formatFn(stmt.Fn, depth)
	case *ast.Block:
		return prefix + formatBlock(stmt, depth)
	case *ast.IfStmt:
		return prefix + formatIf(stmt, depth)
	case *ast.WhileStmt:
		return prefix + "while (" + formatExpr(stmt.Cond, depth) + ") " + formatBlock(stmt.Body, depth)
	case *ast.ForStmt:
		return fmt.Sprintf("%sfor (%s in %s) %s", prefix, stmt.Binding, formatExpr(stmt.Iterable, depth), formatBlock(stmt.Body, depth))
	case *ast.BreakStmt:
		return prefix + "break"
	case *ast.ContinueStmt:
		return prefix + "continue"
	}
	return ""
}

func formatIf(stmt *ast.IfStmt, depth int) string {
	out := "if (" + formatExpr(stmt.Cond, depth) + ") " + formatBlock(stmt.Then, depth)
	switch e := stmt.Else.(type) {
	case *ast.IfStmt:
		out += " else " + formatIf(e, depth)
	case *ast.Block:
		out += " else " + formatBlock(e, depth)
	}
	return out
}

func formatFn(fn *ast.FnExpr, depth int) string {
	head := "fn"
	if fn.Name != "" {
		head += " " + fn.Name
	}
	return head + "(" + strings.Join(fn.Params, ", ") + ") " + formatBlock(fn.Body, depth)
}

func formatExpr(e ast.Expr, depth int) string {
	switch expr := e.(type) {
	case *ast.NumberLiteral:
		return strconv.FormatFloat(expr.Value, 'g', -1, 64)
	case *ast.StrLiteral:
		return quote(expr.Value)
	case *ast.BoolLiteral:
		if expr.Value {
			return "true"
		}
		return "false"
	case *ast.NullLiteral:
		return "null"
	case *ast.Ident:
		return expr.Name
	case *ast.ListExpr:
		return formatList(expr, depth)
	case *ast.RecordExpr:
		return formatFields(expr.Fields, depth)
	case *ast.FnExpr:
		return formatFn(expr, depth)
	case *ast.CallExpr:
		args := make([]string, len(expr.Args))
		for i, a := range expr.Args {
			args[i] = formatExpr(a, depth)
		}
		return formatOperand(expr.Callee, depth) + "(" + strings.Join(args, ", ") + ")"
	case *ast.MemberExpr:
		return formatOperand(expr.Object, depth) + "." + expr.Name
	case *ast.IndexExpr:
		return formatOperand(expr.Object, depth) + "[" + formatExpr(expr.Index, depth) + "]"
	case *ast.BinaryExpr:
		leftStr := formatExpr(expr.Left, depth)
		rightStr := formatExpr(expr.Right, depth)
		if needsParens(expr.Left, expr.Op, false) {
			leftStr = "(" + leftStr + ")"
		}
		if needsParens(expr.Right, expr.Op, true) {
			rightStr = "(" + rightStr + ")"
		}
		return leftStr + " " + string(expr.Op) + " " + rightStr
	case *ast.UnaryExpr:
		operandStr := formatExpr(expr.Operand, depth)
		if _, isBin := expr.Operand.(*ast.BinaryExpr); isBin {
			return string(expr.Op) + "(" + operandStr + ")"
		}
		if inner, isUn := expr.Operand.(*ast.UnaryExpr); isUn && inner.Op == expr.Op {
			return string(expr.Op) + "(" + operandStr + ")"
		}
		return string(expr.Op) + operandStr
	}
	return ""
}

// formatOperand formats the left side of a call, member or index
// expression, parenthesizing anything that would bind looser.
func formatOperand(e ast.Expr, depth int) string {
	out := formatExpr(e, depth)
	switch e.(type) {
	case *ast.BinaryExpr, *ast.UnaryExpr, *ast.FnExpr, *ast.NumberLiteral:
		return "(" + out + ")"
	}
	return out
}

func formatFields(fields []ast.RecordField, depth int) string {
	if len(fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = formatKey(f.Key) + ": " + formatExpr(f.Value, depth+1)
	}
	inline := "{ " + strings.Join(parts, ", ") + " }"
	if len(inline) <= lineWidth && !strings.Contains(inline, "\n") {
		return inline
	}
	return wrap("{", "}", parts, depth)
}

func formatList(list *ast.ListExpr, depth int) string {
	if len(list.Elements) == 0 {
		return "[]"
	}
	parts := make([]string, len(list.Elements))
	for i, e := range list.Elements {
		parts[i] = formatExpr(e, depth+1)
	}
	inline := "[" + strings.Join(parts, ", ") + "]"
	if len(inline) <= lineWidth && !strings.Contains(inline, "\n") {
		return inline
	}
	return wrap("[", "]", parts, depth)
}

func wrap(open, closing string, parts []string, depth int) string {
	inner := strings.Repeat(indent, depth+1)
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = inner + p + ","
	}
	return open + "\n" + strings.Join(lines, "\n") + "\n" + strings.Repeat(indent, depth) + closing
}

func formatKey(key string) string {
	if isIdent(key) && !lexer.IsKeyword(key) {
		return key
	}
	return quote(key)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		alpha := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
		if !alpha && (i == 0 || ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}

// quote writes a double-quoted string literal using only the escapes the
// lexer understands.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0:
			b.WriteString(`\0`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
