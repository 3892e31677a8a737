// Package validator implements static checks of sandscript programs: names
// that are never bound, misplaced loop control, and sandbox restrictions a
// run would certainly hit.
package validator

import (
	"fmt"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Config tells the validator what a run would see.
type Config struct {
	// Builtins resolves free names. Nil means every free name is unbound.
	Builtins evaluator.Builtins

	// Sandbox is the policy a run would enforce. Restrictions are only
	// reported when no access handler could lift them. Nil skips
	// restriction checks.
	Sandbox *sandbox.Options
}

type scope struct {
	bindings map[string]bool
	parent   *scope
}

func newScope(parent *scope) *scope {
	return &scope{bindings: make(map[string]bool), parent: parent}
}

func (s *scope) has(name string) bool {
	if s.bindings[name] {
		return true
	}
	if s.parent != nil {
		return s.parent.has(name)
	}
	return false
}

func (s *scope) add(name string) {
	s.bindings[name] = true
}

type validator struct {
	cfg   Config
	diags []diagnostics.Diagnostic
	loops int
}

// Validate checks a program and returns its diagnostics in source order of
// discovery.
func Validate(program *ast.Program, cfg Config) []diagnostics.Diagnostic {
	v := &validator{cfg: cfg}
	top := newScope(nil)
	v.validateHeaders(program, top)
	v.validateStatements(program.Statements, top)
	return v.diags
}

func (v *validator) addDiag(code, msg string, span ast.Span) {
	v.diags = append(v.diags, diagnostics.MakeDiag(code, msg, &span, ""))
}

func (v *validator) validateHeaders(program *ast.Program, sc *scope) {
	limits := 0
	for _, h := range program.Headers {
		switch hdr := h.(type) {
		case *ast.LimitsDecl:
			limits++
			if limits > 1 {
				v.addDiag(diagnostics.ELimits, "duplicate limits declaration", hdr.Span)
			}
		case *ast.ImportDecl:
			if v.builtinModule(hdr.Module) != nil {
				v.checkModule(hdr.Module, hdr.Span)
			}
			sc.add(hdr.Alias)
		}
	}
}

// validateStatements binds every let and fn name of the block before
// checking it, so functions may refer to names declared after them.
func (v *validator) validateStatements(stmts []ast.Stmt, sc *scope) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.LetStmt:
			sc.add(s.Name)
		case *ast.FnDecl:
			sc.add(s.Fn.Name)
		}
	}
	for _, stmt := range stmts {
		v.validateStmt(stmt, sc)
	}
}

func (v *validator) validateBlock(b *ast.Block, sc *scope) {
	if b != nil {
		v.validateStatements(b.Statements, newScope(sc))
	}
}

func (v *validator) validateStmt(stmt ast.Stmt, sc *scope) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		v.validateExpr(s.Value, sc)
	case *ast.AssignStmt:
		v.validateExpr(s.Target, sc)
		v.validateExpr(s.Value, sc)
	case *ast.ExprStmt:
		v.validateExpr(s.Expr, sc)
	case *ast.ReturnStmt:
		v.validateExpr(s.Value, sc)
	case *ast.FnDecl:
		v.validateFn(s.Fn, sc)
	case *ast.Block:
		v.validateBlock(s, sc)
	case *ast.IfStmt:
		v.validateExpr(s.Cond, sc)
		v.validateBlock(s.Then, sc)
		if s.Else != nil {
			v.validateStmt(s.Else, sc)
		}
	case *ast.WhileStmt:
		v.validateExpr(s.Cond, sc)
		v.loops++
		v.validateBlock(s.Body, sc)
		v.loops--
	case *ast.ForStmt:
		v.validateExpr(s.Iterable, sc)
		body := newScope(sc)
		body.add(s.Binding)
		v.loops++
		v.validateBlock(s.Body, body)
		v.loops--
	case *ast.BreakStmt:
		if v.loops == 0 {
			v.addDiag(diagnostics.EAst, "break outside loop", s.Span)
		}
	case *ast.ContinueStmt:
		if v.loops == 0 {
			v.addDiag(diagnostics.EAst, "continue outside loop", s.Span)
		}
	}
}

func (v *validator) validateFn(fn *ast.FnExpr, sc *scope) {
	child := newScope(sc)
	if fn.Name != "" {
		child.add(fn.Name)
	}
	for _, p := range fn.Params {
		child.add(p)
	}
	// Loop control never crosses a function boundary.
	loops := v.loops
	v.loops = 0
	v.validateBlock(fn.Body, child)
	v.loops = loops
}

func (v *validator) validateExpr(expr ast.Expr, sc *scope) {
	switch e := expr.(type) {
	case nil:
	case *ast.NumberLiteral, *ast.StrLiteral, *ast.BoolLiteral, *ast.NullLiteral:
		// literals are always valid

	case *ast.Ident:
		v.validateIdent(e, sc)

	case *ast.ListExpr:
		for _, el := range e.Elements {
			v.validateExpr(el, sc)
		}

	case *ast.RecordExpr:
		for _, f := range e.Fields {
			v.validateExpr(f.Value, sc)
		}

	case *ast.FnExpr:
		v.validateFn(e, sc)

	case *ast.CallExpr:
		v.validateExpr(e.Callee, sc)
		for _, a := range e.Args {
			v.validateExpr(a, sc)
		}

	case *ast.MemberExpr:
		v.validateExpr(e.Object, sc)
		if id, ok := e.Object.(*ast.Ident); ok && !sc.has(id.Name) {
			v.validateModuleMember(id.Name, e)
		}

	case *ast.IndexExpr:
		v.validateExpr(e.Object, sc)
		v.validateExpr(e.Index, sc)

	case *ast.UnaryExpr:
		v.validateExpr(e.Operand, sc)

	case *ast.BinaryExpr:
		v.validateExpr(e.Left, sc)
		v.validateExpr(e.Right, sc)
	}
}

// validateIdent resolves a name the way a run would: script bindings, then
// built-in functions, then built-in modules.
func (v *validator) validateIdent(e *ast.Ident, sc *scope) {
	if sc.has(e.Name) {
		return
	}
	if b := v.cfg.Builtins; b != nil {
		if _, ok := b.LookupFunction(e.Name); ok {
			v.checkFunction(e.Name, e.Span)
			return
		}
		if _, ok := b.LookupModule(e.Name); ok {
			v.checkModule(e.Name, e.Span)
			return
		}
	}
	v.addDiag(diagnostics.EUnbound, fmt.Sprintf("unbound variable '%s'", e.Name), e.Span)
}

func (v *validator) validateModuleMember(module string, e *ast.MemberExpr) {
	mod := v.builtinModule(module)
	if mod == nil {
		return
	}
	member, ok := mod.Get(e.Name)
	if !ok {
		v.addDiag(diagnostics.EUnbound, fmt.Sprintf("module '%s' has no member '%s'", module, e.Name), e.Span)
		return
	}
	if _, isFn := member.(*evaluator.Builtin); isFn {
		v.checkFunction(module+"."+e.Name, e.Span)
	}
}

func (v *validator) builtinModule(name string) *evaluator.Module {
	if v.cfg.Builtins == nil {
		return nil
	}
	mod, ok := v.cfg.Builtins.LookupModule(name)
	if !ok {
		return nil
	}
	return mod
}

func (v *validator) checkModule(name string, span ast.Span) {
	opts := v.cfg.Sandbox
	if opts == nil || opts.ModuleAccessHandler() != nil || !opts.IsModuleRestricted(name) {
		return
	}
	err := sandbox.NewAccessViolationError(sandbox.ModuleAccessDenied, name)
	v.diags = append(v.diags, diagnostics.FromViolation(err, &span))
}

func (v *validator) checkFunction(name string, span ast.Span) {
	opts := v.cfg.Sandbox
	if opts == nil || opts.FunctionAccessHandler() != nil || !opts.IsFunctionRestricted(name) {
		return
	}
	err := sandbox.NewAccessViolationError(sandbox.FunctionAccessDenied, name)
	v.diags = append(v.diags, diagnostics.FromViolation(err, &span))
}
