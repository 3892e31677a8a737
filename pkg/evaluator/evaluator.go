package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/parser"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// Builtins resolves global names that the script did not bind itself.
type Builtins interface {
	LookupFunction(name string) (*Builtin, bool)
	LookupModule(name string) (*Module, bool)
}

// ParseFunc parses source into a program.
type ParseFunc func(source, filename string) (*ast.Program, []diagnostics.Diagnostic)

// ExecOptions configures program execution.
type ExecOptions struct {
	// Guard enforces the sandbox. Nil means an unrestricted guard.
	Guard *sandbox.Guard

	Builtins Builtins

	// Globals is the script-level scope. Callers that keep it between
	// executions get persistent bindings; nil means a fresh scope.
	Globals *Env

	// Output receives print output. Nil discards.
	Output io.Writer

	Logger *slog.Logger

	// Loader supplies files for loadfile, dofile and script modules
	// resolved by require. Nil disables file loading.
	Loader fs.FS

	// Parse compiles loaded chunks. Nil means parser.Parse.
	Parse ParseFunc
}

// ExecResult holds the result of a program execution.
type ExecResult struct {
	Value        Value
	Instructions int64

	// FaultSpan locates the construct that raised a sandbox violation.
	FaultSpan *ast.Span
}

type control int

const (
	ctrlNone control = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

type machine struct {
	ctx       context.Context
	opts      ExecOptions
	guard     *sandbox.Guard
	globals   *Env
	output    io.Writer
	logger    *slog.Logger
	parse     ParseFunc
	loaded    map[string]Value
	live      []*Coroutine
	faultSpan *ast.Span
}

// Thread is one logical thread of execution: the main script or a
// coroutine body. Native functions receive the calling thread. Only one
// thread of a machine runs at any time.
type Thread struct {
	m     *machine
	depth int
	loops int
	co    *Coroutine
}

// Execute runs a program and returns the result. Sandbox violations are
// returned as *sandbox.ViolationError, script errors as *RuntimeError.
// The result is non-nil even on error.
func Execute(ctx context.Context, program *ast.Program, opts ExecOptions) (*ExecResult, error) {
	m := &machine{
		ctx:     ctx,
		opts:    opts,
		guard:   opts.Guard,
		globals: opts.Globals,
		output:  opts.Output,
		logger:  opts.Logger,
		parse:   opts.Parse,
		loaded:  make(map[string]Value),
	}
	if m.guard == nil {
		m.guard = sandbox.NewGuard(nil, nil, sandbox.GuardConfig{Logger: opts.Logger})
	}
	if m.globals == nil {
		m.globals = NewEnv(nil)
	}
	if m.output == nil {
		m.output = io.Discard
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.parse == nil {
		m.parse = parser.Parse
	}

	main := &Thread{m: m}
	val, err := main.runProgram(program)
	main.closeCoroutines()

	res := &ExecResult{Instructions: m.guard.Executed(), FaultSpan: m.faultSpan}
	if err != nil {
		return res, err
	}
	if val == nil {
		val = NewNull()
	}
	res.Value = val
	return res, nil
}

func (t *Thread) runProgram(program *ast.Program) (Value, error) {
	if err := t.bindImports(program.Headers, t.m.globals); err != nil {
		return nil, err
	}
	return t.runChunk(program.Statements, t.m.globals)
}

func (t *Thread) bindImports(headers []ast.Header, env *Env) error {
	for _, h := range headers {
		imp, ok := h.(*ast.ImportDecl)
		if !ok {
			continue
		}
		if err := t.step(imp.Span); err != nil {
			return err
		}
		mod, err := t.require(imp.Module, &imp.Span)
		if err != nil {
			return err
		}
		env.Define(imp.Alias, mod)
	}
	return nil
}

// runChunk executes top-level statements. The result is the returned value,
// or the value of the final statement.
func (t *Thread) runChunk(stmts []ast.Stmt, env *Env) (Value, error) {
	_, val, err := t.execStmts(stmts, env)
	return val, err
}

// --- Sandbox sites ---

func (t *Thread) step(span ast.Span) error {
	return t.fault(t.m.guard.Step(), &span)
}

func (t *Thread) alloc(bytes int64, span *ast.Span) error {
	return t.fault(t.m.guard.Allocate(bytes), span)
}

// fault records where the first sandbox violation surfaced and returns err
// unchanged.
func (t *Thread) fault(err error, span *ast.Span) error {
	if err != nil && span != nil && t.m.faultSpan == nil && errors.Is(err, sandbox.ErrViolation) {
		s := *span
		t.m.faultSpan = &s
	}
	return err
}

func (t *Thread) checkCtx() error {
	return t.m.ctx.Err()
}

// --- Statements ---

func (t *Thread) execStmts(stmts []ast.Stmt, env *Env) (control, Value, error) {
	var last Value = NewNull()
	for _, stmt := range stmts {
		ctrl, val, err := t.execStmt(stmt, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		if ctrl != ctrlNone {
			return ctrl, val, nil
		}
		if val != nil {
			last = val
		} else {
			last = NewNull()
		}
	}
	return ctrlNone, last, nil
}

func (t *Thread) execStmt(stmt ast.Stmt, env *Env) (control, Value, error) {
	span := stmt.NodeSpan()
	if err := t.step(span); err != nil {
		return ctrlNone, nil, err
	}

	switch s := stmt.(type) {
	case *ast.LetStmt:
		val, err := t.eval(s.Value, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		env.Define(s.Name, val)

	case *ast.AssignStmt:
		if err := t.assign(s, env); err != nil {
			return ctrlNone, nil, err
		}

	case *ast.ExprStmt:
		val, err := t.eval(s.Expr, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		return ctrlNone, val, nil

	case *ast.ReturnStmt:
		if s.Value == nil {
			return ctrlReturn, NewNull(), nil
		}
		val, err := t.eval(s.Value, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		return ctrlReturn, val, nil

	case *ast.FnDecl:
		fn, err := t.makeClosure(s.Fn, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		env.Define(s.Fn.Name, fn)

	case *ast.Block:
		return t.execStmts(s.Statements, env.Child())

	case *ast.IfStmt:
		cond, err := t.eval(s.Cond, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		if Truthy(cond) {
			return t.execStmts(s.Then.Statements, env.Child())
		}
		if s.Else != nil {
			return t.execStmt(s.Else, env)
		}

	case *ast.WhileStmt:
		return t.execWhile(s, env)

	case *ast.ForStmt:
		return t.execFor(s, env)

	case *ast.BreakStmt:
		if t.loops == 0 {
			return ctrlNone, nil, &RuntimeError{Code: diagnostics.ERuntime, Message: "break outside loop", Span: &span}
		}
		return ctrlBreak, nil, nil

	case *ast.ContinueStmt:
		if t.loops == 0 {
			return ctrlNone, nil, &RuntimeError{Code: diagnostics.ERuntime, Message: "continue outside loop", Span: &span}
		}
		return ctrlContinue, nil, nil

	default:
		return ctrlNone, nil, &RuntimeError{
			Code:    diagnostics.ERuntime,
			Message: fmt.Sprintf("unsupported statement %s", stmt.Kind()),
			Span:    &span,
		}
	}

	return ctrlNone, nil, nil
}

func (t *Thread) execWhile(s *ast.WhileStmt, env *Env) (control, Value, error) {
	t.loops++
	defer func() { t.loops-- }()

	for {
		if err := t.checkCtx(); err != nil {
			return ctrlNone, nil, err
		}
		cond, err := t.eval(s.Cond, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		if !Truthy(cond) {
			return ctrlNone, nil, nil
		}
		ctrl, val, err := t.execStmts(s.Body.Statements, env.Child())
		if err != nil {
			return ctrlNone, nil, err
		}
		switch ctrl {
		case ctrlBreak:
			return ctrlNone, nil, nil
		case ctrlReturn:
			return ctrlReturn, val, nil
		}
	}
}

func (t *Thread) execFor(s *ast.ForStmt, env *Env) (control, Value, error) {
	iterable, err := t.eval(s.Iterable, env)
	if err != nil {
		return ctrlNone, nil, err
	}

	t.loops++
	defer func() { t.loops-- }()

	body := func(item Value) (bool, control, Value, error) {
		if err := t.checkCtx(); err != nil {
			return false, ctrlNone, nil, err
		}
		scope := env.Child()
		scope.Define(s.Binding, item)
		ctrl, val, err := t.execStmts(s.Body.Statements, scope)
		if err != nil {
			return false, ctrlNone, nil, err
		}
		switch ctrl {
		case ctrlBreak:
			return false, ctrlNone, nil, nil
		case ctrlReturn:
			return false, ctrlReturn, val, nil
		}
		return true, ctrlNone, nil, nil
	}

	switch it := iterable.(type) {
	case *List:
		items := append([]Value(nil), it.Items...)
		for _, item := range items {
			if more, ctrl, val, err := body(item); !more {
				return ctrl, val, err
			}
		}

	case *Record:
		for _, key := range it.Keys() {
			if more, ctrl, val, err := body(NewString(key)); !more {
				return ctrl, val, err
			}
		}

	case String:
		for _, r := range it.Value {
			if more, ctrl, val, err := body(NewString(string(r))); !more {
				return ctrl, val, err
			}
		}

	case *Coroutine:
		for it.status == CoSuspended {
			item, done, err := t.resume(it, nil)
			if err != nil {
				return ctrlNone, nil, withSpan(err, s.Span)
			}
			if done {
				break
			}
			if more, ctrl, val, err := body(item); !more {
				return ctrl, val, err
			}
		}

	default:
		span := s.Iterable.NodeSpan()
		return ctrlNone, nil, &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("cannot iterate over %s", TypeName(iterable)),
			Span:    &span,
		}
	}
	return ctrlNone, nil, nil
}

func (t *Thread) assign(s *ast.AssignStmt, env *Env) error {
	switch target := s.Target.(type) {
	case *ast.Ident:
		val, err := t.eval(s.Value, env)
		if err != nil {
			return err
		}
		if !env.Assign(target.Name, val) {
			return &RuntimeError{
				Code:    diagnostics.EUnbound,
				Message: fmt.Sprintf("assignment to undeclared variable '%s'", target.Name),
				Span:    &target.Span,
			}
		}
		return nil

	case *ast.MemberExpr:
		obj, err := t.eval(target.Object, env)
		if err != nil {
			return err
		}
		val, err := t.eval(s.Value, env)
		if err != nil {
			return err
		}
		return t.setField(obj, target.Name, val, target.Span)

	case *ast.IndexExpr:
		obj, err := t.eval(target.Object, env)
		if err != nil {
			return err
		}
		idx, err := t.eval(target.Index, env)
		if err != nil {
			return err
		}
		val, err := t.eval(s.Value, env)
		if err != nil {
			return err
		}
		if list, ok := obj.(*List); ok {
			return t.setItem(list, idx, val, target.Span)
		}
		key, ok := idx.(String)
		if !ok {
			return &RuntimeError{
				Code:    diagnostics.EIndex,
				Message: fmt.Sprintf("cannot index %s with %s", TypeName(obj), TypeName(idx)),
				Span:    &target.Span,
			}
		}
		return t.setField(obj, key.Value, val, target.Span)
	}

	span := s.Target.NodeSpan()
	return &RuntimeError{Code: diagnostics.ERuntime, Message: "invalid assignment target", Span: &span}
}

func (t *Thread) setField(obj Value, key string, val Value, span ast.Span) error {
	rec, ok := obj.(*Record)
	if !ok {
		return &RuntimeError{
			Code:    diagnostics.EType,
			Message: fmt.Sprintf("cannot set field '%s' on %s", key, TypeName(obj)),
			Span:    &span,
		}
	}
	if _, exists := rec.Get(key); !exists {
		if err := t.alloc(CostEntry, &span); err != nil {
			return err
		}
	}
	rec.Set(key, val)
	return nil
}

func (t *Thread) setItem(list *List, idx, val Value, span ast.Span) error {
	i, ok := toIndex(idx)
	if !ok || i < 0 || i > len(list.Items) {
		return &RuntimeError{
			Code:    diagnostics.EIndex,
			Message: fmt.Sprintf("list index %s out of range (length %d)", ToString(idx), len(list.Items)),
			Span:    &span,
		}
	}
	if i == len(list.Items) {
		if err := t.alloc(CostValue, &span); err != nil {
			return err
		}
		list.Items = append(list.Items, val)
		return nil
	}
	list.Items[i] = val
	return nil
}

// --- Expressions ---

func (t *Thread) eval(expr ast.Expr, env *Env) (Value, error) {
	if expr == nil {
		return NewNull(), nil
	}
	if err := t.step(expr.NodeSpan()); err != nil {
		return nil, err
	}

	switch e := expr.(type) {
	case *ast.NumberLiteral:
		return NewNumber(e.Value), nil

	case *ast.StrLiteral:
		return NewString(e.Value), nil

	case *ast.BoolLiteral:
		return NewBool(e.Value), nil

	case *ast.NullLiteral:
		return NewNull(), nil

	case *ast.Ident:
		return t.lookup(e, env)

	case *ast.ListExpr:
		return t.evalList(e, env)

	case *ast.RecordExpr:
		return t.evalRecord(e, env)

	case *ast.FnExpr:
		return t.makeClosure(e, env)

	case *ast.CallExpr:
		return t.evalCall(e, env)

	case *ast.MemberExpr:
		obj, err := t.eval(e.Object, env)
		if err != nil {
			return nil, err
		}
		return t.member(obj, e.Name, e.Span)

	case *ast.IndexExpr:
		return t.evalIndex(e, env)

	case *ast.UnaryExpr:
		return t.evalUnary(e, env)

	case *ast.BinaryExpr:
		return t.evalBinary(e, env)
	}

	span := expr.NodeSpan()
	return nil, &RuntimeError{
		Code:    diagnostics.ERuntime,
		Message: fmt.Sprintf("unsupported expression %s", expr.Kind()),
		Span:    &span,
	}
}

// lookup resolves a bare identifier: script bindings first, then global
// built-in functions and modules, each subject to the sandbox access check.
func (t *Thread) lookup(e *ast.Ident, env *Env) (Value, error) {
	if v, ok := env.Get(e.Name); ok {
		return v, nil
	}
	if b := t.m.opts.Builtins; b != nil {
		if fn, ok := b.LookupFunction(e.Name); ok {
			if err := t.fault(t.m.guard.CheckFunction(e.Name), &e.Span); err != nil {
				return nil, err
			}
			return fn, nil
		}
		if mod, ok := b.LookupModule(e.Name); ok {
			if err := t.fault(t.m.guard.CheckModule(e.Name), &e.Span); err != nil {
				return nil, err
			}
			return mod, nil
		}
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EUnbound,
		Message: fmt.Sprintf("unbound variable '%s'", e.Name),
		Span:    &e.Span,
	}
}

func (t *Thread) evalList(e *ast.ListExpr, env *Env) (Value, error) {
	items := make([]Value, 0, len(e.Elements))
	for _, el := range e.Elements {
		v, err := t.eval(el, env)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := t.alloc(listCost(len(items)), &e.Span); err != nil {
		return nil, err
	}
	return NewList(items), nil
}

func (t *Thread) evalRecord(e *ast.RecordExpr, env *Env) (Value, error) {
	pairs := make([]KeyValue, 0, len(e.Fields))
	for _, f := range e.Fields {
		v, err := t.eval(f.Value, env)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, KeyValue{Key: f.Key, Value: v})
	}
	if err := t.alloc(recordCost(len(pairs)), &e.Span); err != nil {
		return nil, err
	}
	return NewRecord(pairs), nil
}

func (t *Thread) makeClosure(fn *ast.FnExpr, env *Env) (Value, error) {
	if err := t.alloc(CostClosure, &fn.Span); err != nil {
		return nil, err
	}
	return &Closure{Fn: fn, Env: env}, nil
}

func (t *Thread) evalCall(e *ast.CallExpr, env *Env) (Value, error) {
	callee, err := t.eval(e.Callee, env)
	if err != nil {
		return nil, err
	}
	args := make([]Value, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := t.eval(a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return t.callValue(callee, args, &e.Span)
}

// member resolves obj.name. Module members are checked against the
// sandbox's function restrictions under their qualified name.
func (t *Thread) member(obj Value, name string, span ast.Span) (Value, error) {
	switch o := obj.(type) {
	case *Module:
		v, ok := o.Get(name)
		if !ok {
			return nil, &RuntimeError{
				Code:    diagnostics.EUnbound,
				Message: fmt.Sprintf("module '%s' has no member '%s'", o.Name, name),
				Span:    &span,
			}
		}
		if _, isFn := v.(*Builtin); isFn {
			if err := t.fault(t.m.guard.CheckFunction(o.Name+"."+name), &span); err != nil {
				return nil, err
			}
		}
		return v, nil

	case *Record:
		if v, ok := o.Get(name); ok {
			return v, nil
		}
		return NewNull(), nil
	}

	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("cannot access member '%s' of %s", name, TypeName(obj)),
		Span:    &span,
	}
}

func (t *Thread) evalIndex(e *ast.IndexExpr, env *Env) (Value, error) {
	obj, err := t.eval(e.Object, env)
	if err != nil {
		return nil, err
	}
	idx, err := t.eval(e.Index, env)
	if err != nil {
		return nil, err
	}

	switch o := obj.(type) {
	case *List:
		i, ok := toIndex(idx)
		if !ok || i < 0 || i >= len(o.Items) {
			return nil, &RuntimeError{
				Code:    diagnostics.EIndex,
				Message: fmt.Sprintf("list index %s out of range (length %d)", ToString(idx), len(o.Items)),
				Span:    &e.Span,
			}
		}
		return o.Items[i], nil

	case String:
		i, ok := toIndex(idx)
		n := utf8.RuneCountInString(o.Value)
		if !ok || i < 0 || i >= n {
			return nil, &RuntimeError{
				Code:    diagnostics.EIndex,
				Message: fmt.Sprintf("string index %s out of range (length %d)", ToString(idx), n),
				Span:    &e.Span,
			}
		}
		return NewString(string([]rune(o.Value)[i])), nil

	case *Record, *Module:
		key, ok := idx.(String)
		if !ok {
			break
		}
		return t.member(obj, key.Value, e.Span)
	}

	return nil, &RuntimeError{
		Code:    diagnostics.EIndex,
		Message: fmt.Sprintf("cannot index %s with %s", TypeName(obj), TypeName(idx)),
		Span:    &e.Span,
	}
}

func (t *Thread) evalUnary(e *ast.UnaryExpr, env *Env) (Value, error) {
	v, err := t.eval(e.Operand, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ast.OpNot:
		return NewBool(!Truthy(v)), nil
	case ast.OpNeg:
		if n, ok := v.(Number); ok {
			return NewNumber(-n.Value), nil
		}
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("operator '%s' cannot be applied to %s", e.Op, TypeName(v)),
		Span:    &e.Span,
	}
}

func (t *Thread) evalBinary(e *ast.BinaryExpr, env *Env) (Value, error) {
	left, err := t.eval(e.Left, env)
	if err != nil {
		return nil, err
	}

	// Logical operators short-circuit and yield an operand.
	switch e.Op {
	case ast.OpAnd:
		if !Truthy(left) {
			return left, nil
		}
		return t.eval(e.Right, env)
	case ast.OpOr:
		if Truthy(left) {
			return left, nil
		}
		return t.eval(e.Right, env)
	}

	right, err := t.eval(e.Right, env)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case ast.OpEqEq:
		return NewBool(Equal(left, right)), nil
	case ast.OpNeq:
		return NewBool(!Equal(left, right)), nil
	case ast.OpAdd:
		return t.add(left, right, e.Span)
	}

	if ln, ok := left.(Number); ok {
		if rn, ok := right.(Number); ok {
			return arith(e.Op, ln.Value, rn.Value, e.Span)
		}
	}
	if ls, ok := left.(String); ok {
		if rs, ok := right.(String); ok {
			if cmp, ok := compareOp(e.Op, strings.Compare(ls.Value, rs.Value)); ok {
				return NewBool(cmp), nil
			}
		}
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("operator '%s' cannot be applied to %s and %s", e.Op, TypeName(left), TypeName(right)),
		Span:    &e.Span,
	}
}

// add implements '+': numeric addition, string concatenation when either
// side is a string, and list concatenation.
func (t *Thread) add(left, right Value, span ast.Span) (Value, error) {
	if ln, ok := left.(Number); ok {
		if rn, ok := right.(Number); ok {
			return NewNumber(ln.Value + rn.Value), nil
		}
	}
	_, ls := left.(String)
	_, rs := right.(String)
	if (ls || rs) && isScalar(left) && isScalar(right) {
		s := ToString(left) + ToString(right)
		if err := t.alloc(stringCost(s), &span); err != nil {
			return nil, err
		}
		return NewString(s), nil
	}
	if ll, ok := left.(*List); ok {
		if rl, ok := right.(*List); ok {
			items := make([]Value, 0, len(ll.Items)+len(rl.Items))
			items = append(items, ll.Items...)
			items = append(items, rl.Items...)
			if err := t.alloc(listCost(len(items)), &span); err != nil {
				return nil, err
			}
			return NewList(items), nil
		}
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("operator '+' cannot be applied to %s and %s", TypeName(left), TypeName(right)),
		Span:    &span,
	}
}

func arith(op ast.BinaryOp, a, b float64, span ast.Span) (Value, error) {
	switch op {
	case ast.OpSub:
		return NewNumber(a - b), nil
	case ast.OpMul:
		return NewNumber(a * b), nil
	case ast.OpDiv:
		if b == 0 {
			return nil, &RuntimeError{Code: diagnostics.EType, Message: "division by zero", Span: &span}
		}
		return NewNumber(a / b), nil
	case ast.OpMod:
		if b == 0 {
			return nil, &RuntimeError{Code: diagnostics.EType, Message: "modulo by zero", Span: &span}
		}
		return NewNumber(a - math.Floor(a/b)*b), nil
	}
	if cmp, ok := compareOp(op, compareFloat(a, b)); ok {
		return NewBool(cmp), nil
	}
	return nil, &RuntimeError{
		Code:    diagnostics.EType,
		Message: fmt.Sprintf("unsupported operator '%s'", op),
		Span:    &span,
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareOp(op ast.BinaryOp, cmp int) (bool, bool) {
	switch op {
	case ast.OpLt:
		return cmp < 0, true
	case ast.OpLtEq:
		return cmp <= 0, true
	case ast.OpGt:
		return cmp > 0, true
	case ast.OpGtEq:
		return cmp >= 0, true
	}
	return false, false
}

func isScalar(v Value) bool {
	switch v.(type) {
	case Null, Bool, Number, String:
		return true
	}
	return false
}

func toIndex(v Value) (int, bool) {
	n, ok := v.(Number)
	if !ok || n.Value != math.Trunc(n.Value) || math.IsInf(n.Value, 0) {
		return 0, false
	}
	return int(n.Value), true
}

// --- Calls ---

// callValue invokes fn. span locates the call site; nil when the call comes
// from a native function, in which case the native's own call site is
// attached on the way out.
func (t *Thread) callValue(fn Value, args []Value, span *ast.Span) (Value, error) {
	if err := t.checkCtx(); err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case *Closure:
		return t.callClosure(f, args, span)

	case *Builtin:
		v, err := f.Fn(t, args)
		if err != nil {
			t.fault(err, span)
			if span != nil {
				err = withSpan(err, *span)
			}
			return nil, err
		}
		if v == nil {
			v = NewNull()
		}
		return v, nil
	}

	rt := &RuntimeError{
		Code:    diagnostics.ECall,
		Message: fmt.Sprintf("attempt to call a %s value", TypeName(fn)),
	}
	if span != nil {
		rt.Span = span
	}
	return nil, rt
}

func (t *Thread) callClosure(f *Closure, args []Value, span *ast.Span) (Value, error) {
	depth := t.depth + 1
	if span == nil {
		span = &f.Fn.Span
	}
	if err := t.fault(t.m.guard.EnterCall(depth), span); err != nil {
		return nil, err
	}
	if depth > maxHostDepth {
		return nil, &RuntimeError{Code: diagnostics.ERuntime, Message: "stack overflow", Span: span}
	}

	t.depth = depth
	savedLoops := t.loops
	t.loops = 0
	defer func() {
		t.depth--
		t.loops = savedLoops
	}()

	scope := f.Env.Child()
	for i, p := range f.Fn.Params {
		if i < len(args) {
			scope.Define(p, args[i])
		} else {
			scope.Define(p, NewNull())
		}
	}

	ctrl, val, err := t.execStmts(f.Fn.Body.Statements, scope)
	if err != nil {
		return nil, err
	}
	if ctrl == ctrlReturn && val != nil {
		return val, nil
	}
	return NewNull(), nil
}

// --- Chunk loading ---

// load compiles source into a zero-argument function bound to the global
// scope.
func (t *Thread) load(source, chunk string) (*Closure, error) {
	prog, diags := t.m.parse(source, chunk)
	if len(diags) > 0 {
		d := diags[0]
		return nil, &RuntimeError{Code: d.Code, Message: fmt.Sprintf("%s: %s", chunk, d.Message), Span: d.Span}
	}
	for _, h := range prog.Headers {
		if l, ok := h.(*ast.LimitsDecl); ok {
			return nil, &RuntimeError{
				Code:    diagnostics.ELimits,
				Message: "limits header is only allowed in the main script",
				Span:    &l.Span,
			}
		}
	}
	scope := t.m.globals.Child()
	if err := t.bindImports(prog.Headers, scope); err != nil {
		return nil, err
	}
	fn := &ast.FnExpr{
		Span: prog.Span,
		Name: chunk,
		Body: &ast.Block{Span: prog.Span, Statements: prog.Statements},
	}
	if err := t.alloc(CostClosure, &prog.Span); err != nil {
		return nil, err
	}
	return &Closure{Fn: fn, Env: scope}, nil
}

func (t *Thread) loadFile(name string) (*Closure, error) {
	if t.m.opts.Loader == nil {
		return nil, Errorf(diagnostics.EIO, "cannot load '%s': no script loader configured", name)
	}
	data, err := fs.ReadFile(t.m.opts.Loader, name)
	if err != nil {
		return nil, &RuntimeError{Code: diagnostics.EIO, Message: fmt.Sprintf("cannot load '%s': %v", name, err), Err: err}
	}
	return t.load(string(data), name)
}

// require resolves a module name: built-in modules pass the sandbox module
// check on every request, script modules are loaded once per execution.
func (t *Thread) require(name string, span *ast.Span) (Value, error) {
	if b := t.m.opts.Builtins; b != nil {
		if mod, ok := b.LookupModule(name); ok {
			if err := t.fault(t.m.guard.CheckModule(name), span); err != nil {
				return nil, err
			}
			return mod, nil
		}
	}
	if v, ok := t.m.loaded[name]; ok {
		return v, nil
	}

	notFound := &RuntimeError{Code: diagnostics.EImport, Message: fmt.Sprintf("module '%s' not found", name), Span: span}
	if t.m.opts.Loader == nil || !fs.ValidPath(name) {
		return nil, notFound
	}
	file := path.Clean(strings.ReplaceAll(name, ".", "/")) + ".ss"
	fn, err := t.loadFile(file)
	if err != nil {
		var rt *RuntimeError
		if errors.As(err, &rt) && errors.Is(rt.Err, fs.ErrNotExist) {
			return nil, notFound
		}
		return nil, err
	}
	v, err := t.callValue(fn, nil, span)
	if err != nil {
		return nil, err
	}
	t.m.loaded[name] = v
	return v, nil
}

// --- Native function API ---

// Context returns the execution context.
func (t *Thread) Context() context.Context { return t.m.ctx }

// Guard returns the sandbox guard of the execution.
func (t *Thread) Guard() *sandbox.Guard { return t.m.guard }

// Output returns the print destination.
func (t *Thread) Output() io.Writer { return t.m.output }

func (t *Thread) Logger() *slog.Logger { return t.m.logger }

// Depth returns the number of user function frames on this thread.
func (t *Thread) Depth() int { return t.depth }

// Coroutine returns the coroutine this thread runs, or nil on the main
// thread.
func (t *Thread) Coroutine() *Coroutine { return t.co }

// Call invokes a function value from native code.
func (t *Thread) Call(fn Value, args ...Value) (Value, error) {
	return t.callValue(fn, args, nil)
}

// Allocate charges bytes to the sandbox memory budget.
func (t *Thread) Allocate(bytes int64) error {
	return t.m.guard.Allocate(bytes)
}

// Free returns bytes to the sandbox memory budget.
func (t *Thread) Free(bytes int64) error {
	return t.m.guard.Free(bytes)
}

// MakeList creates a list charged to the memory budget.
func (t *Thread) MakeList(items []Value) (*List, error) {
	if err := t.Allocate(listCost(len(items))); err != nil {
		return nil, err
	}
	return NewList(items), nil
}

// MakeRecord creates a record charged to the memory budget.
func (t *Thread) MakeRecord(pairs []KeyValue) (*Record, error) {
	if err := t.Allocate(recordCost(len(pairs))); err != nil {
		return nil, err
	}
	return NewRecord(pairs), nil
}

// MakeString creates a string charged to the memory budget.
func (t *Thread) MakeString(s string) (Value, error) {
	if err := t.Allocate(stringCost(s)); err != nil {
		return nil, err
	}
	return NewString(s), nil
}

// Load compiles source into a callable chunk.
func (t *Thread) Load(source, chunk string) (*Closure, error) {
	return t.load(source, chunk)
}

// LoadFile compiles a file from the configured loader.
func (t *Thread) LoadFile(name string) (*Closure, error) {
	return t.loadFile(name)
}

// Require resolves a built-in or script module.
func (t *Thread) Require(name string) (Value, error) {
	return t.require(name, nil)
}

// IsFatal reports whether err must not be caught by script-level error
// handling.
func IsFatal(err error) bool {
	return isFatal(err)
}
