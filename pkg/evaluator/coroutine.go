package evaluator

import (
	"fmt"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
)

// CoStatus is the lifecycle state of a coroutine.
type CoStatus int

const (
	CoSuspended CoStatus = iota
	CoRunning
	CoNormal // resumed another coroutine and waits for it
	CoDead
)

func (s CoStatus) String() string {
	switch s {
	case CoSuspended:
		return "suspended"
	case CoRunning:
		return "running"
	case CoNormal:
		return "normal"
	case CoDead:
		return "dead"
	}
	return fmt.Sprintf("CoStatus(%d)", int(s))
}

// Coroutine is a cooperative thread of script execution. Its body runs on
// its own goroutine, but control is handed over through unbuffered
// channels so exactly one thread of the machine runs at any time.
type Coroutine struct {
	fn      Value
	status  CoStatus
	started bool
	thread  *Thread

	resumeCh chan transfer
	yieldCh  chan transfer
}

type transfer struct {
	val  Value
	err  error
	done bool
}

func (*Coroutine) value() {}

// Status returns the coroutine's current state.
func (co *Coroutine) Status() CoStatus { return co.status }

// newCoroutine counts a new coroutine against the sandbox before creating
// it.
func (t *Thread) newCoroutine(fn Value) (*Coroutine, error) {
	switch fn.(type) {
	case *Closure, *Builtin:
	default:
		return nil, Errorf(diagnostics.EType, "coroutine body must be a function, got %s", TypeName(fn))
	}
	if err := t.m.guard.BeginCoroutine(); err != nil {
		return nil, err
	}
	if err := t.m.guard.Allocate(CostCoroutine); err != nil {
		t.m.guard.EndCoroutine()
		return nil, err
	}
	co := &Coroutine{
		fn:       fn,
		status:   CoSuspended,
		resumeCh: make(chan transfer),
		yieldCh:  make(chan transfer),
	}
	t.m.live = append(t.m.live, co)
	return co, nil
}

// resume transfers control to co until it yields or finishes. done reports
// that co finished; val is then its return value.
func (t *Thread) resume(co *Coroutine, args []Value) (val Value, done bool, err error) {
	switch co.status {
	case CoDead:
		return nil, false, Errorf(diagnostics.ECo, "cannot resume dead coroutine")
	case CoRunning, CoNormal:
		return nil, false, Errorf(diagnostics.ECo, "cannot resume non-suspended coroutine")
	}

	if t.co != nil {
		t.co.status = CoNormal
	}
	co.status = CoRunning
	if !co.started {
		co.started = true
		co.thread = &Thread{m: t.m, co: co}
		go co.run(args)
	} else {
		var v Value = NewNull()
		if len(args) > 0 {
			v = args[0]
		}
		co.resumeCh <- transfer{val: v}
	}

	tr := <-co.yieldCh
	if t.co != nil {
		t.co.status = CoRunning
	}
	if tr.done {
		t.finish(co)
		if tr.err != nil {
			return nil, true, tr.err
		}
		return tr.val, true, nil
	}
	co.status = CoSuspended
	return tr.val, false, nil
}

func (co *Coroutine) run(args []Value) {
	var tr transfer
	defer func() {
		if r := recover(); r != nil {
			tr = transfer{err: Errorf(diagnostics.ERuntime, "coroutine panic: %v", r)}
		}
		tr.done = true
		co.yieldCh <- tr
	}()
	v, err := co.thread.callValue(co.fn, args, nil)
	tr = transfer{val: v, err: err}
}

// yield suspends the calling coroutine, handing v to its resumer.
func (t *Thread) yield(v Value) (Value, error) {
	co := t.co
	if co == nil {
		return nil, Errorf(diagnostics.ECo, "attempt to yield from outside a coroutine")
	}
	co.yieldCh <- transfer{val: v}
	tr := <-co.resumeCh
	if tr.err != nil {
		return nil, tr.err
	}
	return tr.val, nil
}

// closeCoroutine kills a suspended coroutine, unwinding its goroutine.
func (t *Thread) closeCoroutine(co *Coroutine) error {
	switch co.status {
	case CoDead:
		return nil
	case CoRunning, CoNormal:
		return Errorf(diagnostics.ECo, "cannot close a %s coroutine", co.status)
	}
	if co.started {
		co.resumeCh <- transfer{err: errCoroutineClosed}
		<-co.yieldCh
	}
	t.finish(co)
	return nil
}

func (t *Thread) finish(co *Coroutine) {
	co.status = CoDead
	t.m.guard.EndCoroutine()
	_ = t.m.guard.Free(CostCoroutine)
	for i, c := range t.m.live {
		if c == co {
			t.m.live = append(t.m.live[:i], t.m.live[i+1:]...)
			break
		}
	}
}

// closeCoroutines closes every coroutine still alive when execution ends.
func (t *Thread) closeCoroutines() {
	for len(t.m.live) > 0 {
		co := t.m.live[0]
		if co.status != CoSuspended {
			t.finish(co)
			continue
		}
		_ = t.closeCoroutine(co)
	}
}

func coroutineArg(args []Value, fn string) (*Coroutine, error) {
	if len(args) > 0 {
		if co, ok := args[0].(*Coroutine); ok {
			return co, nil
		}
	}
	got := "nothing"
	if len(args) > 0 {
		got = TypeName(args[0])
	}
	return nil, Errorf(diagnostics.EType, "coroutine.%s expects a coroutine, got %s", fn, got)
}

// CoroutineModule returns the coroutine built-in module.
func CoroutineModule() *Module {
	return NewModule("coroutine", map[string]NativeFunc{
		"create": func(t *Thread, args []Value) (Value, error) {
			var fn Value = NewNull()
			if len(args) > 0 {
				fn = args[0]
			}
			co, err := t.newCoroutine(fn)
			if err != nil {
				return nil, err
			}
			return co, nil
		},
		"resume": func(t *Thread, args []Value) (Value, error) {
			co, err := coroutineArg(args, "resume")
			if err != nil {
				return nil, err
			}
			v, _, err := t.resume(co, args[1:])
			return v, err
		},
		"yield": func(t *Thread, args []Value) (Value, error) {
			var v Value = NewNull()
			if len(args) > 0 {
				v = args[0]
			}
			return t.yield(v)
		},
		"status": func(t *Thread, args []Value) (Value, error) {
			co, err := coroutineArg(args, "status")
			if err != nil {
				return nil, err
			}
			return NewString(co.status.String()), nil
		},
		"close": func(t *Thread, args []Value) (Value, error) {
			co, err := coroutineArg(args, "close")
			if err != nil {
				return nil, err
			}
			if err := t.closeCoroutine(co); err != nil {
				return nil, err
			}
			return NewBool(true), nil
		},
		"running": func(t *Thread, args []Value) (Value, error) {
			if t.co == nil {
				return NewNull(), nil
			}
			return t.co, nil
		},
		"isyieldable": func(t *Thread, args []Value) (Value, error) {
			return NewBool(t.co != nil), nil
		},
		"wrap": func(t *Thread, args []Value) (Value, error) {
			var fn Value = NewNull()
			if len(args) > 0 {
				fn = args[0]
			}
			co, err := t.newCoroutine(fn)
			if err != nil {
				return nil, err
			}
			return &Builtin{Name: "coroutine.wrap", Fn: func(t *Thread, args []Value) (Value, error) {
				v, _, err := t.resume(co, args)
				return v, err
			}}, nil
		},
	})
}
