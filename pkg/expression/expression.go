// Package expression evaluates boolean expr-lang predicates against records.
// Every field of a record is a variable, plus id. Fields a record lacks
// evaluate to nil.
//
//	sequence > 2 && todoText contains "ship"
package expression

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

var ErrEmptyExpression = errors.New("empty expression")

type CompileError struct {
	Expression string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %q: %v", e.Expression, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

type RunError struct {
	Expression string
	RecordID   string
	Err        error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("evaluate %q on record %s: %v", e.Expression, e.RecordID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

var programCache sync.Map // map[string]*vm.Program

type Predicate struct {
	src     string
	program *vm.Program
}

func Compile(src string) (Predicate, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return Predicate{}, ErrEmptyExpression
	}
	if cached, ok := programCache.Load(src); ok {
		return Predicate{src: src, program: cached.(*vm.Program)}, nil
	}
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return Predicate{}, &CompileError{Expression: src, Err: err}
	}
	programCache.Store(src, program)
	return Predicate{src: src, program: program}, nil
}

func (p Predicate) String() string {
	return p.src
}

func (p Predicate) Match(rec mrecord.Record) (bool, error) {
	out, err := expr.Run(p.program, Env(rec))
	if err != nil {
		return false, &RunError{Expression: p.src, RecordID: rec.ID.String(), Err: err}
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Filter keeps the records p matches, in order.
func (p Predicate) Filter(c mrecord.Collection) (mrecord.Collection, error) {
	out := make(mrecord.Collection, 0, len(c))
	for _, rec := range c {
		ok, err := p.Match(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Env is the variable set a record exposes. Numeric ids are int64.
func Env(rec mrecord.Record) map[string]any {
	env := make(map[string]any, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		env[k] = v
	}
	if n, ok := rec.ID.Num(); ok && rec.ID.IsNum() {
		env[mrecord.FieldID] = n
	} else {
		env[mrecord.FieldID] = rec.ID.String()
	}
	return env
}
