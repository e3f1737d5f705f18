// Expression compiler contract (spec §6, consumed only — spec §1
// explicitly excludes "expression-language parsing" from this core).
// Compiled is the opaque, deterministic predicate Filter evaluates;
// Compiler is the pluggable interface an external expression language
// would implement. Simple is a minimal built-in Compiler for
// `column OP literal` predicates so the module is runnable end-to-end
// without pulling in a real parser.
package confluo

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Descriptor is a structured, JSON-renderable view of a rejected
// expression, echoed back inside a ManagementError so a caller (or a
// log line) can see exactly which token failed without re-parsing the
// source string. Used only on the Compile error path, never on
// evaluation.
type Descriptor struct {
	Source string `json:"source"`
	Tokens []string `json:"tokens"`
	Reason string `json:"reason"`
}

func newDescriptorErr(op, source, reason string, tokens []string) error {
	d := Descriptor{Source: source, Tokens: tokens, Reason: reason}
	body, _ := json.Marshal(d)
	return &ManagementError{Op: op, Text: string(body), Err: fmt.Errorf(reason)}
}

// Compiled is a compiled predicate over a record view, plus the field
// projection used for aggregate computation (spec §6).
type Compiled interface {
	// Evaluate reports whether record satisfies the predicate.
	Evaluate(record *RecordView) bool
	// Projection returns the ordinal of the field a Filter should
	// aggregate over when this predicate matches.
	Projection() int
}

// Compiler compiles a source expression against a schema into a
// Compiled predicate. Errors are parse, type-mismatch, or
// unknown-field (spec §6).
type Compiler interface {
	Compile(source string, schema *Schema) (Compiled, error)
}

// RelOp is a relational operator used by both Simple predicates and
// Trigger thresholds.
type RelOp int

const (
	OpEQ RelOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

func (op RelOp) apply(a, b float64) bool {
	switch op {
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	case OpLT:
		return a < b
	case OpLE:
		return a <= b
	case OpGT:
		return a > b
	case OpGE:
		return a >= b
	}
	return false
}

func parseRelOp(s string) (RelOp, bool) {
	switch s {
	case "==":
		return OpEQ, true
	case "!=":
		return OpNE, true
	case "<":
		return OpLT, true
	case "<=":
		return OpLE, true
	case ">":
		return OpGT, true
	case ">=":
		return OpGE, true
	}
	return 0, false
}

// simplePredicate is the Compiled implementation Simple produces.
type simplePredicate struct {
	ordinal int
	op      RelOp
	literal float64
}

func (p *simplePredicate) Evaluate(record *RecordView) bool {
	field := record.Field(p.ordinal)
	return p.op.apply(fieldAsFloat(field), p.literal)
}

func (p *simplePredicate) Projection() int { return p.ordinal }

func fieldAsFloat(f FieldView) float64 {
	switch f.Type() {
	case TypeBoolean:
		if f.Bool() {
			return 1
		}
		return 0
	case TypeChar:
		return float64(f.Int8())
	case TypeShort:
		return float64(f.Int16())
	case TypeInt:
		return float64(f.Int32())
	case TypeLong:
		return float64(f.Int64())
	case TypeFloat:
		return float64(f.Float32())
	case TypeDouble:
		return f.Float64()
	default:
		return 0
	}
}

// Simple is a built-in Compiler for predicates of the form
// `column OP literal`, e.g. "val > 3.0". It is not a general
// expression language (spec §1 excludes that); it exists so Filter and
// Trigger are exercisable without an external compiler.
type Simple struct{}

func (Simple) Compile(source string, schema *Schema) (Compiled, error) {
	fields := strings.Fields(source)
	if len(fields) != 3 {
		return nil, newDescriptorErr("add_filter", source, "expected `column OP literal`", fields)
	}
	ordinal, ok := schema.Lookup(fields[0])
	if !ok {
		return nil, newDescriptorErr("add_filter", source, "unknown field: "+fields[0], fields)
	}
	op, ok := parseRelOp(fields[1])
	if !ok {
		return nil, newDescriptorErr("add_filter", source, "unknown operator: "+fields[1], fields)
	}
	literal, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, newDescriptorErr("add_filter", source, "literal is not numeric: "+err.Error(), fields)
	}
	col := schema.Column(ordinal)
	if col.Type() == TypeString {
		return nil, newDescriptorErr("add_filter", source, "type mismatch: string column cannot use numeric comparison", fields)
	}
	return &simplePredicate{ordinal: ordinal, op: op, literal: literal}, nil
}
