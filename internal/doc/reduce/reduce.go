// Package reduce implements the reduction strategies named by a JSON
// Schema's `reduce` annotation (spec.md section 4.2), applied left-to-right
// as documents sharing a combiner key are folded together.
package reduce

import (
	"fmt"
	"sort"
	"strconv"
)

// Strategy identifies one of the reduction strategies recognized from a
// schema's `reduce` annotation.
type Strategy int

const (
	// LastWriteWins is the default strategy: the RHS document replaces LHS.
	LastWriteWins Strategy = iota
	// FirstWriteWins keeps LHS, discarding RHS.
	FirstWriteWins
	// Sum adds LHS and RHS as numbers (numeric or string-encoded numeric).
	Sum
	// Merge deep-merges objects, or merges arrays element-wise by index.
	Merge
	// Set applies {add, remove, intersect} sub-properties against a set
	// represented as an object (keyed) or sorted array.
	Set
	// Append concatenates RHS onto LHS, both expected to be arrays.
	Append
	// JSONPointer reduces structurally, delegating each location to the
	// schema's nested reduce annotations (the default recursive behavior).
	JSONPointer
)

// String renders the strategy using its schema-annotation spelling.
func (s Strategy) String() string {
	switch s {
	case LastWriteWins:
		return "lastWriteWins"
	case FirstWriteWins:
		return "firstWriteWins"
	case Sum:
		return "sum"
	case Merge:
		return "merge"
	case Set:
		return "set"
	case Append:
		return "append"
	case JSONPointer:
		return "jsonPointer"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a schema annotation's `strategy` string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "lastWriteWins":
		return LastWriteWins, nil
	case "firstWriteWins":
		return FirstWriteWins, nil
	case "sum":
		return Sum, nil
	case "merge":
		return Merge, nil
	case "set":
		return Set, nil
	case "append":
		return Append, nil
	case "jsonPointer":
		return JSONPointer, nil
	default:
		return 0, fmt.Errorf("unrecognized reduce strategy %q", s)
	}
}

// Annotation is a schema location's reduce annotation, parsed from its
// `reduce` keyword.
type Annotation struct {
	Strategy Strategy
	// Associative is false for strategies whose result depends on RHS
	// ordering (e.g. firstWriteWins, or set with non-commutative ops).
	// Spec.md section 3/8 requires this be tracked via the NOT_ASSOCIATIVE
	// meta flag so callers know drained output may depend on combine order.
	Associative bool
}

// TypeMismatchError is returned when a reduction's LHS/RHS dynamic types
// are incompatible with the selected strategy -- a deterministic, fatal
// failure per spec.md section 7.
type TypeMismatchError struct {
	Strategy Strategy
	Pointer  string
	LHS, RHS any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("reduce strategy %q failed at %q: incompatible types (lhs=%#v, rhs=%#v)",
		e.Strategy, e.Pointer, e.LHS, e.RHS)
}

// Schema is a minimal recursive description of a JSON Schema's structure
// sufficient to drive reduction and shape inference: a node may carry its
// own reduce Annotation, plus nested schemas for object properties and
// array items.
type Schema struct {
	Reduce     *Annotation
	Properties map[string]*Schema
	Items      *Schema
}

// Reduce folds rhs onto lhs at the document root, per the schema's reduce
// annotations. lhsExists distinguishes "no LHS yet" (first document at a
// key) from an explicit LHS of null. If full is true, lhs is known to be a
// complete prior reduction (the FRONT case from spec.md section 4.2) and
// strategies may perform additional root-only pruning (e.g. dropping
// tombstones). Reduce returns the folded value and whether the applied
// strategy was associative over RHS ordering.
func Reduce(schema *Schema, lhs any, lhsExists bool, rhs any, full bool) (any, bool, error) {
	return reduceAt(schema, "", lhs, lhsExists, rhs, full)
}

func reduceAt(schema *Schema, ptr string, lhs any, lhsExists bool, rhs any, full bool) (any, bool, error) {
	if !lhsExists {
		return rhs, true, nil
	}

	var strategy = LastWriteWins
	if schema != nil && schema.Reduce != nil {
		strategy = schema.Reduce.Strategy
	}

	switch strategy {
	case LastWriteWins:
		return rhs, true, nil

	case FirstWriteWins:
		return lhs, false, nil

	case Sum:
		lv, ok1 := asNumber(lhs)
		rv, ok2 := asNumber(rhs)
		if !ok1 || !ok2 {
			return nil, false, &TypeMismatchError{Strategy: strategy, Pointer: ptr, LHS: lhs, RHS: rhs}
		}
		return lv + rv, true, nil

	case Append:
		la, ok1 := lhs.([]any)
		ra, ok2 := rhs.([]any)
		if !ok1 || !ok2 {
			return nil, false, &TypeMismatchError{Strategy: strategy, Pointer: ptr, LHS: lhs, RHS: rhs}
		}
		var out = make([]any, 0, len(la)+len(ra))
		out = append(out, la...)
		out = append(out, ra...)
		return out, true, nil

	case Merge:
		return reduceMerge(schema, ptr, lhs, rhs, full)

	case Set:
		return reduceSet(schema, ptr, lhs, rhs)

	case JSONPointer:
		return reduceMerge(schema, ptr, lhs, rhs, full)

	default:
		return nil, false, fmt.Errorf("unimplemented reduce strategy %q", strategy)
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func reduceMerge(schema *Schema, ptr string, lhs, rhs any, full bool) (any, bool, error) {
	switch rv := rhs.(type) {
	case map[string]any:
		lv, ok := lhs.(map[string]any)
		if !ok {
			return nil, false, &TypeMismatchError{Strategy: Merge, Pointer: ptr, LHS: lhs, RHS: rhs}
		}
		var out = make(map[string]any, len(lv)+len(rv))
		for k, v := range lv {
			out[k] = v
		}
		var allAssoc = true
		for k, rField := range rv {
			var childSchema *Schema
			if schema != nil && schema.Properties != nil {
				childSchema = schema.Properties[k]
			}
			if lField, ok := lv[k]; ok {
				merged, assoc, err := reduceAt(childSchema, ptr+"/"+k, lField, true, rField, full)
				if err != nil {
					return nil, false, err
				}
				out[k] = merged
				allAssoc = allAssoc && assoc
			} else {
				out[k] = rField
			}
		}
		return out, allAssoc, nil

	case []any:
		lv, ok := lhs.([]any)
		if !ok {
			return nil, false, &TypeMismatchError{Strategy: Merge, Pointer: ptr, LHS: lhs, RHS: rhs}
		}
		var n = len(lv)
		if len(rv) > n {
			n = len(rv)
		}
		var out = make([]any, n)
		var allAssoc = true
		var itemSchema *Schema
		if schema != nil {
			itemSchema = schema.Items
		}
		for i := 0; i < n; i++ {
			switch {
			case i < len(lv) && i < len(rv):
				merged, assoc, err := reduceAt(itemSchema, fmt.Sprintf("%s/%d", ptr, i), lv[i], true, rv[i], full)
				if err != nil {
					return nil, false, err
				}
				out[i] = merged
				allAssoc = allAssoc && assoc
			case i < len(rv):
				out[i] = rv[i]
			default:
				out[i] = lv[i]
			}
		}
		return out, allAssoc, nil

	default:
		return nil, false, &TypeMismatchError{Strategy: Merge, Pointer: ptr, LHS: lhs, RHS: rhs}
	}
}

// reduceSet applies {add, remove, intersect} sub-properties of rhs against
// the running set lhs. Sets are represented either as a JSON object keyed
// by member (whose values are themselves reduced on add) or as a sorted
// array of scalar members.
func reduceSet(schema *Schema, ptr string, lhs, rhs any) (any, bool, error) {
	rhsObj, ok := rhs.(map[string]any)
	if !ok {
		return nil, false, &TypeMismatchError{Strategy: Set, Pointer: ptr, LHS: lhs, RHS: rhs}
	}

	switch lv := lhs.(type) {
	case map[string]any:
		var out = make(map[string]any, len(lv))
		for k, v := range lv {
			out[k] = v
		}
		if add, ok := rhsObj["add"].(map[string]any); ok {
			for k, v := range add {
				if existing, has := out[k]; has {
					var childSchema *Schema
					if schema != nil && schema.Properties != nil {
						childSchema = schema.Properties["add"]
					}
					merged, _, err := reduceAt(childSchema, ptr+"/add/"+k, existing, true, v, false)
					if err != nil {
						return nil, false, err
					}
					out[k] = merged
				} else {
					out[k] = v
				}
			}
		}
		if rm, ok := rhsObj["remove"].(map[string]any); ok {
			for k := range rm {
				delete(out, k)
			}
		}
		if inter, ok := rhsObj["intersect"].(map[string]any); ok {
			for k := range out {
				if _, keep := inter[k]; !keep {
					delete(out, k)
				}
			}
		}
		return out, false, nil

	case []any, nil:
		var members = map[string]bool{}
		if arr, ok := lv.([]any); ok {
			for _, m := range arr {
				members[fmt.Sprint(m)] = true
			}
		}
		var order []string
		addKey := func(v any) {
			key := fmt.Sprint(v)
			if !members[key] {
				members[key] = true
				order = append(order, key)
			}
		}
		for k := range members {
			order = append(order, k)
		}
		if add, ok := rhsObj["add"].([]any); ok {
			for _, v := range add {
				addKey(v)
			}
		}
		if rm, ok := rhsObj["remove"].([]any); ok {
			for _, v := range rm {
				delete(members, fmt.Sprint(v))
			}
		}
		if inter, ok := rhsObj["intersect"].([]any); ok {
			var keep = map[string]bool{}
			for _, v := range inter {
				keep[fmt.Sprint(v)] = true
			}
			for k := range members {
				if !keep[k] {
					delete(members, k)
				}
			}
		}
		sort.Strings(order)
		var out = make([]any, 0, len(members))
		for _, k := range order {
			if members[k] {
				out = append(out, k)
			}
		}
		return out, false, nil

	default:
		return nil, false, &TypeMismatchError{Strategy: Set, Pointer: ptr, LHS: lhs, RHS: rhs}
	}
}
