package audit

import (
	"encoding/json"
	"sort"
)

// FieldChange holds the old and new value of a single changed field.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff is a structured comparison of a record before and after a mutation.
// ChangedFields is the sorted union of all touched field names, kept
// alongside the maps so queries can match on it without unpacking them.
type Diff struct {
	Added         map[string]any         `json:"added,omitempty"`
	Removed       map[string]any         `json:"removed,omitempty"`
	Changed       map[string]FieldChange `json:"changed,omitempty"`
	ChangedFields []string               `json:"changed_fields"`
}

// ComputeDiff compares two snapshots field by field. Fields only in after
// land in Added, fields only in before in Removed, and fields present in
// both with different values in Changed. Returns nil when the snapshots are
// equal. Comparison is shallow: nested structures are compared by their
// canonical JSON encoding.
func ComputeDiff(before, after map[string]any) *Diff {
	d := &Diff{}

	for field, afterVal := range after {
		beforeVal, ok := before[field]
		if !ok {
			if d.Added == nil {
				d.Added = make(map[string]any)
			}
			d.Added[field] = afterVal
			continue
		}
		if !valuesEqual(beforeVal, afterVal) {
			if d.Changed == nil {
				d.Changed = make(map[string]FieldChange)
			}
			d.Changed[field] = FieldChange{From: beforeVal, To: afterVal}
		}
	}
	for field, beforeVal := range before {
		if _, ok := after[field]; !ok {
			if d.Removed == nil {
				d.Removed = make(map[string]any)
			}
			d.Removed[field] = beforeVal
		}
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 {
		return nil
	}

	fields := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Changed))
	for f := range d.Added {
		fields = append(fields, f)
	}
	for f := range d.Removed {
		fields = append(fields, f)
	}
	for f := range d.Changed {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	d.ChangedFields = fields
	return d
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	}
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(aj) == string(bj)
}
