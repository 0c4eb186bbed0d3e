package audit

import (
	"reflect"
	"testing"
)

func TestComputeDiff(t *testing.T) {
	before := map[string]any{
		"rank":      "CDT",
		"platoon":   "3",
		"height_cm": 180,
		"remarks":   "none",
		"scores":    []any{70, 80},
	}
	after := map[string]any{
		"rank":      "CDT",
		"platoon":   "1",
		"height_cm": 180,
		"callsign":  "bravo",
		"scores":    []any{70, 85},
	}

	d := ComputeDiff(before, after)
	if d == nil {
		t.Fatal("expected diff")
	}
	if !reflect.DeepEqual(d.Added, map[string]any{"callsign": "bravo"}) {
		t.Fatalf("unexpected added: %+v", d.Added)
	}
	if !reflect.DeepEqual(d.Removed, map[string]any{"remarks": "none"}) {
		t.Fatalf("unexpected removed: %+v", d.Removed)
	}
	if change, ok := d.Changed["platoon"]; !ok || change.From != "3" || change.To != "1" {
		t.Fatalf("unexpected platoon change: %+v", d.Changed)
	}
	if _, ok := d.Changed["scores"]; !ok {
		t.Fatalf("expected nested slice change detected: %+v", d.Changed)
	}
	if _, ok := d.Changed["rank"]; ok {
		t.Fatalf("rank did not change: %+v", d.Changed)
	}

	want := []string{"callsign", "platoon", "remarks", "scores"}
	if !reflect.DeepEqual(d.ChangedFields, want) {
		t.Fatalf("changed fields = %v, want %v", d.ChangedFields, want)
	}
}

func TestComputeDiffNoChanges(t *testing.T) {
	snap := map[string]any{"rank": "CDT", "tags": map[string]any{"a": 1}}
	same := map[string]any{"rank": "CDT", "tags": map[string]any{"a": 1}}
	if d := ComputeDiff(snap, same); d != nil {
		t.Fatalf("expected nil diff, got %+v", d)
	}
}

func TestComputeDiffEmptyBefore(t *testing.T) {
	d := ComputeDiff(nil, map[string]any{"rank": "CDT"})
	if d == nil || len(d.Added) != 1 || len(d.Removed) != 0 || len(d.Changed) != 0 {
		t.Fatalf("expected create-style diff, got %+v", d)
	}
}
