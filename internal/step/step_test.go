package step

import (
	"errors"
	"testing"
)

func TestOrderReproduction(t *testing.T) {
	want := []ID{Init, Synthesis, Floorplan, NetlistOpt, Placement, CTS, Legalization, Routing, Filler}

	got := []ID{Init}
	cur := Init
	for {
		next, ok := NextExpected(cur)
		if !ok {
			break
		}
		got = append(got, next)
		cur = next
	}
	if len(got) != len(want) {
		t.Fatalf("walked %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, got[i], want[i])
		}
	}
	if Last() != Filler {
		t.Errorf("Last() = %q, want filler", Last())
	}
}

func TestOrderReturnsCopy(t *testing.T) {
	o := Order()
	o[0] = "mutated"
	if Order()[0] != Init {
		t.Fatal("Order() exposed internal slice")
	}
}

func TestAssertLegalAllPairs(t *testing.T) {
	ids := Order()
	for i, finished := range ids {
		for j, requested := range ids {
			err := AssertLegal(finished, requested)
			if j == i+1 {
				if err != nil {
					t.Errorf("AssertLegal(%q, %q) = %v, want nil", finished, requested, err)
				}
				continue
			}
			var se *SequenceError
			if !errors.As(err, &se) {
				t.Errorf("AssertLegal(%q, %q) = %v, want *SequenceError", finished, requested, err)
				continue
			}
			if se.Requested != requested || se.Finished != finished {
				t.Errorf("SequenceError fields = %+v", se)
			}
		}
	}
}

func TestAssertLegalTerminal(t *testing.T) {
	if _, ok := NextExpected(Filler); ok {
		t.Fatal("NextExpected(filler) should report no next step")
	}

	err := AssertLegal(Filler, Synthesis)
	var se *SequenceError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *SequenceError", err)
	}
	if se.Expected != "" {
		t.Errorf("Expected = %q, want empty", se.Expected)
	}

	// Re-running the step that just finished is also out of order.
	if err := AssertLegal(Placement, Placement); err == nil {
		t.Error("repeating placement should be rejected")
	}
}

func TestAuxiliaryNotOrdered(t *testing.T) {
	for _, id := range []ID{LayoutGDS, LayoutJSON, Snapshot, STA, DRC} {
		if id.Ordered() {
			t.Errorf("%q should not be ordered", id)
		}
		if !id.Valid() {
			t.Errorf("%q should be valid", id)
		}
		if err := AssertLegal(Filler, id); err == nil {
			t.Errorf("AssertLegal(filler, %q) should fail", id)
		}
	}
}

func TestParse(t *testing.T) {
	id, err := Parse("cts")
	if err != nil || id != CTS {
		t.Fatalf("Parse(cts) = %q, %v", id, err)
	}
	if _, err := Parse("tapeout"); err == nil {
		t.Error("Parse(tapeout) should fail")
	}
}

func TestAfter(t *testing.T) {
	if !After(Routing, Placement) {
		t.Error("routing should come after placement")
	}
	if After(Placement, Placement) {
		t.Error("a step is not after itself")
	}
	if After(STA, Init) {
		t.Error("auxiliary steps have no position")
	}
}

func TestCatalogDefaults(t *testing.T) {
	c := DefaultCatalog()
	for _, id := range append(Order()[1:], LayoutGDS, LayoutJSON, Snapshot, STA, DRC) {
		d, err := c.Lookup(id)
		if err != nil {
			t.Errorf("Lookup(%q): %v", id, err)
			continue
		}
		if len(d.Command) == 0 {
			t.Errorf("%q has no command", id)
		}
		if id.Ordered() && d.Report == nil {
			t.Errorf("%q has no report parser", id)
		}
	}
	if _, err := c.Lookup(Init); err == nil {
		t.Error("init has no descriptor")
	}
}

func TestCatalogOverrides(t *testing.T) {
	c, err := NewCatalog(map[ID][]string{Placement: {"my-placer", "{topName}"}})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	d, _ := c.Lookup(Placement)
	if d.Command[0] != "my-placer" {
		t.Errorf("command = %v", d.Command)
	}

	// Mutating a looked-up descriptor must not leak into the catalog.
	d.Command[0] = "changed"
	d2, _ := c.Lookup(Placement)
	if d2.Command[0] != "my-placer" {
		t.Error("Lookup returned shared command slice")
	}

	if _, err := NewCatalog(map[ID][]string{"tapeout": {"x"}}); err == nil {
		t.Error("override for unknown step should fail")
	}
	if _, err := NewCatalog(map[ID][]string{CTS: {}}); err == nil {
		t.Error("empty override should fail")
	}
}

func TestExpand(t *testing.T) {
	v := Vars{TopName: "gcd", ResultDir: "/r", Stage: Placement, Tool: "iEDA-iPL"}
	got := Expand("{resultDir}/metrics/{tool}_{stageId}.json", v)
	if got != "/r/metrics/iEDA-iPL_placement.json" {
		t.Errorf("Expand = %q", got)
	}
	if got := Expand("{unknown}/{topName}", v); got != "{unknown}/gcd" {
		t.Errorf("Expand unknown = %q", got)
	}
}
