// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"testing"
)

func attic(label, value string) map[string]AttrDesc {
	return map[string]AttrDesc{
		label: {Label: label, Count: 1, Repcode: RepIDENT, Value: []any{value}},
	}
}

func TestPoolAddIdenticalFoldsSilently(t *testing.T) {
	p := newPool(testSink(SeverityError))
	name := Obname{Origin: 1, Copy: 0, Identifier: "CHAN1"}

	first := p.add("CHANNEL", name, attic("LONG-NAME", "Gamma Ray"), []string{"LONG-NAME"})
	second := p.add("CHANNEL", name, attic("LONG-NAME", "Gamma Ray"), []string{"LONG-NAME"})

	if first != second {
		t.Fatal("want identical re-occurrence to return the same object")
	}
	if len(p.Problematic) != 0 {
		t.Fatalf("want no problematic entries, got %d", len(p.Problematic))
	}
}

func TestPoolAddDivergentKeepsLastAndRecords(t *testing.T) {
	sink := testSink(SeverityError)
	p := newPool(sink)
	name := Obname{Origin: 1, Copy: 0, Identifier: "CHAN1"}

	first := p.add("CHANNEL", name, attic("LONG-NAME", "Gamma Ray"), []string{"LONG-NAME"})
	second := p.add("CHANNEL", name, attic("LONG-NAME", "Neutron Porosity"), []string{"LONG-NAME"})

	if first == second {
		t.Fatal("want divergent re-occurrence to produce a distinct object")
	}
	if len(p.Problematic) != 1 {
		t.Fatalf("want 1 problematic entry, got %d", len(p.Problematic))
	}
	if p.Problematic[0].Original != first || p.Problematic[0].Duplicate != second {
		t.Fatalf("got %+v", p.Problematic[0])
	}

	got, err := p.Object("CHANNEL", "CHAN1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Fatal("want pool lookup to return the last-seen object")
	}
	if len(sink.faults) != 1 || sink.faults[0].Kind != FaultDuplicateObject {
		t.Fatalf("want one duplicate-object fault, got %+v", sink.faults)
	}
}

func TestPoolObjectExactLookup(t *testing.T) {
	p := newPool(testSink(SeverityError))
	origin := uint32(2)
	copy := uint8(0)
	name := Obname{Origin: origin, Copy: copy, Identifier: "CHAN1"}
	p.add("CHANNEL", name, attic("LONG-NAME", "Gamma Ray"), []string{"LONG-NAME"})

	obj, err := p.Object("CHANNEL", "CHAN1", &origin, &copy)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Name.Identifier != "CHAN1" {
		t.Fatalf("got %+v", obj)
	}

	_, err = p.Object("CHANNEL", "NOPE", &origin, &copy)
	if err == nil {
		t.Fatal("want not-found error")
	}
}

func TestPoolObjectAmbiguous(t *testing.T) {
	p := newPool(testSink(SeverityError))
	p.add("CHANNEL", Obname{Origin: 1, Copy: 0, Identifier: "CHAN1"}, attic("LONG-NAME", "a"), nil)
	p.add("CHANNEL", Obname{Origin: 2, Copy: 0, Identifier: "CHAN1"}, attic("LONG-NAME", "b"), nil)

	_, err := p.Object("CHANNEL", "CHAN1", nil, nil)
	if err == nil {
		t.Fatal("want ambiguous error when origin/copy are omitted")
	}
}

func TestPoolMatchStreams(t *testing.T) {
	p := newPool(testSink(SeverityError))
	p.add("CHANNEL", Obname{Origin: 1, Copy: 0, Identifier: "GR"}, attic("LONG-NAME", "Gamma Ray"), nil)
	p.add("CHANNEL", Obname{Origin: 1, Copy: 0, Identifier: "NPHI"}, attic("LONG-NAME", "Neutron Porosity"), nil)
	p.add("FRAME", Obname{Origin: 1, Copy: 0, Identifier: "MAIN"}, nil, nil)

	ch, err := p.Match("^GR$", "CHANNEL")
	if err != nil {
		t.Fatal(err)
	}
	var got []*Object
	for obj := range ch {
		got = append(got, obj)
	}
	if len(got) != 1 || got[0].Name.Identifier != "GR" {
		t.Fatalf("got %+v", got)
	}
}

func TestPoolResolveObnameDangling(t *testing.T) {
	sink := testSink(SeverityCritical)
	p := newPool(sink)

	obj, err := p.resolveObname("FRAME", Obname{Origin: 1, Copy: 0, Identifier: "NOPE"})
	if err != nil {
		t.Fatal(err)
	}
	if obj != nil {
		t.Fatal("want nil object for dangling reference")
	}
	if len(sink.faults) != 1 || sink.faults[0].Kind != FaultDanglingReference {
		t.Fatalf("want dangling-reference fault recorded, got %+v", sink.faults)
	}
}

func TestPoolResolveObnameDanglingRaisesAtLowThreshold(t *testing.T) {
	sink := testSink(SeverityWarning)
	p := newPool(sink)

	_, err := p.resolveObname("FRAME", Obname{Origin: 1, Copy: 0, Identifier: "NOPE"})
	if err == nil {
		t.Fatal("want dangling reference to raise when threshold is warning")
	}
}

func TestPoolResolveObjrefAndAttref(t *testing.T) {
	p := newPool(testSink(SeverityCritical))
	name := Obname{Origin: 1, Copy: 0, Identifier: "MAIN"}
	want := p.add("FRAME", name, nil, nil)

	obj, err := p.resolveObjref(Objref{Type: "FRAME", Name: name})
	if err != nil {
		t.Fatal(err)
	}
	if obj != want {
		t.Fatalf("got %+v", obj)
	}

	obj, err = p.resolveAttref(Attref{Type: "FRAME", Name: name})
	if err != nil {
		t.Fatal(err)
	}
	if obj != want {
		t.Fatalf("got %+v", obj)
	}
}

func TestNormalizeTypeTag(t *testing.T) {
	if normalizeTypeTag(" channel ") != "CHANNEL" {
		t.Fatal("want normalized upper-case, trimmed tag")
	}
}
