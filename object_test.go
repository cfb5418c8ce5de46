// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import "testing"

func TestObjectScalarAndVector(t *testing.T) {
	o := &Object{Attic: map[string]AttrDesc{
		"UNITS":     {Value: []any{"M"}},
		"VALUES":    {Value: []any{1.0, 2.0, 3.0}},
		"ABSENT":    {Absent: true, Value: []any{"ignored"}},
		"EMPTYVALS": {Value: nil},
	}}
	if o.Scalar("UNITS") != "M" {
		t.Fatalf("got %v", o.Scalar("UNITS"))
	}
	if len(o.Vector("VALUES")) != 3 {
		t.Fatalf("got %v", o.Vector("VALUES"))
	}
	if o.Scalar("ABSENT") != nil {
		t.Fatal("want nil for an attribute flagged absent")
	}
	if o.Scalar("EMPTYVALS") != nil {
		t.Fatal("want nil for an attribute with no decoded values")
	}
	if o.Scalar("MISSING") != nil {
		t.Fatal("want nil for an attribute not present in the attic at all")
	}
}

func TestObjectResolveLink(t *testing.T) {
	sink := testSink(SeverityCritical)
	p := newPool(sink)
	target := p.add("CHANNEL", Obname{Origin: 1, Copy: 0, Identifier: "GR"}, attic("LONG-NAME", "Gamma Ray"), nil)

	holder := &Object{
		Attic: map[string]AttrDesc{
			"LINK": {Value: []any{Obname{Origin: 1, Copy: 0, Identifier: "GR"}}},
		},
		pool: p,
	}
	got := holder.resolveLink("LINK", "CHANNEL")
	if got != target {
		t.Fatalf("got %+v, want %+v", got, target)
	}

	dangling := holder.resolveLink("MISSING-LABEL", "CHANNEL")
	if dangling != nil {
		t.Fatal("want nil when the label itself has no value")
	}
}

func TestObjectResolveLinksSkipsDangling(t *testing.T) {
	sink := testSink(SeverityCritical)
	p := newPool(sink)
	ok := p.add("CHANNEL", Obname{Origin: 1, Copy: 0, Identifier: "GR"}, attic("LONG-NAME", "Gamma Ray"), nil)

	holder := &Object{
		Attic: map[string]AttrDesc{
			"CHANNELS": {Value: []any{
				Obname{Origin: 1, Copy: 0, Identifier: "GR"},
				Obname{Origin: 1, Copy: 0, Identifier: "NOPE"},
			}},
		},
		pool: p,
	}
	got := holder.resolveLinks("CHANNELS", "CHANNEL")
	if len(got) != 1 || got[0] != ok {
		t.Fatalf("want only the resolvable link, got %+v", got)
	}
}

func TestObjectResolveAnyObjrefAndAttref(t *testing.T) {
	sink := testSink(SeverityCritical)
	p := newPool(sink)
	name := Obname{Origin: 1, Copy: 0, Identifier: "MAIN"}
	target := p.add("FRAME", name, nil, nil)

	holder := &Object{pool: p}
	if got := holder.resolveAny(Objref{Type: "FRAME", Name: name}, ""); got != target {
		t.Fatalf("got %+v", got)
	}
	if got := holder.resolveAny(Attref{Type: "FRAME", Name: name}, ""); got != target {
		t.Fatalf("got %+v", got)
	}
	if got := holder.resolveAny("not-a-reference", ""); got != nil {
		t.Fatal("want nil for a non-reference value")
	}
}

func TestTypedViewDispatchAndUnknown(t *testing.T) {
	ch := &Object{Type: "CHANNEL"}
	view := typedView(ch, defaultTypes)
	if _, ok := view.(Channel); !ok {
		t.Fatalf("want Channel, got %T", view)
	}

	custom := &Object{Type: "VENDOR-SPECIFIC"}
	if _, ok := typedView(custom, defaultTypes).(Unknown); !ok {
		t.Fatal("want Unknown for an unregistered type tag")
	}

	types := make(map[string]ObjectType, len(defaultTypes))
	for k, v := range defaultTypes {
		types[k] = v
	}
	types["VENDOR-SPECIFIC"] = ObjectType{Tag: "VENDOR-SPECIFIC", New: func(o *Object) any { return Comment{o} }}
	if _, ok := typedView(custom, types).(Comment); !ok {
		t.Fatal("want the registered constructor honored via ExtraTypes")
	}
}

func TestFrameCurvesDelegates(t *testing.T) {
	sink := testSink(SeverityCritical)
	p := newPool(sink)
	ch := p.add("CHANNEL", Obname{Identifier: "GR"}, map[string]AttrDesc{
		"REPRESENTATION-CODE": {Value: []any{uint32(RepFSINGL)}},
	}, nil)
	frame := p.add("FRAME", Obname{Identifier: "MAIN"}, map[string]AttrDesc{
		"CHANNELS": {Value: []any{ch.Name}},
	}, nil)

	idx := newFDATAIndex()
	f := Frame{frame}
	table, err := f.Curves(newBytesSource(nil), idx, sink)
	if err != nil {
		t.Fatal(err)
	}
	if table.Rows != 0 {
		t.Fatalf("want an empty table with no FDATA records indexed, got %d rows", table.Rows)
	}
}
