// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"bytes"
	"testing"
)

func repChannel(name string, rep Repcode, dimension []uint32) *Object {
	attic := map[string]AttrDesc{
		"REPRESENTATION-CODE": {Label: "REPRESENTATION-CODE", Count: 1, Repcode: RepUSHORT, Value: []any{uint32(rep)}},
	}
	if dimension != nil {
		dims := make([]any, len(dimension))
		for i, d := range dimension {
			dims[i] = d
		}
		attic["DIMENSION"] = AttrDesc{Label: "DIMENSION", Count: uint32(len(dimension)), Repcode: RepUVARI, Value: dims}
	}
	return &Object{Type: "CHANNEL", Name: Obname{Identifier: name}, Attic: attic}
}

func TestBuildRowSchemaScalarAndDimensioned(t *testing.T) {
	scalar := repChannel("GR", RepFSINGL, nil)
	vector := repChannel("IMG", RepUSHORT, []uint32{2, 3})

	schema, err := buildRowSchema([]*Object{scalar, vector})
	if err != nil {
		t.Fatal(err)
	}
	if schema[0].Elements != 1 || schema[0].IsVariable {
		t.Fatalf("got %+v", schema[0])
	}
	if schema[1].Elements != 6 {
		t.Fatalf("want dimension product 6, got %d", schema[1].Elements)
	}
}

func TestBuildRowSchemaUnknownRepcode(t *testing.T) {
	bad := repChannel("BAD", Repcode(99), nil)
	_, err := buildRowSchema([]*Object{bad})
	if err == nil {
		t.Fatal("want error for unknown representation code")
	}
}

func TestBuildRowSchemaMissingRepresentationCode(t *testing.T) {
	missing := &Object{Type: "CHANNEL", Name: Obname{Identifier: "X"}, Attic: map[string]AttrDesc{}}
	_, err := buildRowSchema([]*Object{missing})
	if err == nil {
		t.Fatal("want error for channel without a representation code")
	}
}

// buildFDATASegment builds one implicit-record segment: obname + frame
// number + one FSINGL column value.
func buildFDATASegment(frameNo uint32, value float64) []byte {
	var payload bytes.Buffer
	payload.Write(encodeObnameForTest(1, 0, "MAIN"))
	enc, err := encode(RepUVARI, frameNo)
	if err != nil {
		panic(err)
	}
	payload.Write(enc)
	val, err := encode(RepFSINGL, value)
	if err != nil {
		panic(err)
	}
	payload.Write(val)
	return buildSegment(0, 1, payload.Bytes())
}

func TestFDATAIndexBuildAndCurvesNonSequential(t *testing.T) {
	var buf bytes.Buffer
	var implicits []implicitRecord
	for i, fn := range []uint32{1, 3, 2} {
		seg := buildFDATASegment(fn, float64(i))
		tell := int64(buf.Len())
		buf.Write(seg)
		implicits = append(implicits, implicitRecord{Tell: tell, Length: len(seg) - lrsHeaderSize})
	}

	src := newBytesSource(buf.Bytes())
	idx := newFDATAIndex()
	sink := testSink(SeverityCritical)
	if err := idx.build(src, implicits, sink); err != nil {
		t.Fatal(err)
	}

	fp := makeFingerprint("FRAME", Obname{Origin: 1, Copy: 0, Identifier: "MAIN"})
	entries := idx.byFrame[fp]
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}

	channels := []*Object{repChannel("GR", RepFSINGL, nil)}
	table, err := idx.curves(src, fp, channels, sink)
	if err != nil {
		t.Fatal(err)
	}
	if table.Rows != 3 {
		t.Fatalf("want all 3 rows preserved in record order, got %d", table.Rows)
	}
	if table.Data[0][0].(float64) != 0 || table.Data[0][1].(float64) != 1 || table.Data[0][2].(float64) != 2 {
		t.Fatalf("want record order preserved regardless of frame numbers, got %+v", table.Data[0])
	}

	foundNonSeq := false
	for _, f := range sink.faults {
		if f.Kind == FaultNonSequentialFrames {
			foundNonSeq = true
		}
	}
	if !foundNonSeq {
		t.Fatalf("want a non-sequential-frames fault recorded, got %+v", sink.faults)
	}
}

func TestFDATACurvesTruncatesOnOverrun(t *testing.T) {
	seg := buildFDATASegment(1, 42.0)
	src := newBytesSource(seg)
	idx := newFDATAIndex()
	implicits := []implicitRecord{{Tell: 0, Length: len(seg) - lrsHeaderSize}}
	sink := testSink(SeverityCritical)
	if err := idx.build(src, implicits, sink); err != nil {
		t.Fatal(err)
	}

	fp := makeFingerprint("FRAME", Obname{Origin: 1, Copy: 0, Identifier: "MAIN"})
	// Two channels declared, but the segment only carries one FSINGL value:
	// decoding the second column runs past the end of the payload.
	channels := []*Object{repChannel("GR", RepFSINGL, nil), repChannel("NPHI", RepFSINGL, nil)}
	table, err := idx.curves(src, fp, channels, sink)
	if err != nil {
		t.Fatal(err)
	}
	if table.Rows != 0 {
		t.Fatalf("want the overrunning row dropped, got %d rows", table.Rows)
	}
	found := false
	for _, f := range sink.faults {
		if f.Kind == FaultFrameFmtOverrun {
			found = true
		}
	}
	if !found {
		t.Fatalf("want a frame-fmt-overrun fault recorded, got %+v", sink.faults)
	}
}
