// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"bytes"
	"testing"
)

func buildSegment(attr, typ byte, payload []byte) []byte {
	var out bytes.Buffer
	length := uint16(len(payload) + lrsHeaderSize)
	out.WriteByte(byte(length >> 8))
	out.WriteByte(byte(length))
	out.WriteByte(attr)
	out.WriteByte(typ)
	out.Write(payload)
	return out.Bytes()
}

func testSink(threshold Severity) *faultSink {
	return newFaultSink(threshold, newHelper(SeverityCritical+1, nil))
}

func TestAssembleSingleSegmentRecord(t *testing.T) {
	seg := buildSegment(lrsAttrExplicit, 0, []byte("FILE-HEADER-BODY"))
	src := newBytesSource(seg)

	explicits, implicits, err := assembleRecords(src, testSink(SeverityError))
	if err != nil {
		t.Fatal(err)
	}
	if len(implicits) != 0 {
		t.Fatalf("want no implicits, got %d", len(implicits))
	}
	if len(explicits) != 1 {
		t.Fatalf("want 1 explicit, got %d", len(explicits))
	}
	if explicits[0].Type != 0 || explicits[0].Length != len("FILE-HEADER-BODY") {
		t.Fatalf("got %+v", explicits[0])
	}

	payload, err := materializeRecord(src, explicits[0].Tell, explicits[0].Length)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "FILE-HEADER-BODY" {
		t.Fatalf("got %q", payload)
	}
}

func TestAssembleMultiSegmentRecordWithTrailer(t *testing.T) {
	// Segment 1: explicit + hasSucc, no trailer.
	first := buildSegment(lrsAttrExplicit|lrsAttrHasSuccessor, 1, []byte("abc"))
	// Segment 2: hasPred (continuation), has a 2-byte trailing-length field
	// appended after the real payload, which must be trimmed off.
	second := buildSegment(lrsAttrHasPredecessor|lrsAttrHasTrailingLen, 1, []byte("def\x00\x09"))

	var buf bytes.Buffer
	buf.Write(first)
	buf.Write(second)
	src := newBytesSource(buf.Bytes())

	explicits, _, err := assembleRecords(src, testSink(SeverityError))
	if err != nil {
		t.Fatal(err)
	}
	if len(explicits) != 1 {
		t.Fatalf("want 1 explicit, got %d", len(explicits))
	}
	if explicits[0].Length != len("abcdef") {
		t.Fatalf("want length 6, got %d", explicits[0].Length)
	}

	payload, err := materializeRecord(src, explicits[0].Tell, explicits[0].Length)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "abcdef" {
		t.Fatalf("got %q", payload)
	}
}

func TestAssembleOrphanContinuation(t *testing.T) {
	// First segment opens a record but never closes it (hasSucc); second
	// segment starts fresh (!hasPred), so the first is discarded.
	first := buildSegment(lrsAttrExplicit|lrsAttrHasSuccessor, 0, []byte("orphan"))
	second := buildSegment(lrsAttrExplicit, 0, []byte("complete"))

	var buf bytes.Buffer
	buf.Write(first)
	buf.Write(second)
	src := newBytesSource(buf.Bytes())

	sink := testSink(SeverityError)
	explicits, _, err := assembleRecords(src, sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(explicits) != 1 {
		t.Fatalf("want 1 explicit (orphan discarded), got %d", len(explicits))
	}
	if explicits[0].Length != len("complete") {
		t.Fatalf("got %+v", explicits[0])
	}
	if len(sink.faults) != 1 || sink.faults[0].Kind != FaultShortLogicalRecord {
		t.Fatalf("want one short-logical-record fault, got %+v", sink.faults)
	}
}

func TestAssembleInconsistentChain(t *testing.T) {
	// A lone continuation segment with no record in progress must be
	// skipped with a warning, not crash the assembler.
	lone := buildSegment(lrsAttrHasPredecessor, 0, []byte("stray"))
	after := buildSegment(lrsAttrExplicit, 0, []byte("ok"))

	var buf bytes.Buffer
	buf.Write(lone)
	buf.Write(after)
	src := newBytesSource(buf.Bytes())

	sink := testSink(SeverityError)
	explicits, _, err := assembleRecords(src, sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(explicits) != 1 || explicits[0].Length != len("ok") {
		t.Fatalf("got %+v", explicits)
	}
	if len(sink.faults) != 1 || sink.faults[0].Kind != FaultShortLogicalRecord {
		t.Fatalf("want one fault, got %+v", sink.faults)
	}
}

func TestAssembleEncryptedRecordRejected(t *testing.T) {
	seg := buildSegment(lrsAttrExplicit|lrsAttrHasEncryption, 0, []byte("secret"))
	src := newBytesSource(seg)

	_, _, err := assembleRecords(src, testSink(SeverityWarning))
	if err == nil {
		t.Fatal("want error for encrypted record")
	}
	var f Fault
	if !errorsAsFault(err, &f) || f.Kind != FaultShortLogicalRecord {
		t.Fatalf("got %v", err)
	}
}

func errorsAsFault(err error, f *Fault) bool {
	if ff, ok := err.(Fault); ok {
		*f = ff
		return true
	}
	return false
}

func TestAssembleTruncatedMidCollection(t *testing.T) {
	// Opens a record expecting a successor, then the stream ends.
	seg := buildSegment(lrsAttrExplicit|lrsAttrHasSuccessor, 0, []byte("incomplete"))
	src := newBytesSource(seg)

	explicits, _, err := assembleRecords(src, testSink(SeverityError))
	if err == nil {
		t.Fatal("want truncation error")
	}
	if len(explicits) != 0 {
		t.Fatalf("want no completed explicits, got %d", len(explicits))
	}
}

func TestAssembleTruncatedLoggedNotRaised(t *testing.T) {
	// Same as above but with a high escape threshold: the truncation is
	// logged and recorded, and the call succeeds with whatever was
	// already assembled.
	first := buildSegment(lrsAttrExplicit, 0, []byte("complete"))
	second := buildSegment(lrsAttrExplicit|lrsAttrHasSuccessor, 0, []byte("incomplete"))

	var buf bytes.Buffer
	buf.Write(first)
	buf.Write(second)
	src := newBytesSource(buf.Bytes())

	sink := testSink(SeverityCritical)
	explicits, _, err := assembleRecords(src, sink)
	if err != nil {
		t.Fatal(err)
	}
	if len(explicits) != 1 {
		t.Fatalf("want 1 completed explicit, got %d", len(explicits))
	}
	found := false
	for _, f := range sink.faults {
		if f.Kind == FaultTruncated {
			found = true
		}
	}
	if !found {
		t.Fatal("want truncation fault recorded")
	}
}

func encodeObnameForTest(origin uint32, copy uint8, ident string) []byte {
	var out bytes.Buffer
	out.Write(encodeUVARI(origin))
	out.WriteByte(copy)
	out.WriteByte(byte(len(ident)))
	out.WriteString(ident)
	return out.Bytes()
}

func TestPeekImplicitHeader(t *testing.T) {
	frameno, err := encode(RepUVARI, uint32(3))
	if err != nil {
		t.Fatal(err)
	}
	var payload bytes.Buffer
	payload.Write(encodeObnameForTest(2, 1, "FRAME1"))
	payload.Write(frameno)
	payload.Write([]byte{0xAA, 0xBB}) // trailing row bytes, not consumed.
	seg := buildSegment(0, 1, payload.Bytes())

	src := newBytesSource(seg)
	name, n, err := peekImplicitHeader(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	if name.Identifier != "FRAME1" || name.Origin != 2 || name.Copy != 1 {
		t.Fatalf("got %+v", name)
	}
	if n != 3 {
		t.Fatalf("want frame number 3, got %d", n)
	}
}
