// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import "fmt"

// Logical Record Segment attribute bits. RP66 V1 does not publish these
// as a single canonical byte layout usable verbatim by an implementation
// reading only spec prose; this is a self-consistent internal convention
// covering every attribute bit RP66 V1 §3
// names, plus one disjoint bit for the indirect/IFLR marker.
const (
	lrsAttrExplicit       byte = 0x80
	lrsAttrHasPredecessor byte = 0x40
	lrsAttrHasSuccessor   byte = 0x20
	lrsAttrHasEncryption  byte = 0x10
	lrsAttrHasPadding     byte = 0x08
	lrsAttrHasChecksum    byte = 0x04
	lrsAttrHasTrailingLen byte = 0x02
	lrsAttrIndirect       byte = 0x01
)

// lrsHeaderSize is the fixed 4-byte header every segment carries: a
// big-endian length, one attribute byte, and one type byte (RP66 V1 §3).
const lrsHeaderSize = 4

type lrsHeader struct {
	length int64
	attr   byte
	typ    byte
}

func (h lrsHeader) isExplicit() bool  { return h.attr&lrsAttrExplicit != 0 }
func (h lrsHeader) isIndirect() bool  { return h.attr&lrsAttrIndirect != 0 }
func (h lrsHeader) hasPred() bool     { return h.attr&lrsAttrHasPredecessor != 0 }
func (h lrsHeader) hasSucc() bool     { return h.attr&lrsAttrHasSuccessor != 0 }
func (h lrsHeader) hasEncrypt() bool  { return h.attr&lrsAttrHasEncryption != 0 }
func (h lrsHeader) hasPadding() bool  { return h.attr&lrsAttrHasPadding != 0 }
func (h lrsHeader) hasChecksum() bool { return h.attr&lrsAttrHasChecksum != 0 }
func (h lrsHeader) hasTrailLen() bool { return h.attr&lrsAttrHasTrailingLen != 0 }

func readLRSHeader(src ByteSource) (lrsHeader, error) {
	b, err := src.Read(lrsHeaderSize)
	if err != nil {
		return lrsHeader{}, err
	}
	length := int64(be16(b[0:2]))
	if length < lrsHeaderSize {
		return lrsHeader{}, fmt.Errorf("%w: segment length %d smaller than header", ErrInvalidFormatVersion, length)
	}
	return lrsHeader{length: length, attr: b[2], typ: b[3]}, nil
}

// trimTrailingFields removes, in order, the trailing-length field, the
// checksum, and the padding byte run from the tail of a segment payload,
// matching the order in which they were appended when written (RP66 V1
// §4.2's segment trailer layout).
func trimTrailingFields(payload []byte, h lrsHeader) ([]byte, error) {
	if h.hasTrailLen() {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: trailing-length field missing", errBadSegmentTrim)
		}
		payload = payload[:len(payload)-2]
	}
	if h.hasChecksum() {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: checksum field missing", errBadSegmentTrim)
		}
		payload = payload[:len(payload)-2]
	}
	if h.hasPadding() {
		if len(payload) < 1 {
			return nil, fmt.Errorf("%w: padding count byte missing", errBadSegmentTrim)
		}
		padCount := int(payload[len(payload)-1])
		if padCount < 1 || padCount > len(payload) {
			return nil, fmt.Errorf("%w: implausible padding count %d", errBadSegmentTrim, padCount)
		}
		payload = payload[:len(payload)-padCount]
	}
	return payload, nil
}

var errBadSegmentTrim = fmt.Errorf("inconsistent segment trailer")

// explicitRecord describes one assembled EFLR, ready for on-demand
// materialization via materializeRecord.
type explicitRecord struct {
	Type   byte
	Tell   int64
	Length int
}

// implicitRecord describes one assembled IFLR (FDATA); its payload is
// never fully materialized by the assembler, only peeked for the obname
// and frame number that key the FDATA index.
type implicitRecord struct {
	Tell   int64
	Length int
}

// assembler walks a framed byte source (typically a *vrlSource) and
// reassembles Logical Record Segments into complete Logical Records,
// classifying each as explicit or implicit and recording just enough to
// materialize its payload later on demand.
type assembler struct {
	src  ByteSource
	sink *faultSink

	state    assemblerState
	curType  byte
	curTell  int64
	curIsEx  bool
	curBytes []byte

	explicits []explicitRecord
	implicits []implicitRecord
}

type assemblerState int

const (
	stateIdle assemblerState = iota
	stateCollecting
)

func newAssembler(src ByteSource, sink *faultSink) *assembler {
	return &assembler{src: src, sink: sink, state: stateIdle}
}

// assembleRecords runs the RP66 V1 §4.1 Logical Record Segment assembly
// state machine to completion (or until a fault escalates past the
// sink's threshold, or the source is exhausted). On escalation it stops
// and returns whatever
// records had already completed, plus the escalated error — the caller
// (the loader) decides whether that still counts as a usable logical
// file.
func assembleRecords(src ByteSource, sink *faultSink) ([]explicitRecord, []implicitRecord, error) {
	a := newAssembler(src, sink)
	for {
		if src.EOF() {
			if a.state == stateCollecting {
				if err := sink.raise(FaultTruncated, SeverityError, "last logical record segment expects successor: file truncated at end of stream"); err != nil {
					return a.explicits, a.implicits, err
				}
			}
			return a.explicits, a.implicits, nil
		}
		tell := src.Tell()
		hdr, err := readLRSHeader(src)
		if err != nil {
			if err := sink.raise(FaultTruncated, SeverityError, "file truncated: reading logical record segment header at tell %d: %v", tell, err); err != nil {
				return a.explicits, a.implicits, err
			}
			return a.explicits, a.implicits, nil
		}
		if hdr.hasEncrypt() {
			return a.explicits, a.implicits, sink.raise(FaultShortLogicalRecord, SeverityCritical, "encrypted logical record segment at tell %d is not supported", tell)
		}

		payloadLen := hdr.length - lrsHeaderSize
		raw, err := src.Read(int(payloadLen))
		if err != nil {
			if err := sink.raise(FaultTruncated, SeverityError, "file truncated: reading logical record segment payload at tell %d: %v", tell, err); err != nil {
				return a.explicits, a.implicits, err
			}
			return a.explicits, a.implicits, nil
		}
		payload, err := trimTrailingFields(raw, hdr)
		if err != nil {
			if err := sink.raise(FaultBadSegmentTrim, SeverityError, "%v at tell %d", err, tell); err != nil {
				return a.explicits, a.implicits, err
			}
			// Fall back to the untrimmed payload so the record isn't lost
			// outright; downstream decode will likely fault again, but the
			// fault is already recorded here.
			payload = raw
		}

		if !hdr.hasPred() {
			if a.state == stateCollecting {
				if err := sink.raise(FaultShortLogicalRecord, SeverityWarning, "orphan continuation: discarding incomplete record at tell %d in favor of new record at tell %d", a.curTell, tell); err != nil {
					return a.explicits, a.implicits, err
				}
			}
			a.state = stateCollecting
			a.curType = hdr.typ
			a.curIsEx = hdr.isExplicit()
			a.curTell = tell
			a.curBytes = append([]byte(nil), payload...)
		} else {
			if a.state == stateIdle {
				if err := sink.raise(FaultShortLogicalRecord, SeverityWarning, "inconsistent segment chain: middle segment without an active record at tell %d, resyncing", tell); err != nil {
					return a.explicits, a.implicits, err
				}
				continue
			}
			a.curBytes = append(a.curBytes, payload...)
		}

		if hdr.hasSucc() {
			a.state = stateCollecting
			continue
		}

		a.emit()
		a.state = stateIdle
	}
}

func (a *assembler) emit() {
	if a.curIsEx {
		a.explicits = append(a.explicits, explicitRecord{Type: a.curType, Tell: a.curTell, Length: len(a.curBytes)})
	} else {
		a.implicits = append(a.implicits, implicitRecord{Tell: a.curTell, Length: len(a.curBytes)})
	}
}

// materializeRecord re-walks the framed source from tell and re-runs the
// segment trim/concatenate logic to reconstitute one record's payload on
// demand, rather than keeping every record's bytes resident after the
// initial scan. It assumes no other reader has moved src's cursor between
// assembly and this call other than through this same source.
func materializeRecord(src ByteSource, tell int64, wantLen int) ([]byte, error) {
	if err := src.Seek(tell); err != nil {
		return nil, err
	}
	out := make([]byte, 0, wantLen)
	for len(out) < wantLen {
		hdr, err := readLRSHeader(src)
		if err != nil {
			return out, err
		}
		payloadLen := hdr.length - lrsHeaderSize
		raw, err := src.Read(int(payloadLen))
		if err != nil {
			return out, err
		}
		payload, trimErr := trimTrailingFields(raw, hdr)
		if trimErr != nil {
			payload = raw
		}
		out = append(out, payload...)
		if !hdr.hasSucc() {
			break
		}
	}
	return out, nil
}

// peekImplicitHeader reads just the obname and frame-number prefix of an
// implicit (FDATA) record without materializing its full row payload; the
// index only needs the prefix to locate frames, and full rows are decoded
// lazily by Curves. It assumes the record's first segment carries the
// full obname + frameno prefix (true in practice: both fields are tiny
// relative to any sane segment length).
func peekImplicitHeader(src ByteSource, tell int64) (Obname, uint32, error) {
	if err := src.Seek(tell); err != nil {
		return Obname{}, 0, err
	}
	hdr, err := readLRSHeader(src)
	if err != nil {
		return Obname{}, 0, err
	}
	body, err := src.Read(int(hdr.length) - lrsHeaderSize)
	if err != nil {
		return Obname{}, 0, err
	}
	c := newCursor(body)
	v, err := decode(RepOBNAME, c)
	if err != nil {
		return Obname{}, 0, err
	}
	name, ok := v.(Obname)
	if !ok {
		return Obname{}, 0, fmt.Errorf("dlis: FDATA frame reference is not an obname")
	}
	fv, err := decode(RepUVARI, c)
	if err != nil {
		return Obname{}, 0, err
	}
	frameno, _ := fv.(uint32)
	return name, frameno, nil
}
