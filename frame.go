// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import "fmt"

// fdataEntry is one implicit record's tell plus the frame number it was
// peeked to carry, recorded in the order the record assembler yielded it
// (RP66 V1 §4, "Indirectly Formatted Logical Records").
type fdataEntry struct {
	FrameNumber uint32
	Tell        int64
	Length      int
}

// fdataIndex is the multi-map RP66 V1 §4 implies: every FDATA record's tell,
// keyed by the fingerprint of the frame object it belongs to.
type fdataIndex struct {
	byFrame map[Fingerprint][]fdataEntry
}

func newFDATAIndex() *fdataIndex {
	return &fdataIndex{byFrame: make(map[Fingerprint][]fdataEntry)}
}

// build peeks every implicit record's obname+frameno prefix and files it
// under its frame's fingerprint, without materializing the row payload.
func (idx *fdataIndex) build(src ByteSource, implicits []implicitRecord, sink *faultSink) error {
	for _, rec := range implicits {
		name, frameno, err := peekImplicitHeader(src, rec.Tell)
		if err != nil {
			if rerr := sink.raise(FaultTruncated, SeverityError, "FDATA prefix at tell %d: %v", rec.Tell, err); rerr != nil {
				return rerr
			}
			continue
		}
		fp := makeFingerprint("FRAME", name)
		idx.byFrame[fp] = append(idx.byFrame[fp], fdataEntry{FrameNumber: frameno, Tell: rec.Tell, Length: rec.Length})
	}
	return nil
}

// rowSchema is one channel's decoded shape: its repcode and the number
// of flattened scalar elements its declared dimension implies.
type rowSchema struct {
	Channel    *Object
	Repcode    Repcode
	Elements   int
	IsVariable bool
}

// Table is the result of Frame.Curves, stored column by column: Data[i]
// is channel Columns[i], holding Rows entries (scalars, or []any for
// variable-width / multi-element channels). Rows are not stored as
// contiguous row-major records.
type Table struct {
	Columns []string
	Rows    int
	Data    [][]any
}

// buildRowSchema resolves a frame's channel list (as resolved from the
// frame's CHANNELS attribute by Frame.Channels) into per-column decode
// shapes.
func buildRowSchema(channels []*Object) ([]rowSchema, error) {
	schema := make([]rowSchema, 0, len(channels))
	for _, ch := range channels {
		repAttr, ok := ch.Attic["REPRESENTATION-CODE"]
		if !ok || len(repAttr.Value) == 0 {
			return nil, fmt.Errorf("dlis: channel %s has no representation code", ch.Name.Identifier)
		}
		repRaw := repAttr.Value[0]
		var rep Repcode
		switch v := repRaw.(type) {
		case uint32:
			rep = Repcode(v)
		case uint8:
			rep = Repcode(v)
		default:
			return nil, fmt.Errorf("dlis: channel %s representation code has unexpected type %T", ch.Name.Identifier, repRaw)
		}
		if _, ok := decoders[rep]; !ok {
			return nil, fmt.Errorf("%w: channel %s repcode %d", ErrUnknownRepcode, ch.Name.Identifier, rep)
		}

		elements := 1
		if dimAttr, ok := ch.Attic["DIMENSION"]; ok {
			elements = 1
			for _, d := range dimAttr.Value {
				n, _ := toInt(d)
				if n > 0 {
					elements *= n
				}
			}
		}
		schema = append(schema, rowSchema{
			Channel:    ch,
			Repcode:    rep,
			Elements:   elements,
			IsVariable: isVariableWidth(rep),
		})
	}
	return schema, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case uint32:
		return int(x), true
	case uint16:
		return int(x), true
	case uint8:
		return int(x), true
	case int:
		return x, true
	}
	return 0, false
}

// curves decodes every FDATA record belonging to frame fp into a Table,
// applying RP66 V1 §4's frame-data decoding algorithm and frame-number
// policy.
func (idx *fdataIndex) curves(src ByteSource, fp Fingerprint, channels []*Object, sink *faultSink) (*Table, error) {
	schema, err := buildRowSchema(channels)
	if err != nil {
		return nil, err
	}

	entries := idx.byFrame[fp]
	table := &Table{Rows: 0}
	for _, s := range schema {
		table.Columns = append(table.Columns, s.Channel.Name.Identifier)
	}
	table.Data = make([][]any, len(schema))

	expected := uint32(1)
	seen := make(map[uint32]int)
	for _, e := range entries {
		if n, ok := seen[e.FrameNumber]; ok && n > 0 {
			sink.raise(FaultDuplicatedFrames, SeverityWarning, "Duplicated frames: frame number %d", e.FrameNumber)
		}
		seen[e.FrameNumber]++
		if e.FrameNumber > expected {
			sink.raise(FaultMissingFrames, SeverityWarning, "Missing frames: between %d and %d", expected, e.FrameNumber)
		} else if e.FrameNumber < expected && e.FrameNumber != 0 {
			sink.raise(FaultNonSequentialFrames, SeverityWarning, "Non-sequential frames: frame number %d after expecting >= %d", e.FrameNumber, expected)
		}
		if e.FrameNumber >= expected {
			expected = e.FrameNumber + 1
		}

		row, err := decodeRow(src, e, schema)
		if err != nil {
			if rerr := sink.raise(FaultFrameFmtOverrun, SeverityError, "fmtstr would read past end decoding frame %d: %v", e.FrameNumber, err); rerr != nil {
				return table, rerr
			}
			// Truncate: keep rows successfully decoded before this fault.
			break
		}
		for i, v := range row {
			table.Data[i] = append(table.Data[i], v)
		}
		table.Rows++
	}
	return table, nil
}

// decodeRow materializes one FDATA record's obname+frameno prefix
// (discarded) followed by one flattened value per schema column.
func decodeRow(src ByteSource, e fdataEntry, schema []rowSchema) ([]any, error) {
	if err := src.Seek(e.Tell); err != nil {
		return nil, err
	}
	hdr, err := readLRSHeader(src)
	if err != nil {
		return nil, err
	}
	body, err := src.Read(int(hdr.length) - lrsHeaderSize)
	if err != nil {
		return nil, err
	}
	c := newCursor(body)
	if _, err := decode(RepOBNAME, c); err != nil {
		return nil, fmt.Errorf("frame reference: %w", err)
	}
	if _, err := decode(RepUVARI, c); err != nil {
		return nil, fmt.Errorf("frame number: %w", err)
	}

	row := make([]any, len(schema))
	for i, s := range schema {
		if s.Elements == 1 && !s.IsVariable {
			v, err := decode(s.Repcode, c)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", s.Channel.Name.Identifier, err)
			}
			row[i] = v
			continue
		}
		vals := make([]any, s.Elements)
		for j := 0; j < s.Elements; j++ {
			v, err := decode(s.Repcode, c)
			if err != nil {
				return nil, fmt.Errorf("column %s[%d]: %w", s.Channel.Name.Identifier, j, err)
			}
			vals[j] = v
		}
		row[i] = vals
	}
	return row, nil
}
