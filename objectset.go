// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import "fmt"

// Component descriptor bits. RP66 V1's EFLR component descriptors are
// self-delimiting, but this constant set is a self-consistent internal
// convention used uniformly by this parser and by the
// test fixtures that exercise it.
//
// Set descriptor (one per record, first byte of the payload):
const (
	setDescRedundant   byte = 0x20
	setDescReplacement byte = 0x10
	setDescHasName     byte = 0x40
)

// Attribute / object component descriptor, shared shape for template
// slots and per-object overrides. The high bit distinguishes an object
// boundary marker (name follows) from an attribute descriptor.
const (
	compDescIsObject byte = 0x80
	attrDescHasLabel byte = 0x40
	attrDescHasCount byte = 0x20
	attrDescHasRep   byte = 0x10
	attrDescHasUnits byte = 0x08
	attrDescHasValue byte = 0x04
	attrDescAbsent   byte = 0x02
)

// SetKind classifies how an object set's contents interact with
// previously parsed sets of the same type (RP66 V1 §4.4's set-type
// redundant/replacement flags).
type SetKind int

const (
	SetNormal SetKind = iota
	SetReplacement
	SetRedundant
)

func (k SetKind) String() string {
	switch k {
	case SetReplacement:
		return "replacement"
	case SetRedundant:
		return "redundant"
	default:
		return "normal"
	}
}

// AttrDesc is one (label, count, repcode, units, value) slot, either a
// template definition or a fully resolved per-object attribute (template
// fields inherited where the object's own descriptor omitted them).
type AttrDesc struct {
	Label   string
	Count   uint32
	Repcode Repcode
	Units   string
	Value   []any
	Absent  bool
}

// RawObject is one object's resolved attributes, keyed by label, in
// template order: the raw name->value "attic" a typed front-end
// projects named fields out of.
type RawObject struct {
	Name  Obname
	Order []string
	Attic map[string]AttrDesc
}

// ObjectSet is one decoded EFLR payload: its declared type, optional
// name, attribute template, and the objects defined against it.
type ObjectSet struct {
	Type     string
	Name     string
	Kind     SetKind
	Template []AttrDesc
	Objects  []*RawObject
}

// parseObjectSet decodes one EFLR payload per RP66 V1 §4.4. Faults below
// the sink's threshold are logged and recovered from: a faulty template
// attribute ends the template, and a faulty object ends the parse, so the
// remainder of the record is dropped (no resynchronisation at a later
// object boundary is attempted); faults at or above threshold propagate as an
// error, in which case whatever objects had already been parsed are
// still returned alongside it.
func parseObjectSet(payload []byte, sink *faultSink) (*ObjectSet, error) {
	c := newCursor(payload)

	descB, err := c.take(1)
	if err != nil {
		return nil, sink.raise(FaultShortLogicalRecord, SeverityError, "EFLR payload too short for set descriptor")
	}
	desc := descB[0]

	set := &ObjectSet{}
	switch {
	case desc&setDescRedundant != 0:
		set.Kind = SetRedundant
	case desc&setDescReplacement != 0:
		set.Kind = SetReplacement
	default:
		set.Kind = SetNormal
	}

	typeVal, err := decode(RepIDENT, c)
	if err != nil {
		return nil, sink.raise(FaultShortLogicalRecord, SeverityError, "EFLR set type: %v", err)
	}
	set.Type, _ = typeVal.(string)

	if desc&setDescHasName != 0 {
		nameVal, err := decode(RepIDENT, c)
		if err != nil {
			return nil, sink.raise(FaultShortLogicalRecord, SeverityError, "EFLR set name: %v", err)
		}
		set.Name, _ = nameVal.(string)
	}

	if set.Kind != SetNormal {
		sev := SeverityWarning
		if set.Kind == SetRedundant {
			sev = SeverityInfo
		}
		// Open question: a more complete implementation would merge
		// replacement sets into the pool. Left as a TODO: both replacement
		// and redundant sets are logged and their objects dropped rather
		// than merged, matching the source this was distilled from.
		if err := sink.raise(FaultUnsupportedSetKind, sev, "%s set %q.%q: objects not merged into pool", set.Kind, set.Type, set.Name); err != nil {
			return set, err
		}
		return set, nil
	}

	for {
		if c.remaining() == 0 {
			return set, fmt.Errorf("dlis: EFLR payload ended before any object was read")
		}
		b, err := c.take(1)
		if err != nil {
			return set, err
		}
		if b[0]&compDescIsObject != 0 {
			c.pos--
			break
		}
		attr, err := readAttrDesc(c, b[0], AttrDesc{})
		if err != nil {
			if rerr := sink.raise(FaultDecodeRange, SeverityError, "template attribute: %v", err); rerr != nil {
				return set, rerr
			}
			break
		}
		set.Template = append(set.Template, attr)
	}

	for c.remaining() > 0 {
		obj, err := parseObject(c, set.Template)
		if err != nil {
			if rerr := sink.raise(FaultShortLogicalRecord, SeverityWarning, "parse interrupted in set %q, remainder of record dropped: %v", set.Type, err); rerr != nil {
				return set, rerr
			}
			break
		}
		set.Objects = append(set.Objects, obj)
	}

	return set, nil
}

func parseObject(c *cursor, template []AttrDesc) (*RawObject, error) {
	b, err := c.take(1)
	if err != nil {
		return nil, err
	}
	if b[0]&compDescIsObject == 0 {
		return nil, fmt.Errorf("dlis: expected object descriptor, found attribute descriptor")
	}
	nameVal, err := decode(RepOBNAME, c)
	if err != nil {
		return nil, fmt.Errorf("dlis: object name: %w", err)
	}
	name, _ := nameVal.(Obname)

	obj := &RawObject{Name: name, Attic: make(map[string]AttrDesc, len(template))}
	for _, slot := range template {
		obj.Order = append(obj.Order, slot.Label)
		if c.remaining() == 0 {
			// Object with fewer attributes than template: trailing
			// template values are inherited verbatim (RP66 V1 §4.4).
			obj.Attic[slot.Label] = slot
			continue
		}
		descB, err := c.take(1)
		if err != nil {
			return nil, err
		}
		if descB[0]&compDescIsObject != 0 {
			// Ran out of overrides for this object before the template did;
			// put the descriptor back for the next object and inherit the
			// remaining slots.
			c.pos--
			obj.Attic[slot.Label] = slot
			continue
		}
		attr, err := readAttrDesc(c, descB[0], slot)
		if err != nil {
			return nil, err
		}
		obj.Attic[slot.Label] = attr
	}
	return obj, nil
}

// readAttrDesc decodes one attribute component, inheriting any field the
// descriptor byte marks as omitted from fallback (the template slot, or
// the zero value when reading the template itself).
func readAttrDesc(c *cursor, desc byte, fallback AttrDesc) (AttrDesc, error) {
	a := fallback
	a.Absent = desc&attrDescAbsent != 0

	if desc&attrDescHasLabel != 0 {
		v, err := decode(RepIDENT, c)
		if err != nil {
			return a, fmt.Errorf("label: %w", err)
		}
		a.Label, _ = v.(string)
	}
	if desc&attrDescHasCount != 0 {
		v, err := decode(RepUVARI, c)
		if err != nil {
			return a, fmt.Errorf("count: %w", err)
		}
		a.Count, _ = v.(uint32)
	} else if fallback.Repcode == 0 {
		// Reading a template slot (zero fallback): count defaults to 1.
		a.Count = 1
	}
	if desc&attrDescHasRep != 0 {
		v, err := c.take(1)
		if err != nil {
			return a, fmt.Errorf("repcode: %w", err)
		}
		a.Repcode = Repcode(v[0])
	} else if a.Repcode == 0 {
		a.Repcode = RepIDENT
	}
	if desc&attrDescHasUnits != 0 {
		v, err := decode(RepUNITS, c)
		if err != nil {
			return a, fmt.Errorf("units: %w", err)
		}
		a.Units, _ = v.(string)
	}

	if a.Absent {
		a.Value = nil
	} else if desc&attrDescHasValue != 0 {
		vals := make([]any, 0, a.Count)
		for i := uint32(0); i < a.Count; i++ {
			v, err := decode(a.Repcode, c)
			if err != nil {
				return a, fmt.Errorf("value[%d]: %w", i, err)
			}
			vals = append(vals, v)
		}
		a.Value = vals
	}
	return a, nil
}
