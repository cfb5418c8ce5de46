// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Object is a typed, named record in a logical file's object pool: the
// (type, object name, attribute set) triple RP66 V1 §3 defines for every
// object in an Explicitly Formatted Logical Record. Typed front-ends
// project named attributes out of Attic; anything not projected is still
// reachable there.
type Object struct {
	Type   string
	Name   Obname
	Attic  map[string]AttrDesc
	Order  []string
	pool   *Pool
}

func (o *Object) Fingerprint() Fingerprint { return makeFingerprint(o.Type, o.Name) }

// problematic records a dedup conflict: a fingerprint seen more than
// once in a logical file with divergent attics. The original is kept for
// reference; the pool itself keeps only the duplicate (last seen), which
// is the conservative reading of RP66 V1's silence on what a reader
// should do when an object name recurs with different attribute values.
type Problematic struct {
	Original  *Object
	Duplicate *Object
}

// Pool is the query-able, type-partitioned object graph for one logical
// file, built once at load and immutable thereafter (RP66 V1 §3's object
// set semantics).
type Pool struct {
	byFingerprint map[Fingerprint]*Object
	byType        map[string]map[Fingerprint]*Object
	order         []Fingerprint
	Problematic   []Problematic
	sink          *faultSink
}

func newPool(sink *faultSink) *Pool {
	return &Pool{
		byFingerprint: make(map[Fingerprint]*Object),
		byType:        make(map[string]map[Fingerprint]*Object),
		sink:          sink,
	}
}

// add inserts a freshly parsed object, applying the dedup rule: an
// identical re-occurrence (same attic: every attribute's label, count,
// repcode, units, absence and decoded values) is folded silently; a
// divergent one replaces
// the earlier entry and is recorded as problematic.
func (p *Pool) add(typ string, name Obname, attic map[string]AttrDesc, order []string) *Object {
	obj := &Object{Type: typ, Name: name, Attic: attic, Order: order, pool: p}
	fp := obj.Fingerprint()

	if prior, ok := p.byFingerprint[fp]; ok {
		if aticsEqual(prior.Attic, obj.Attic) {
			return prior
		}
		p.Problematic = append(p.Problematic, Problematic{Original: prior, Duplicate: obj})
		if err := p.sink.raise(FaultDuplicateObject, SeverityWarning, "duplicate fingerprint %s with divergent attic, keeping latest", fp); err != nil {
			// Duplicate-object faults never abort a load at any sane
			// threshold below critical; if they do, the caller still gets
			// the latest value installed below.
			_ = err
		}
	} else {
		p.order = append(p.order, fp)
	}

	p.byFingerprint[fp] = obj
	if p.byType[typ] == nil {
		p.byType[typ] = make(map[Fingerprint]*Object)
	}
	p.byType[typ][fp] = obj
	return obj
}

func aticsEqual(a, b map[string]AttrDesc) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if av.Label != bv.Label || av.Count != bv.Count || av.Repcode != bv.Repcode || av.Units != bv.Units || av.Absent != bv.Absent {
			return false
		}
		if len(av.Value) != len(bv.Value) {
			return false
		}
		for i := range av.Value {
			if fmt.Sprint(av.Value[i]) != fmt.Sprint(bv.Value[i]) {
				return false
			}
		}
	}
	return true
}

// ErrAmbiguousObject is returned by Object when origin/copy are omitted
// and more than one object matches (type, identifier).
var ErrAmbiguousObject = fmt.Errorf("dlis: multiple objects match type and name, specify origin and copy")

// ErrObjectNotFound is returned by Object when no object matches.
var ErrObjectNotFound = fmt.Errorf("dlis: no object matches")

// Object performs the exact/ambiguous object-name lookup RP66 V1 §3's
// (origin, copy number, identifier) object name implies: with all four
// of (type, identifier, origin, copy) given, an O(1) fingerprint lookup;
// with origin and/or copy omitted (pass nil), a scan over the named type
// bucket that fails with ErrAmbiguousObject on more than one match.
func (p *Pool) Object(typ, identifier string, origin *uint32, copy *uint8) (*Object, error) {
	if origin != nil && copy != nil {
		fp := makeFingerprint(typ, Obname{Origin: *origin, Copy: *copy, Identifier: identifier})
		obj, ok := p.byFingerprint[fp]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, fp)
		}
		return obj, nil
	}

	var found *Object
	for _, obj := range p.byType[typ] {
		if obj.Name.Identifier != identifier {
			continue
		}
		if origin != nil && obj.Name.Origin != *origin {
			continue
		}
		if copy != nil && obj.Name.Copy != *copy {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: type=%s identifier=%s", ErrAmbiguousObject, typ, identifier)
		}
		found = obj
	}
	if found == nil {
		return nil, fmt.Errorf("%w: type=%s identifier=%s", ErrObjectNotFound, typ, identifier)
	}
	return found, nil
}

// Match performs a case-insensitive regex lookup over the object name
// mnemonic: the pattern matches against each candidate object's identifier, and
// typePattern restricts which type buckets are scanned. Results stream
// over the returned channel in type, then insertion, order; the caller
// must drain it (or range until closed) to avoid leaking the goroutine.
func (p *Pool) Match(pattern, typePattern string) (<-chan *Object, error) {
	pre, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("dlis: invalid match pattern: %w", err)
	}
	tre, err := regexp.Compile("(?i)" + typePattern)
	if err != nil {
		return nil, fmt.Errorf("dlis: invalid type pattern: %w", err)
	}

	out := make(chan *Object)
	go func() {
		defer close(out)
		types := make([]string, 0, len(p.byType))
		for typ := range p.byType {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			if !tre.MatchString(typ) {
				continue
			}
			bucket := p.byType[typ]
			for _, fp := range p.order {
				obj, ok := bucket[fp]
				if !ok || !pre.MatchString(obj.Name.Identifier) {
					continue
				}
				out <- obj
			}
		}
	}()
	return out, nil
}

// resolveObname resolves a raw Obname reference read from an attribute
// value against the declared target type, returning the pool object or
// a warning-severity dangling-reference fault: below the escape threshold
// it is logged and recorded and (nil, nil) is returned; at or above it the
// fault is returned as the error.
func (p *Pool) resolveObname(targetType string, name Obname) (*Object, error) {
	fp := makeFingerprint(targetType, name)
	obj, ok := p.byFingerprint[fp]
	if !ok {
		if err := p.sink.raise(FaultDanglingReference, SeverityWarning, "reference to %s not found in logical file", fp); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return obj, nil
}

func (p *Pool) resolveObjref(ref Objref) (*Object, error) {
	return p.resolveObname(ref.Type, ref.Name)
}

func (p *Pool) resolveAttref(ref Attref) (*Object, error) {
	return p.resolveObname(ref.Type, ref.Name)
}

// normalizeTypeTag upper-cases and trims a raw type tag as decoded from
// an IDENT, matching RP66's convention of upper-case type names (e.g.
// "CHANNEL", "FILE-HEADER").
func normalizeTypeTag(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
