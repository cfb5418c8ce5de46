// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

// Scalar returns the first decoded value of attribute label, or nil if
// the attribute is absent, unset, or empty. It is the building block
// every typed accessor below is written against.
func (o *Object) Scalar(label string) any {
	a, ok := o.Attic[label]
	if !ok || a.Absent || len(a.Value) == 0 {
		return nil
	}
	return a.Value[0]
}

// Vector returns every decoded value of attribute label.
func (o *Object) Vector(label string) []any {
	a, ok := o.Attic[label]
	if !ok || a.Absent {
		return nil
	}
	return a.Value
}

func (o *Object) str(label string) string {
	v := o.Scalar(label)
	s, _ := v.(string)
	return s
}

func (o *Object) strVector(label string) []string {
	vals := o.Vector(label)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (o *Object) num(label string) (int, bool) {
	return toInt(o.Scalar(label))
}

func (o *Object) obnameVector(label string) []Obname {
	vals := o.Vector(label)
	out := make([]Obname, 0, len(vals))
	for _, v := range vals {
		if n, ok := v.(Obname); ok {
			out = append(out, n)
		}
	}
	return out
}

func (o *Object) dtime(label string) (DTime, bool) {
	v, ok := o.Scalar(label).(DTime)
	return v, ok
}

// resolveAny resolves one reference value regardless of whether it was
// decoded as a bare Obname (fallbackType supplies the missing type half of
// the fingerprint) or a self-typed Objref/Attref.
func (o *Object) resolveAny(v any, fallbackType string) *Object {
	var obj *Object
	var err error
	switch ref := v.(type) {
	case Obname:
		obj, err = o.pool.resolveObname(fallbackType, ref)
	case Objref:
		obj, err = o.pool.resolveObjref(ref)
	case Attref:
		obj, err = o.pool.resolveAttref(ref)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return obj
}

// resolveLinks resolves one label's reference-vector attribute into pool
// objects, logging and skipping anything dangling.
func (o *Object) resolveLinks(label, targetType string) []*Object {
	var out []*Object
	for _, v := range o.Vector(label) {
		if obj := o.resolveAny(v, targetType); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

func (o *Object) resolveLink(label, targetType string) *Object {
	return o.resolveAny(o.Scalar(label), targetType)
}

// FileHeader is the record opening a logical file (RP66 V1 §3's
// FILE-HEADER set type).
type FileHeader struct{ *Object }

func (f FileHeader) SequenceNumber() string { return f.str("SEQUENCE-NUMBER") }
func (f FileHeader) ID() string             { return f.str("ID") }

// Origin uniquely identifies the circumstances under which a logical
// file was created, grounded on dlisio's plumbing/origin.py.
type Origin struct{ *Object }

func (o Origin) FileID() string         { return o.str("FILE-ID") }
func (o Origin) FileSetName() string    { return o.str("FILE-SET-NAME") }
func (o Origin) Product() string        { return o.str("PRODUCT") }
func (o Origin) Version() string        { return o.str("VERSION") }
func (o Origin) Programs() []string     { return o.strVector("PROGRAMS") }
func (o Origin) CreationTime() (DTime, bool) { return o.dtime("CREATION-TIME") }
func (o Origin) WellID() string         { return o.str("WELL-ID") }
func (o Origin) WellName() string       { return o.str("WELL-NAME") }
func (o Origin) FieldName() string      { return o.str("FIELD-NAME") }
func (o Origin) Company() string        { return o.str("COMPANY") }

// Channel is one column of sample data: a repcode, a dimension vector,
// and units (RP66 V1 §3's CHANNEL set type).
type Channel struct{ *Object }

func (c Channel) LongName() *Object { return c.resolveLink("LONG-NAME", "LONG-NAME") }
func (c Channel) Units() string     { return c.str("UNITS") }
func (c Channel) Dimension() []any  { return c.Vector("DIMENSION") }
func (c Channel) RepresentationCode() Repcode {
	n, _ := c.num("REPRESENTATION-CODE")
	return Repcode(n)
}

// Frame is an ordered list of channels plus index metadata (RP66 V1 §3's
// FRAME set type).
type Frame struct{ *Object }

func (f Frame) Channels() []*Object  { return f.resolveLinks("CHANNELS", "CHANNEL") }
func (f Frame) IndexType() string    { return f.str("INDEX-TYPE") }
func (f Frame) Direction() string    { return f.str("DIRECTION") }
func (f Frame) Spacing() any         { return f.Scalar("SPACING") }

// Curves decodes every FDATA record on file for this frame into a Table,
// stored column by column (RP66 V1 §4's Frame Data semantics).
func (f Frame) Curves(src ByteSource, idx *fdataIndex, sink *faultSink) (*Table, error) {
	return idx.curves(src, f.Fingerprint(), f.Channels(), sink)
}

// Parameter is a static, possibly zoned or dimensioned, named value.
type Parameter struct{ *Object }

func (p Parameter) LongName() *Object { return p.resolveLink("LONG-NAME", "LONG-NAME") }
func (p Parameter) Values() []any     { return p.Vector("VALUES") }
func (p Parameter) Zones() []*Object  { return p.resolveLinks("ZONES", "ZONE") }

// Tool is a named piece of acquisition equipment composed of Equipment
// objects and described by Parameters.
type Tool struct{ *Object }

func (t Tool) Description() string     { return t.str("DESCRIPTION") }
func (t Tool) Equipments() []*Object   { return t.resolveLinks("PARTS", "EQUIPMENT") }
func (t Tool) Channels() []*Object     { return t.resolveLinks("CHANNELS", "CHANNEL") }
func (t Tool) Parameters() []*Object   { return t.resolveLinks("PARAMETERS", "PARAMETER") }

// Axis describes one coordinate axis of a multi-dimensional channel.
type Axis struct{ *Object }

func (a Axis) SpacingUnits() string { return a.str("SPACING") }
func (a Axis) Coordinates() []any   { return a.Vector("COORDINATES") }

// Zone is a named interval along depth or time.
type Zone struct{ *Object }

func (z Zone) Description() string { return z.str("DESCRIPTION") }
func (z Zone) Domain() string      { return z.str("DOMAIN") }
func (z Zone) Maximum() any        { return z.Scalar("MAXIMUM") }
func (z Zone) Minimum() any        { return z.Scalar("MINIMUM") }

// Equipment describes one piece of hardware used during acquisition.
type Equipment struct{ *Object }

func (e Equipment) Trademark() string { return e.str("TRADEMARK-NAME") }
func (e Equipment) SerialNumber() string { return e.str("SERIAL-NUMBER") }
func (e Equipment) Status() (int, bool)  { return e.num("STATUS") }

// Calibration ties measurements to coefficients for a set of channels.
type Calibration struct{ *Object }

func (c Calibration) Measurements() []*Object { return c.resolveLinks("MEASUREMENTS", "CALIBRATION-MEASUREMENT") }
func (c Calibration) Coefficients() []*Object { return c.resolveLinks("COEFFICIENTS", "CALIBRATION-COEFFICIENT") }
func (c Calibration) Channels() []*Object     { return c.resolveLinks("CALIBRATED-CHANNELS", "CHANNEL") }

// CalibrationCoefficient is one (label, value, tolerance) slot referenced
// from a Calibration.
type CalibrationCoefficient struct{ *Object }

func (c CalibrationCoefficient) Label() string        { return c.str("LABEL") }
func (c CalibrationCoefficient) Coefficients() []any   { return c.Vector("COEFFICIENTS") }
func (c CalibrationCoefficient) References() []any     { return c.Vector("REFERENCES") }

// CalibrationMeasurement is one raw/plus/minus reading used to derive a
// Calibration.
type CalibrationMeasurement struct{ *Object }

func (c CalibrationMeasurement) PhaseType() string { return c.str("PHASE") }
func (c CalibrationMeasurement) Source() *Object    { return c.resolveLink("SOURCE", "PARAMETER") }
func (c CalibrationMeasurement) Samples() []any     { return c.Vector("SAMPLES") }

// Computation is a derived value with optional zoning.
type Computation struct{ *Object }

func (c Computation) LongName() *Object { return c.resolveLink("LONG-NAME", "LONG-NAME") }
func (c Computation) Values() []any     { return c.Vector("VALUES") }
func (c Computation) Zones() []*Object  { return c.resolveLinks("ZONES", "ZONE") }

// Splice stitches together two or more Channels over complementary
// Zones.
type Splice struct{ *Object }

func (s Splice) OutputChannel() *Object { return s.resolveLink("OUTPUT-CHANNEL", "CHANNEL") }
func (s Splice) InputChannels() []*Object { return s.resolveLinks("INPUT-CHANNELS", "CHANNEL") }
func (s Splice) Zones() []*Object       { return s.resolveLinks("ZONES", "ZONE") }

// WellReference anchors coordinates to a physical location.
type WellReference struct{ *Object }

func (w WellReference) Permanent() string { return w.str("PERMANENT-DATUM") }
func (w WellReference) Coordinate1() any   { return w.Scalar("COORDINATE-1-VALUE") }
func (w WellReference) Coordinate2() any   { return w.Scalar("COORDINATE-2-VALUE") }

// Group is a named collection of objects of the same type.
type Group struct{ *Object }

func (g Group) ObjectType() string { return g.str("OBJECT-TYPE") }
func (g Group) Objects() []Obname  { return g.obnameVector("OBJECT-LIST") }
func (g Group) Groups() []*Object  { return g.resolveLinks("GROUP-LIST", "GROUP") }

// Process describes an algorithm applied to input objects to produce
// output objects.
type Process struct{ *Object }

func (p Process) Description() string { return p.str("DESCRIPTION") }
func (p Process) Status() string      { return p.str("STATUS") }
func (p Process) InputChannels() []*Object  { return p.resolveLinks("INPUT-CHANNELS", "CHANNEL") }
func (p Process) OutputChannels() []*Object { return p.resolveLinks("OUTPUT-CHANNELS", "CHANNEL") }

// Path describes the relation between a Frame's index and its Channels.
type Path struct{ *Object }

func (p Path) Frame() *Object       { return p.resolveLink("FRAME-TYPE", "FRAME") }
func (p Path) WellReference() *Object { return p.resolveLink("WELL-REFERENCE-POINT", "WELL-REFERENCE") }
func (p Path) Channels() []*Object  { return p.resolveLinks("VALUE", "CHANNEL") }

// Message is a free-text, timestamped operator note.
type Message struct{ *Object }

func (m Message) Text() []string         { return m.strVector("TEXT") }
func (m Message) MessageType() string    { return m.str("_TYPE") }
func (m Message) Time() (DTime, bool)     { return m.dtime("TIME") }

// Comment is an untimed free-text annotation.
type Comment struct{ *Object }

func (c Comment) Text() []string { return c.strVector("TEXT") }

// LongName is a structured, multi-part human-readable name referenced
// from Channel/Parameter/Computation objects.
type LongName struct{ *Object }

func (l LongName) Description() string { return l.str("GENERAL-MODIFIER") }
func (l LongName) Quantity() string    { return l.str("QUANTITY") }

// Unknown is the catch-all for any object type not in the registered
// type table: a vendor-specific or newer set type this package has no
// named front-end for.
type Unknown struct{ *Object }

// ObjectType names one entry in the registered type table. The zero
// value (empty Tag) is invalid.
type ObjectType struct {
	Tag string
	New func(o *Object) any
}

// defaultTypes is the built-in registered type table, the Go shape of
// dlisio's `dlis.types` class attribute. Callers can extend or override
// it per Loader via LoaderOptions.ExtraTypes rather than editing this map.
var defaultTypes = map[string]ObjectType{
	"FILE-HEADER":              {"FILE-HEADER", func(o *Object) any { return FileHeader{o} }},
	"ORIGIN":                   {"ORIGIN", func(o *Object) any { return Origin{o} }},
	"CHANNEL":                  {"CHANNEL", func(o *Object) any { return Channel{o} }},
	"FRAME":                    {"FRAME", func(o *Object) any { return Frame{o} }},
	"PARAMETER":                {"PARAMETER", func(o *Object) any { return Parameter{o} }},
	"TOOL":                     {"TOOL", func(o *Object) any { return Tool{o} }},
	"AXIS":                     {"AXIS", func(o *Object) any { return Axis{o} }},
	"ZONE":                     {"ZONE", func(o *Object) any { return Zone{o} }},
	"EQUIPMENT":                {"EQUIPMENT", func(o *Object) any { return Equipment{o} }},
	"CALIBRATION":              {"CALIBRATION", func(o *Object) any { return Calibration{o} }},
	"CALIBRATION-COEFFICIENT":  {"CALIBRATION-COEFFICIENT", func(o *Object) any { return CalibrationCoefficient{o} }},
	"CALIBRATION-MEASUREMENT":  {"CALIBRATION-MEASUREMENT", func(o *Object) any { return CalibrationMeasurement{o} }},
	"COMPUTATION":              {"COMPUTATION", func(o *Object) any { return Computation{o} }},
	"SPLICE":                   {"SPLICE", func(o *Object) any { return Splice{o} }},
	"WELL-REFERENCE":           {"WELL-REFERENCE", func(o *Object) any { return WellReference{o} }},
	"GROUP":                    {"GROUP", func(o *Object) any { return Group{o} }},
	"PROCESS":                  {"PROCESS", func(o *Object) any { return Process{o} }},
	"PATH":                     {"PATH", func(o *Object) any { return Path{o} }},
	"MESSAGE":                  {"MESSAGE", func(o *Object) any { return Message{o} }},
	"COMMENT":                  {"COMMENT", func(o *Object) any { return Comment{o} }},
	"LONG-NAME":                {"LONG-NAME", func(o *Object) any { return LongName{o} }},
}

// typedView returns the typed front-end for obj, given the registered
// type table in effect (defaults merged with any caller-supplied
// ExtraTypes), falling back to Unknown.
func typedView(obj *Object, types map[string]ObjectType) any {
	if t, ok := types[obj.Type]; ok {
		return t.New(obj)
	}
	return Unknown{obj}
}
