// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// LoaderOptions configures one call to Load. A nil *LoaderOptions is
// equivalent to &LoaderOptions{} (process-wide escape level, no extra
// registered types).
type LoaderOptions struct {
	// EscapeLevel overrides the process-wide default (EscapeLevel/
	// SetEscapeLevel) for this load only. Empty uses the process default.
	EscapeLevel string
	// ExtraTypes registers additional object-type tags beyond the built-in
	// table, for vendor-specific set types RP66 V1 doesn't name.
	ExtraTypes map[string]ObjectType
	// LogWriter receives structured log output for every fault, logged or
	// raised. A nil value defaults to os.Stderr.
	LogWriter io.Writer
	// Fast skips building the frame/FDATA index, for callers who only want
	// metadata objects and never call Curves.
	Fast bool
}

func (o *LoaderOptions) fast() bool { return o != nil && o.Fast }

func (o *LoaderOptions) severity() (Severity, error) {
	if o == nil || o.EscapeLevel == "" {
		return EscapeLevel(), nil
	}
	return ParseSeverity(o.EscapeLevel)
}

func (o *LoaderOptions) types() map[string]ObjectType {
	merged := make(map[string]ObjectType, len(defaultTypes))
	for k, v := range defaultTypes {
		merged[k] = v
	}
	if o != nil {
		for k, v := range o.ExtraTypes {
			merged[k] = v
		}
	}
	return merged
}

// PhysicalFile is the top-level handle returned by Load: the physical
// stream's byte source plus every logical file found within it, in
// order of appearance.
type PhysicalFile struct {
	Files []*LogicalFile
	src   ByteSource
	sul   string
}

// StorageLabel returns the raw 80-byte Storage Unit Label text, or "" if
// the file had none.
func (p *PhysicalFile) StorageLabel() string { return p.sul }

// Close releases the underlying byte source shared by every logical
// file. It is not idempotent: on a file-backed PhysicalFile a second call
// closes the file again and returns the resulting error.
func (p *PhysicalFile) Close() error {
	if p.src == nil {
		return nil
	}
	return p.src.Close()
}

// Describe writes a one-screen summary of every logical file in p to w,
// each nested one level deeper than indent.
func (p *PhysicalFile) Describe(w io.Writer, width int, indent string) {
	fmt.Fprintf(w, "%sphysical file: %d logical file(s)\n", indent, len(p.Files))
	for i, lf := range p.Files {
		fmt.Fprintf(w, "%s[%d]\n", indent, i)
		lf.Describe(w, width, indent+"  ")
	}
}

// LogicalFile is one self-contained set of metadata objects plus the raw
// frame data they describe (RP66 V1 §3's logical file: a sequence of
// Logical Records opened by a FILE-HEADER). It holds its own cursor over
// the physical stream, independent of its sibling logical files', so
// concurrent reads on two logical files of the same PhysicalFile don't
// race on a shared chunk buffer.
type LogicalFile struct {
	header *Object
	pool   *Pool
	fdata  *fdataIndex
	src    ByteSource
	sink   *faultSink
	types  map[string]ObjectType
}

// FileHeader returns the record that opened this logical file, or nil
// if the physical file began mid-segment (a malformed or truncated
// capture with no leading FILE-HEADER record).
func (lf *LogicalFile) FileHeader() *FileHeader {
	if lf.header == nil {
		return nil
	}
	v := FileHeader{lf.header}
	return &v
}

func typedSlice[T any](lf *LogicalFile, tag string, wrap func(*Object) T) []T {
	bucket := lf.pool.byType[tag]
	out := make([]T, 0, len(bucket))
	for _, fp := range lf.pool.order {
		if obj, ok := bucket[fp]; ok {
			out = append(out, wrap(obj))
		}
	}
	return out
}

func (lf *LogicalFile) Origins() []Origin     { return typedSlice(lf, "ORIGIN", func(o *Object) Origin { return Origin{o} }) }
func (lf *LogicalFile) Channels() []Channel   { return typedSlice(lf, "CHANNEL", func(o *Object) Channel { return Channel{o} }) }
func (lf *LogicalFile) Frames() []Frame       { return typedSlice(lf, "FRAME", func(o *Object) Frame { return Frame{o} }) }
func (lf *LogicalFile) Parameters() []Parameter {
	return typedSlice(lf, "PARAMETER", func(o *Object) Parameter { return Parameter{o} })
}
func (lf *LogicalFile) Tools() []Tool { return typedSlice(lf, "TOOL", func(o *Object) Tool { return Tool{o} }) }
func (lf *LogicalFile) Axes() []Axis  { return typedSlice(lf, "AXIS", func(o *Object) Axis { return Axis{o} }) }
func (lf *LogicalFile) Zones() []Zone {
	return typedSlice(lf, "ZONE", func(o *Object) Zone { return Zone{o} })
}
func (lf *LogicalFile) Equipments() []Equipment {
	return typedSlice(lf, "EQUIPMENT", func(o *Object) Equipment { return Equipment{o} })
}
func (lf *LogicalFile) Calibrations() []Calibration {
	return typedSlice(lf, "CALIBRATION", func(o *Object) Calibration { return Calibration{o} })
}
func (lf *LogicalFile) CalibrationCoefficients() []CalibrationCoefficient {
	return typedSlice(lf, "CALIBRATION-COEFFICIENT", func(o *Object) CalibrationCoefficient { return CalibrationCoefficient{o} })
}
func (lf *LogicalFile) CalibrationMeasurements() []CalibrationMeasurement {
	return typedSlice(lf, "CALIBRATION-MEASUREMENT", func(o *Object) CalibrationMeasurement { return CalibrationMeasurement{o} })
}
func (lf *LogicalFile) Computations() []Computation {
	return typedSlice(lf, "COMPUTATION", func(o *Object) Computation { return Computation{o} })
}
func (lf *LogicalFile) Splices() []Splice {
	return typedSlice(lf, "SPLICE", func(o *Object) Splice { return Splice{o} })
}
func (lf *LogicalFile) WellReferences() []WellReference {
	return typedSlice(lf, "WELL-REFERENCE", func(o *Object) WellReference { return WellReference{o} })
}
func (lf *LogicalFile) Groups() []Group {
	return typedSlice(lf, "GROUP", func(o *Object) Group { return Group{o} })
}
func (lf *LogicalFile) Processes() []Process {
	return typedSlice(lf, "PROCESS", func(o *Object) Process { return Process{o} })
}
func (lf *LogicalFile) Paths() []Path { return typedSlice(lf, "PATH", func(o *Object) Path { return Path{o} }) }
func (lf *LogicalFile) Messages() []Message {
	return typedSlice(lf, "MESSAGE", func(o *Object) Message { return Message{o} })
}
func (lf *LogicalFile) Comments() []Comment {
	return typedSlice(lf, "COMMENT", func(o *Object) Comment { return Comment{o} })
}
func (lf *LogicalFile) LongNames() []LongName {
	return typedSlice(lf, "LONG-NAME", func(o *Object) LongName { return LongName{o} })
}

// Unknowns returns every object whose type tag is not in the registered
// type table in effect for this load.
func (lf *LogicalFile) Unknowns() []Unknown {
	var out []Unknown
	for _, fp := range lf.pool.order {
		obj := lf.pool.byFingerprint[fp]
		if _, ok := lf.types[obj.Type]; !ok {
			out = append(out, Unknown{obj})
		}
	}
	return out
}

// Object performs a direct, typed-table lookup; origin and copy may be
// nil to match by (type, identifier) alone.
func (lf *LogicalFile) Object(typ, identifier string, origin *uint32, copy *uint8) (any, error) {
	obj, err := lf.pool.Object(typ, identifier, origin, copy)
	if err != nil {
		return nil, err
	}
	return typedView(obj, lf.types), nil
}

// Match streams every object whose type matches typePattern and whose
// identifier matches pattern.
func (lf *LogicalFile) Match(pattern, typePattern string) (<-chan any, error) {
	raw, err := lf.pool.Match(pattern, typePattern)
	if err != nil {
		return nil, err
	}
	out := make(chan any)
	go func() {
		defer close(out)
		for obj := range raw {
			out <- typedView(obj, lf.types)
		}
	}()
	return out, nil
}

// Problematic returns every (original, duplicate) fingerprint conflict
// recorded while parsing this logical file.
func (lf *LogicalFile) Problematic() []Problematic { return lf.pool.Problematic }

// Faults returns every fault logged (not raised) while parsing this
// logical file, in the order encountered.
func (lf *LogicalFile) Faults() []Fault { return lf.sink.faults }

// Summary is the object-count breakdown a describe view needs: one
// entry per registered type tag actually present, plus a total for
// everything that fell through to Unknown.
type Summary struct {
	Known        map[string]int
	UnknownCount int
}

// Summary counts every object in this logical file's pool by type tag,
// splitting out those with no registered front-end.
func (lf *LogicalFile) Summary() Summary {
	s := Summary{Known: make(map[string]int)}
	for _, fp := range lf.pool.order {
		obj := lf.pool.byFingerprint[fp]
		if _, ok := lf.types[obj.Type]; ok {
			s.Known[obj.Type]++
		} else {
			s.UnknownCount++
		}
	}
	return s
}

// Describe writes a one-screen summary of this logical file's object
// counts to w, each line indented by indent and its count column
// aligned to width. It does not recurse into individual objects.
func (lf *LogicalFile) Describe(w io.Writer, width int, indent string) {
	fmt.Fprintf(w, "%slogical file", indent)
	if lf.header != nil {
		fmt.Fprintf(w, " %q", FileHeader{lf.header}.ID())
	}
	fmt.Fprintln(w)

	s := lf.Summary()
	types := make([]string, 0, len(s.Known))
	for t := range s.Known {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "%s  %-*s %d\n", indent, width, t, s.Known[t])
	}
	if s.UnknownCount > 0 {
		fmt.Fprintf(w, "%s  %-*s %d\n", indent, width, "UNKNOWN", s.UnknownCount)
	}
}

// Curves decodes every FDATA record belonging to f (a frame previously
// obtained from this same logical file) into a Table, stored column by
// column (see Table).
func (lf *LogicalFile) Curves(f Frame) (*Table, error) {
	return f.Curves(lf.src, lf.fdata, lf.sink)
}

// Close releases this logical file's own cursor over the physical
// stream. It does not touch the underlying file or mmap, which the
// owning PhysicalFile's Close releases once for every sibling logical
// file; callers that are done with one logical file of a multi-file
// physical stream but still need its siblings can call this to drop the
// per-file cursor early.
func (lf *LogicalFile) Close() error {
	if lf.src == nil {
		return nil
	}
	return lf.src.Close()
}

// Load opens path, locates its logical files, and builds an index and
// object pool for each.
func Load(path string, opts *LoaderOptions) (*PhysicalFile, error) {
	raw, err := openRawSource(path)
	if err != nil {
		return nil, err
	}
	return load(raw, opts)
}

// LoadBytes builds a PhysicalFile from an in-memory buffer rather than
// a path, for callers (and tests) that already hold file contents.
func LoadBytes(data []byte, opts *LoaderOptions) (*PhysicalFile, error) {
	return load(newBytesSource(data), opts)
}

func load(raw ByteSource, opts *LoaderOptions) (*PhysicalFile, error) {
	sev, err := opts.severity()
	if err != nil {
		raw.Close()
		return nil, err
	}
	var w io.Writer
	if opts != nil {
		w = opts.LogWriter
	}
	// The logger passes every level: sev decides raise-vs-record in each
	// faultSink, and recorded (below-threshold) faults are logged too.
	logger := newHelper(SeverityDebug, w)
	sink := newFaultSink(sev, logger)

	var base ByteSource = raw
	if detectTIF(raw) {
		tif, err := newTIFSource(raw)
		if err != nil {
			raw.Close()
			return nil, err
		}
		base = tif
	}

	var sulText string
	searchStart := int64(0)
	if off, ok := findSUL(base); ok {
		if err := base.Seek(off); err == nil {
			if b, err := base.Read(storageUnitLabelSize); err == nil {
				sulText = string(b)
			}
		}
		searchStart = off + storageUnitLabelSize
	}

	vrOffset, err := findVR(base, searchStart)
	if err != nil {
		raw.Close()
		return nil, err
	}
	vrl, err := newVRLSource(base, vrOffset)
	if err != nil {
		raw.Close()
		return nil, err
	}

	explicits, implicits, asmErr := assembleRecords(vrl, sink)
	if asmErr != nil && len(explicits) == 0 && len(implicits) == 0 {
		raw.Close()
		return nil, asmErr
	}

	slices := partitionByFileHeader(explicits, implicits, sink)

	types := opts.types()
	pf := &PhysicalFile{src: raw, sul: sulText}
	for _, sl := range slices {
		// Each logical file gets its own fault sink (so Faults() never
		// aliases a sibling's) and its own cursor over the shared backing
		// bytes (so concurrent Curves/Object calls across logical files of
		// the same physical file don't race on one shared chunk buffer).
		fileSrc, err := cloneSource(vrl)
		if err != nil {
			return pf, err
		}
		fileSink := newFaultSink(sev, logger)

		lf := &LogicalFile{src: fileSrc, sink: fileSink, types: types, fdata: newFDATAIndex()}
		if !opts.fast() {
			if err := lf.fdata.build(fileSrc, sl.implicits, fileSink); err != nil {
				return pf, err
			}
		}
		lf.pool = newPool(fileSink)
		for _, er := range sl.explicits {
			payload, err := materializeRecord(fileSrc, er.Tell, er.Length)
			if err != nil {
				if rerr := fileSink.raise(FaultTruncated, SeverityError, "materializing explicit record at tell %d: %v", er.Tell, err); rerr != nil {
					return pf, rerr
				}
				continue
			}
			set, err := parseObjectSet(payload, fileSink)
			if err != nil {
				return pf, err
			}
			typeTag := normalizeTypeTag(set.Type)
			for _, ro := range set.Objects {
				obj := lf.pool.add(typeTag, ro.Name, ro.Attic, ro.Order)
				if typeTag == "FILE-HEADER" && lf.header == nil {
					lf.header = obj
				}
			}
		}
		pf.Files = append(pf.Files, lf)
	}
	return pf, nil
}

// logicalSlice is one logical file's share of the physical stream's
// explicit and implicit record descriptors.
type logicalSlice struct {
	explicits []explicitRecord
	implicits []implicitRecord
}

// partitionByFileHeader splits a physical stream into logical files per
// RP66 V1 §3's file-header convention: a logical file boundary is any
// explicit record of type FILE-HEADER; if the very first record isn't
// one, a logical file still opens at the start of the stream, with a
// warning.
func partitionByFileHeader(explicits []explicitRecord, implicits []implicitRecord, sink *faultSink) []logicalSlice {
	var boundaries []int64
	if len(explicits) == 0 || explicits[0].Type != 0 {
		sink.logger.Warnf("logical file might be segmented into multiple physical files and data can be missing")
		boundaries = append(boundaries, 0)
	}
	for _, e := range explicits {
		if e.Type == 0 {
			boundaries = append(boundaries, e.Tell)
		}
	}
	if len(boundaries) == 0 {
		boundaries = []int64{0}
	}

	slices := make([]logicalSlice, len(boundaries))
	ei, ii := 0, 0
	for bi, b := range boundaries {
		end := int64(math.MaxInt64)
		if bi+1 < len(boundaries) {
			end = boundaries[bi+1]
		}
		for ei < len(explicits) && explicits[ei].Tell < end {
			if explicits[ei].Tell >= b {
				slices[bi].explicits = append(slices[bi].explicits, explicits[ei])
			}
			ei++
		}
		for ii < len(implicits) && implicits[ii].Tell < end {
			if implicits[ii].Tell >= b {
				slices[bi].implicits = append(slices[bi].implicits, implicits[ii])
			}
			ii++
		}
	}
	return slices
}
