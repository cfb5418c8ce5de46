// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ErrInvalidFormatVersion is raised when a Visible Record header's format
// version marker doesn't match the RP66 V1 §2.2.2.1 constant 0xFF01.
var ErrInvalidFormatVersion = errors.New("invalid format version")

// ByteSource abstracts a read-and-seek over a physical stream, with
// optional TIF-unwrap and RP66-VRL-unwrap adapters stacked on top, per
// RP66 V1 §2.2's physical format layering.
type ByteSource interface {
	// Seek moves the cursor to an absolute logical position.
	Seek(abs int64) error
	// Read consumes exactly n bytes from the current cursor and advances
	// it. It returns fewer bytes than requested (with io_ErrUnexpectedEOF)
	// only at the physical end of the stream.
	Read(n int) ([]byte, error)
	// Tell reports the current absolute logical position.
	Tell() int64
	// EOF reports whether the cursor is at the physical end of stream.
	EOF() bool
	// Close releases the resources backing the source.
	Close() error
}

// rawSource is a memory-mapped, positioned read over the physical file. It
// is the bottom of the byte-source stack (RP66 V1 §2.2's physical format:
// a flat stream of Visible Records).
type rawSource struct {
	f      *os.File
	data   mmap.MMap
	pos    int64
	isView bool // true for a clone() result: shares data, owns no lifetime
}

func openRawSource(path string) (*rawSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rawSource{f: f, data: data}, nil
}

// newBytesSource wraps an in-memory buffer as a ByteSource, bypassing the
// mmap layer. Used by tests and by callers that already hold the file
// contents in memory.
func newBytesSource(data []byte) *rawSource {
	return &rawSource{data: mmap.MMap(append([]byte(nil), data...))}
}

// clone returns a fresh cursor over the same backing bytes, positioned at
// 0. The mmap (or in-memory buffer) is read-only and safe to share; only
// the position is per-cursor state, so two clones can be read from by
// different goroutines without interfering with each other. The clone's
// Close is a no-op: only the original owns the file/mmap lifetime.
func (r *rawSource) clone() *rawSource {
	return &rawSource{data: r.data, isView: true}
}

func (r *rawSource) Seek(abs int64) error {
	if abs < 0 {
		return errors.New("dlis: negative seek offset")
	}
	r.pos = abs
	return nil
}

func (r *rawSource) Read(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("dlis: negative read length")
	}
	end := r.pos + int64(n)
	total := int64(len(r.data))
	if r.pos >= total {
		return nil, io_ErrUnexpectedEOF
	}
	if end > total {
		out := append([]byte(nil), r.data[r.pos:total]...)
		r.pos = total
		return out, io_ErrUnexpectedEOF
	}
	out := append([]byte(nil), r.data[r.pos:end]...)
	r.pos = end
	return out, nil
}

func (r *rawSource) Tell() int64 { return r.pos }

func (r *rawSource) EOF() bool { return r.pos >= int64(len(r.data)) }

func (r *rawSource) Close() error {
	if r.isView {
		// A clone() shares another rawSource's backing bytes; the owner
		// unmaps/closes once and every clone just drops its reference.
		return nil
	}
	if r.f == nil {
		// In-memory source (newBytesSource): data was never mmap'd, so
		// there is nothing to unmap.
		return nil
	}
	_ = r.data.Unmap()
	return r.f.Close()
}

// io_ErrUnexpectedEOF avoids importing "io" solely for this sentinel;
// kept distinct from io.EOF because a short read here
// always means truncation mid-structure, never a clean end-of-stream.
var io_ErrUnexpectedEOF = errors.New("dlis: unexpected EOF")

// tapeMarkSize is the size in bytes of a single TIF tape mark.
const tapeMarkSize = 12

// tapeMark is a 12-byte legacy tape-image framing record: a type code and
// the byte offsets (in the framed stream) of the previous and next marks.
type tapeMark struct {
	Type uint32
	Prev uint32
	Next uint32
}

func readTapeMark(src ByteSource, at int64) (tapeMark, error) {
	if err := src.Seek(at); err != nil {
		return tapeMark{}, err
	}
	b, err := src.Read(tapeMarkSize)
	if err != nil {
		return tapeMark{}, err
	}
	return tapeMark{
		Type: leUint32(b[0:4]),
		Prev: leUint32(b[4:8]),
		Next: leUint32(b[8:12]),
	}, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// detectTIF guards against false-positiving on DLIS content that happens
// to look like one valid tape mark: the first mark must look plausible
// (type 0 or 1, next > prev) and the second mark (found at offset `next`
// from the first) must chain consistently back to it, before the adapter
// commits to stripping tape marks. TIF (tape image format) wrapping isn't
// part of RP66 V1 itself; it's a 9-track-tape archival convention some
// DLIS files still carry from their original transcription.
func detectTIF(src ByteSource) bool {
	m1, err := readTapeMark(src, 0)
	if err != nil {
		return false
	}
	if m1.Type > 1 || m1.Next <= m1.Prev {
		return false
	}
	m2, err := readTapeMark(src, int64(m1.Next))
	if err != nil {
		return false
	}
	if m2.Type > 1 {
		return false
	}
	// the second mark's "prev" must point back at the first mark's offset.
	return m2.Prev == 0
}

// tifSource strips 12-byte tape marks transparently from an underlying
// ByteSource, presenting the unwrapped logical stream. Tape marks precede
// every physical chunk of the wrapped stream; Tell reports the logical
// (unwrapped) position.
type tifSource struct {
	under   ByteSource
	logical int64 // logical position already delivered to the caller
	phys    int64 // physical position of the current chunk's first data byte
	chunk   []byte
	chunkAt int64 // logical offset of chunk[0]
}

func newTIFSource(under ByteSource) (*tifSource, error) {
	t := &tifSource{under: under}
	if err := t.loadChunkAt(0, 0); err != nil {
		return nil, err
	}
	return t, nil
}

// loadChunkAt reads the tape mark at physical offset physOff and buffers
// the chunk's data (next-physOff-12 bytes of payload) so Read can serve from
// it; logicalOff records where this chunk begins in the unwrapped stream.
func (t *tifSource) loadChunkAt(physOff, logicalOff int64) error {
	m, err := readTapeMark(t.under, physOff)
	if err != nil {
		return err
	}
	dataLen := int64(m.Next) - physOff - tapeMarkSize
	if dataLen < 0 {
		return errors.New("dlis: inconsistent tape mark chain")
	}
	if err := t.under.Seek(physOff + tapeMarkSize); err != nil {
		return err
	}
	data, err := t.under.Read(int(dataLen))
	if err != nil && err != io_ErrUnexpectedEOF {
		return err
	}
	t.chunk = data
	t.chunkAt = logicalOff
	t.phys = physOff
	t.logical = logicalOff
	return nil
}

func (t *tifSource) Seek(abs int64) error {
	// Re-derive which chunk contains abs by walking from the start; TIF
	// files are rare and small enough in this model that a linear rewalk
	// is acceptable and, crucially, simple to get right.
	physOff := int64(0)
	logicalOff := int64(0)
	for {
		if err := t.loadChunkAt(physOff, logicalOff); err != nil {
			return err
		}
		if abs < t.chunkAt+int64(len(t.chunk)) || t.under.EOF() {
			t.logical = abs
			return nil
		}
		m, err := readTapeMark(t.under, physOff)
		if err != nil {
			return err
		}
		logicalOff += int64(len(t.chunk))
		physOff = int64(m.Next)
	}
}

func (t *tifSource) Read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		offsetInChunk := t.logical - t.chunkAt
		if offsetInChunk < 0 || offsetInChunk > int64(len(t.chunk)) {
			if err := t.Seek(t.logical); err != nil {
				return out, err
			}
			offsetInChunk = t.logical - t.chunkAt
		}
		avail := t.chunk[offsetInChunk:]
		if len(avail) == 0 {
			if t.under.EOF() {
				return out, io_ErrUnexpectedEOF
			}
			m, err := readTapeMark(t.under, t.phys)
			if err != nil {
				return out, err
			}
			if err := t.loadChunkAt(int64(m.Next), t.chunkAt+int64(len(t.chunk))); err != nil {
				return out, err
			}
			continue
		}
		take := n - len(out)
		if take > len(avail) {
			take = len(avail)
		}
		out = append(out, avail[:take]...)
		t.logical += int64(take)
	}
	return out, nil
}

func (t *tifSource) Tell() int64 { return t.logical }

func (t *tifSource) EOF() bool {
	return t.under.EOF() && t.logical >= t.chunkAt+int64(len(t.chunk))
}

func (t *tifSource) Close() error { return t.under.Close() }

// clone returns a fresh tifSource with its own chunk buffer and cursor,
// built over an independent clone of the underlying source.
func (t *tifSource) clone() (*tifSource, error) {
	under, err := cloneSource(t.under)
	if err != nil {
		return nil, err
	}
	return newTIFSource(under)
}

// storageUnitLabelSize is the fixed size of the RP66 Storage Unit Label.
const storageUnitLabelSize = 80

// sulSearchWindow bounds how far findVR will slide looking for the
// first Visible Record; a well-formed file finds it within a few hundred
// bytes.
const sulSearchWindow = 4096

// findSUL locates the Storage Unit Label, which per RP66 V1 §2.1 sits
// immediately before the first Visible Record when present. Returns
// ok=false when the file has no SUL (treated as offset 0).
func findSUL(src ByteSource) (offset int64, ok bool) {
	if err := src.Seek(0); err != nil {
		return 0, false
	}
	b, err := src.Read(storageUnitLabelSize)
	if err != nil || len(b) < storageUnitLabelSize {
		return 0, false
	}
	if !looksLikeSUL(b) {
		return 0, false
	}
	return 0, true
}

func looksLikeSUL(b []byte) bool {
	// Sequence number (4 bytes) must be ASCII digits; DLIS version field at
	// offset 4 is "V1.00"; both are cheap, reliable discriminators.
	for _, c := range b[0:4] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return string(b[4:9]) == "V1.00" || string(b[4:9]) == "V1.0 "
}

// findVR slides forward from start looking for a Visible Record header
// (RP66 V1 §2.2.2.1): 4 bytes, a plausible length in the first two and
// the format version marker 0xFF01 in the last two.
func findVR(src ByteSource, start int64) (int64, error) {
	for off := start; off < start+sulSearchWindow; off++ {
		if err := src.Seek(off); err != nil {
			return 0, err
		}
		b, err := src.Read(4)
		if err != nil {
			return 0, ErrNoVisibleRecord
		}
		length := be16(b[0:2])
		marker := be16(b[2:4])
		if marker == 0xFF01 && length >= 4 {
			return off, nil
		}
	}
	return 0, ErrNoVisibleRecord
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

// vrlFormatVersion is the 2-byte format version marker every Visible
// Record header must carry (RP66 V1 §2.2.2.1).
const vrlFormatVersion = 0xFF01

// vrlSource presents the concatenation of every Visible Record's payload
// as one contiguous, seekable byte stream with Visible Record headers
// transparently stripped (RP66 V1 §2.2's Visible Record envelope unwrap).
// Logical records and their segments are then read from this source
// without any awareness of where Visible Record boundaries fall, including
// when a segment chain happens to straddle one.
type vrlSource struct {
	under   ByteSource
	base    int64 // physical offset of the first Visible Record header
	logical int64
	physAt  int64 // physical offset of the current VR's header
	vrLen   int64 // total length of the current VR (header + payload)
	chunk   []byte
	chunkAt int64
}

func newVRLSource(under ByteSource, base int64) (*vrlSource, error) {
	v := &vrlSource{under: under, base: base}
	if err := v.loadChunkAt(base, 0); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *vrlSource) loadChunkAt(physOff, logicalOff int64) error {
	if err := v.under.Seek(physOff); err != nil {
		return err
	}
	hdr, err := v.under.Read(4)
	if err != nil {
		return err
	}
	length := be16(hdr[0:2])
	marker := be16(hdr[2:4])
	if marker != vrlFormatVersion {
		return fmt.Errorf("%w: expected marker 0x%04X, got 0x%04X", ErrInvalidFormatVersion, vrlFormatVersion, marker)
	}
	if length < 4 {
		return fmt.Errorf("%w: visible record length %d smaller than header", ErrInvalidFormatVersion, length)
	}
	dataLen := int64(length) - 4
	data, err := v.under.Read(int(dataLen))
	if err != nil && err != io_ErrUnexpectedEOF {
		return err
	}
	v.chunk = data
	v.chunkAt = logicalOff
	v.physAt = physOff
	v.vrLen = int64(length)
	v.logical = logicalOff
	return nil
}

func (v *vrlSource) Seek(abs int64) error {
	physOff := v.base
	logicalOff := int64(0)
	for {
		if err := v.loadChunkAt(physOff, logicalOff); err != nil {
			return err
		}
		if abs < v.chunkAt+int64(len(v.chunk)) || v.under.EOF() {
			v.logical = abs
			return nil
		}
		logicalOff += int64(len(v.chunk))
		physOff = v.physAt + v.vrLen
	}
}

func (v *vrlSource) Read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		offsetInChunk := v.logical - v.chunkAt
		if offsetInChunk < 0 || offsetInChunk > int64(len(v.chunk)) {
			if err := v.Seek(v.logical); err != nil {
				return out, err
			}
			offsetInChunk = v.logical - v.chunkAt
		}
		avail := v.chunk[offsetInChunk:]
		if len(avail) == 0 {
			if v.under.EOF() {
				return out, io_ErrUnexpectedEOF
			}
			if err := v.loadChunkAt(v.physAt+v.vrLen, v.chunkAt+int64(len(v.chunk))); err != nil {
				return out, err
			}
			continue
		}
		take := n - len(out)
		if take > len(avail) {
			take = len(avail)
		}
		out = append(out, avail[:take]...)
		v.logical += int64(take)
	}
	return out, nil
}

func (v *vrlSource) Tell() int64 { return v.logical }

func (v *vrlSource) EOF() bool {
	return v.under.EOF() && v.logical >= v.chunkAt+int64(len(v.chunk))
}

func (v *vrlSource) Close() error { return v.under.Close() }

// clone returns a fresh vrlSource with its own chunk buffer and cursor,
// built over an independent clone of the underlying source, reusing the
// same base (physical offset of the first Visible Record).
func (v *vrlSource) clone() (*vrlSource, error) {
	under, err := cloneSource(v.under)
	if err != nil {
		return nil, err
	}
	return newVRLSource(under, v.base)
}

// cloneSource hands back an independent-cursor view over the same
// backing bytes as src, recursing through the tifSource/vrlSource stack
// down to the shared rawSource. Used to give each LogicalFile its own
// reader so concurrent Curves/Object calls on sibling logical files of
// the same physical file don't race on a shared cursor.
func cloneSource(src ByteSource) (ByteSource, error) {
	switch s := src.(type) {
	case *rawSource:
		return s.clone(), nil
	case *tifSource:
		return s.clone()
	case *vrlSource:
		return s.clone()
	default:
		return nil, fmt.Errorf("dlis: cannot clone byte source of type %T", src)
	}
}
