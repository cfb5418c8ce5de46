// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"fmt"
	"sync"
)

// Severity is a totally ordered fault level, from least to most severe.
type Severity int

// Severity levels, in ascending order. The zero value is SeverityDebug.
const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity parses one of "debug", "info", "warning", "error",
// "critical" (case-sensitive, matching the original tool's argument
// convention). An unrecognized name is itself a hard error, per spec.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidEscapeLevel, name)
	}
}

// FaultKind labels the category of a recorded or raised fault. These are
// labels, not distinct Go types, so a caller can match on the string
// without a type switch.
type FaultKind string

// Fault kinds.
const (
	FaultTruncated            FaultKind = "truncated"
	FaultInvalidFormatVersion FaultKind = "invalid-format-version"
	FaultBadSegmentTrim       FaultKind = "bad-segment-trim"
	FaultShortLogicalRecord   FaultKind = "short-logical-record"
	FaultUnknownRepcode       FaultKind = "unknown-repcode"
	FaultDecodeRange          FaultKind = "decode-range"
	FaultDanglingReference    FaultKind = "dangling-reference"
	FaultDuplicateObject      FaultKind = "duplicate-object"
	FaultUnsupportedSetKind   FaultKind = "unsupported-set-kind"
	FaultFrameFmtOverrun      FaultKind = "frame-fmt-overrun"
	FaultNonSequentialFrames  FaultKind = "non-sequential-frames"
	FaultMissingFrames        FaultKind = "missing-frames"
	FaultDuplicatedFrames     FaultKind = "duplicated-frames"
	FaultInvalidEscapeLevel   FaultKind = "invalid-escape-level"
)

// Fault is a single defect observed while parsing, recorded when its
// severity is below the active escape level.
type Fault struct {
	Kind     FaultKind
	Severity Severity
	Message  string
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Sentinel errors surfaced directly (independent of the escape level), for
// conditions a caller typically wants to check with errors.Is regardless of
// threshold.
var (
	ErrInvalidEscapeLevel = fmt.Errorf("invalid severity name")
	ErrEncryptedRecord    = fmt.Errorf("encrypted logical records are not supported")
	ErrNoVisibleRecord    = fmt.Errorf("could not find visible record envelope")
)

var (
	globalMu    sync.RWMutex
	globalLevel = SeverityWarning
)

// SetEscapeLevel sets the process-wide default escape level by name. It is
// used as the default for any LoaderOptions that doesn't set its own
// EscapeLevel explicitly. A preferable design would pass the level as an
// explicit argument to every operation instead of a package global; this
// process-wide value is kept only as the default, and every entry point
// that cares (LoaderOptions.EscapeLevel) can override it.
func SetEscapeLevel(name string) error {
	sev, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLevel = sev
	globalMu.Unlock()
	return nil
}

// EscapeLevel returns the process-wide default escape level.
func EscapeLevel() Severity {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLevel
}

// faultSink accumulates faults for one logical file and decides, at every
// call site, whether a defect is logged-and-recovered or raised as an
// error, escalating once severity reaches the active threshold.
type faultSink struct {
	threshold Severity
	logger    *helper
	faults    []Fault
}

func newFaultSink(threshold Severity, logger *helper) *faultSink {
	return &faultSink{threshold: threshold, logger: logger}
}

// raise classifies a fault at the call site. If its severity is at or
// above the sink's threshold, it is returned as an error (the caller must
// abort the enclosing operation). Otherwise it is logged at its severity
// and appended to the recorded fault list, and the caller should continue
// with its documented fallback.
func (s *faultSink) raise(kind FaultKind, sev Severity, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	f := Fault{Kind: kind, Severity: sev, Message: msg}
	if sev >= s.threshold {
		s.logger.logFault(f)
		return f
	}
	s.faults = append(s.faults, f)
	s.logger.logFault(f)
	return nil
}
