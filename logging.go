// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dlis

import (
	"io"
	"os"

	"github.com/go-kratos/kratos/v2/log"
)

// helper wraps a *log.Helper with the active escape level so every fault
// site logs through one structured logger, the way the teacher's File
// routes every parse-time complaint through pe.File.logger.
type helper struct {
	*log.Helper
}

func severityToLevel(s Severity) log.Level {
	switch s {
	case SeverityDebug:
		return log.LevelDebug
	case SeverityInfo:
		return log.LevelInfo
	case SeverityWarning:
		return log.LevelWarn
	case SeverityError:
		return log.LevelError
	default:
		return log.LevelFatal
	}
}

// newHelper builds a structured logger filtered at the given floor level.
// A nil writer defaults to os.Stderr.
func newHelper(floor Severity, w io.Writer) *helper {
	if w == nil {
		w = os.Stderr
	}
	base := log.NewStdLogger(w)
	filtered := log.NewFilter(base, log.FilterLevel(severityToLevel(floor)))
	return &helper{log.NewHelper(filtered)}
}

func (h *helper) logFault(f Fault) {
	switch f.Severity {
	case SeverityDebug:
		h.Debugf("%s: %s", f.Kind, f.Message)
	case SeverityInfo:
		h.Infof("%s: %s", f.Kind, f.Message)
	case SeverityWarning:
		h.Warnf("%s: %s", f.Kind, f.Message)
	default:
		h.Errorf("%s: %s", f.Kind, f.Message)
	}
}
