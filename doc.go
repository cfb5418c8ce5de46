// Copyright 2024 The rp66/dlis Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package dlis reads Digital Log Interchange Standard (RP66 V1) files, the
// binary format used to carry well-log data between acquisition, processing
// and archival systems.
//
// A DLIS file is a single physical stream that encodes one or more logical
// files. Each logical file is a self-contained set of metadata objects
// (channels, frames, origins, tools, parameters, ...) plus the raw frame
// data those objects describe. Load opens a path and returns a PhysicalFile,
// a collection of LogicalFile values with random-access indices already
// built; curve data is decoded on demand through Frame.Curves.
//
// The package is read-only: there is no writer, no in-place mutation of
// parsed objects, and no streaming-append support.
package dlis
