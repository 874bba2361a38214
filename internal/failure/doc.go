// Package failure defines the error taxonomy shared by the extraction
// pipeline and the worker protocol.
//
// Key responsibilities:
//   - Sentinel markers for I/O, format, dependency-missing, logic,
//     unsupported-task, timeout, protocol, and internal failures.
//   - The Wrap helper that stamps component and operation context while
//     keeping both the marker and the cause visible to errors.Is.
//   - Kind/MarkerForKind, which translate between markers and the
//     error_type strings carried on the wire.
//
// Engines and the archive reader classify at their boundary with Wrap; the
// worker turns whatever reaches it into a response via Kind.
package failure
