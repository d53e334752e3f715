// Package cache defines the disk-backed store responsible for translating
// artifact paths into StoragePath/<path> files. The store exposes read/write
// primitives with safe semantics (temp file + rename) and surfaces file info
// (size, modtime) for higher layers to implement conditional requests. File
// existence after an atomic rename is the sole source of truth: there is no
// separate index, and a partially written artifact is never observable. The
// package also hosts the validator calculator that derives SHA-1 based cache
// headers lazily from committed entries.
package cache
