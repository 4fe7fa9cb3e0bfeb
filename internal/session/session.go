// Package session tracks which user occupies each live connection. The
// Registry is the authoritative in-process record; Store optionally mirrors
// sessions into Redis so external tooling can inspect who is online.
package session
