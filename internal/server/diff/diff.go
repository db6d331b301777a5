package diff

import (
	"maps"
	"slices"
)

// Result maps a relative path to the server digest for every entry the client
// is missing or holds a stale copy of. An empty Result means "already in sync".
type Result map[string]string

// Compute returns the entries of server that client lacks or has with a
// different digest. Paths only present in client are ignored.
func Compute(server, client map[string]string) Result {
	result := make(Result)
	for path, digest := range server {
		if clientDigest, ok := client[path]; !ok || clientDigest != digest {
			result[path] = digest
		}
	}
	return result
}

// Len returns the number of entries in the result
func (r Result) Len() int {
	return len(r)
}

// IsEmpty reports whether the client is already in sync
func (r Result) IsEmpty() bool {
	return len(r) == 0
}

// Paths returns the paths in the result in lexical order
func (r Result) Paths() []string {
	return slices.Sorted(maps.Keys(r))
}

// Clone returns a copy that shares nothing with r
func (r Result) Clone() Result {
	if r == nil {
		return Result{}
	}
	return maps.Clone(r)
}
