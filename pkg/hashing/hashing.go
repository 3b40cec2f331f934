// Package hashing computes content identities for capture files.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Supported algorithms.
const (
	SHA256  = "sha256"
	BLAKE2b = "blake2b"
)

// bufSize is the read buffer used while streaming a file through the hash.
const bufSize = 256 * 1024

// Identifier derives a content identity from a file's bytes.
// Two files with identical bytes always get the same identity.
type Identifier struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns an Identifier for the named algorithm. An empty name selects SHA256.
func New(algorithm string) (*Identifier, error) {
	switch algorithm {
	case SHA256, "":
		return &Identifier{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE2b:
		return &Identifier{algorithm: BLAKE2b, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil) // only fails for oversized keys
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm returns the algorithm name.
func (id *Identifier) Algorithm() string {
	return id.algorithm
}

// Identify returns the lowercase hex digest of the file at path.
func (id *Identifier) Identify(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return id.IdentifyReader(f)
}

// IdentifyReader hashes everything read from r.
func (id *Identifier) IdentifyReader(r io.Reader) (string, error) {
	h := id.newHash()
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
