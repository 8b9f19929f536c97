package cas

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// HashResult contains both hashes for a stored blob.
type HashResult struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// blake3Pointer is the structure stored in BLAKE3 pointer files.
type blake3Pointer struct {
	SHA256 string `json:"sha256"`
}

// PutWithBlake3 stores the given bytes and records a BLAKE3 pointer
// alongside the primary SHA-256 blob, so later imports can dedup with
// the cheaper hash before touching the primary path.
func (s *Store) PutWithBlake3(data []byte) (*HashResult, error) {
	sha, err := s.Put(data)
	if err != nil {
		return nil, err
	}
	b3 := Blake3Hash(data)
	if err := s.writeBlake3Pointer(b3, sha); err != nil {
		return nil, fmt.Errorf("create blake3 pointer: %w", err)
	}
	return &HashResult{SHA256: sha, BLAKE3: b3}, nil
}

// writeBlake3Pointer maps a BLAKE3 hash to its SHA-256 blob at
// <root>/blobs/blake3/<first2>/<blake3>.json.
func (s *Store) writeBlake3Pointer(b3, sha string) error {
	dir := filepath.Join(s.root, "blobs", "blake3", b3[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, b3+".json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.Marshal(blake3Pointer{SHA256: sha})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pointer-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// LookupBlake3 resolves a BLAKE3 hash to its SHA-256 blob hash.
// Returns ErrBlobNotFound when no pointer exists.
func (s *Store) LookupBlake3(b3 string) (string, error) {
	if !validHash(b3) {
		return "", ErrInvalidHash
	}
	data, err := os.ReadFile(filepath.Join(s.root, "blobs", "blake3", b3[:2], b3+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("read pointer: %w", err)
	}
	var ptr blake3Pointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return "", fmt.Errorf("parse pointer: %w", err)
	}
	return ptr.SHA256, nil
}

// GetByBlake3 retrieves a blob by its BLAKE3 hash.
func (s *Store) GetByBlake3(b3 string) ([]byte, error) {
	sha, err := s.LookupBlake3(b3)
	if err != nil {
		return nil, err
	}
	return s.Get(sha)
}

// Blake3Hash computes the BLAKE3 hash of the given data without storing it.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
