// Package cas provides content-addressed storage for extracted card
// assets. Blobs are stored by their SHA-256 hash, ensuring
// deduplication across cards and enabling verification of content
// integrity. A secondary BLAKE3 pointer index allows fast dedup lookups
// by the cheaper hash.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// URLScheme prefixes every address handed out by the store. Asset
// references inside normalized card data point at these.
const URLScheme = "blob://sha256/"

// ErrBlobNotFound is returned when a blob with the given hash does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidHash is returned when a hash string is not a valid SHA-256 hex string.
var ErrInvalidHash = errors.New("invalid hash format")

// hashPattern matches a valid lowercase 256-bit hex string.
var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Store provides content-addressed storage for asset blobs.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory, creating the
// blob layout if it does not exist.
func NewStore(root string) (*Store, error) {
	blobDir := filepath.Join(root, "blobs", "sha256")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Put stores the given bytes and returns the blob's SHA-256 hash.
// Storing bytes that already exist is a no-op returning the same hash.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)

	blobPath := s.pathForHash(hash)
	if _, err := os.Stat(blobPath); err == nil {
		return hash, nil
	}

	prefixDir := filepath.Dir(blobPath)
	if err := os.MkdirAll(prefixDir, 0755); err != nil {
		return "", fmt.Errorf("create prefix directory: %w", err)
	}

	// Write atomically: temp file in the same directory, then rename.
	tmp, err := os.CreateTemp(prefixDir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return hash, nil
}

// PutURL stores the given bytes and returns their blob:// address.
func (s *Store) PutURL(data []byte) (string, error) {
	hash, err := s.Put(data)
	if err != nil {
		return "", err
	}
	return URL(hash), nil
}

// Get retrieves the blob with the given SHA-256 hash.
// Returns ErrBlobNotFound if the blob does not exist.
func (s *Store) Get(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, ErrInvalidHash
	}
	data, err := os.ReadFile(s.pathForHash(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// GetURL retrieves a blob by its blob:// address.
func (s *Store) GetURL(url string) ([]byte, error) {
	hash, ok := ParseURL(url)
	if !ok {
		return nil, ErrInvalidHash
	}
	return s.Get(hash)
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.pathForHash(hash))
	return err == nil
}

// pathForHash returns the file path for a blob: <root>/blobs/sha256/<first2>/<hash>
func (s *Store) pathForHash(hash string) string {
	return filepath.Join(s.root, "blobs", "sha256", hash[:2], hash)
}

func validHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// Hash computes the SHA-256 hash of the given data without storing it.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// URL returns the blob:// address for a stored hash.
func URL(hash string) string {
	return URLScheme + hash
}

// ParseURL extracts the hash from a blob:// address.
func ParseURL(url string) (string, bool) {
	if !strings.HasPrefix(url, URLScheme) {
		return "", false
	}
	hash := url[len(URLScheme):]
	if !validHash(hash) {
		return "", false
	}
	return hash, true
}

// IsBlobURL reports whether the given URI points into the store.
func IsBlobURL(uri string) bool {
	_, ok := ParseURL(uri)
	return ok
}
