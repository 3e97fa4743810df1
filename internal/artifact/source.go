package artifact

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"runcell/pkg/errors"

	"github.com/zeebo/blake3"
)

// Source is an unordered set of named source files. Its identity depends
// only on content, never on insertion order.
type Source struct {
	files  map[string]string
	paths  []string
	digest [32]byte
}

// NewSource validates files and computes the content digest.
func NewSource(files map[string]string) (Source, error) {
	if len(files) == 0 {
		return Source{}, errors.New(errors.InvalidSource).WithMessage("source must contain at least one file")
	}
	copied := make(map[string]string, len(files))
	paths := make([]string, 0, len(files))
	for path, content := range files {
		if strings.TrimSpace(path) == "" {
			return Source{}, errors.New(errors.InvalidSource).WithMessage("source path must not be blank")
		}
		copied[path] = content
		paths = append(paths, path)
	}
	sort.Strings(paths)

	h := blake3.New()
	var lenBuf [8]byte
	for _, path := range paths {
		for _, part := range []string{path, copied[path]} {
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
			_, _ = h.Write(lenBuf[:])
			_, _ = h.WriteString(part)
		}
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return Source{files: copied, paths: paths, digest: digest}, nil
}

// Paths returns file paths in sorted order.
func (s Source) Paths() []string {
	return append([]string(nil), s.paths...)
}

// File returns the content stored under path.
func (s Source) File(path string) (string, bool) {
	content, ok := s.files[path]
	return content, ok
}

// Len returns the number of files.
func (s Source) Len() int {
	return len(s.files)
}

// Digest is the hex content key.
func (s Source) Digest() string {
	return hex.EncodeToString(s.digest[:])
}

// Hash folds the digest into a uint64.
func (s Source) Hash() uint64 {
	return binary.BigEndian.Uint64(s.digest[:8])
}

// Equal compares two sources by content.
func (s Source) Equal(other Source) bool {
	if len(s.files) != len(other.files) || s.digest != other.digest {
		return false
	}
	for path, content := range s.files {
		if oc, ok := other.files[path]; !ok || oc != content {
			return false
		}
	}
	return true
}

// Size is the total byte length of paths and contents.
func (s Source) Size() int {
	n := 0
	for path, content := range s.files {
		n += len(path) + len(content)
	}
	return n
}
