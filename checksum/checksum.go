// Package checksum computes, verifies and repairs the .sha1 and .md5 side
// files kept next to repository files.
package checksum

import (
	"crypto/md5" //nolint:gosec // MD5 required for Maven protocol compatibility
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Algorithm names a checksum side file type. The value is also the file
// extension without the dot.
type Algorithm string

const (
	SHA1 Algorithm = "sha1"
	MD5  Algorithm = "md5"
)

// Algorithms lists the supported algorithms in preference order.
var Algorithms = []Algorithm{SHA1, MD5}

// ErrInvalidChecksum is returned when a side file does not hold a hex digest
// of the expected length.
var ErrInvalidChecksum = errors.New("invalid checksum")

// Status is the state of one side file relative to its file.
type Status int

const (
	// Missing means there is no side file.
	Missing Status = iota
	// Valid means the side file matches the file.
	Valid
	// Invalid means the side file is unreadable or does not match.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Extension returns the side file suffix, including the dot.
func (a Algorithm) Extension() string {
	return "." + string(a)
}

// New returns a hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New() //nolint:gosec // MD5 required for Maven protocol compatibility
	default:
		return sha1.New()
	}
}

func (a Algorithm) hexLen() int {
	return a.New().Size() * 2
}

// Path returns the side file path for file.
func (a Algorithm) Path(file string) string {
	return file + a.Extension()
}

// Compute reads r once and returns the hex digest for each algorithm.
func Compute(r io.Reader, algs ...Algorithm) (map[Algorithm]string, error) {
	if len(algs) == 0 {
		algs = Algorithms
	}
	hashes := make(map[Algorithm]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, a := range algs {
		h := a.New()
		hashes[a] = h
		writers = append(writers, h)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, fmt.Errorf("computing checksums: %w", err)
	}
	sums := make(map[Algorithm]string, len(hashes))
	for a, h := range hashes {
		sums[a] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

// ComputeFile returns the digests of the file at path.
func ComputeFile(path string, algs ...Algorithm) (map[Algorithm]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Compute(f, algs...)
}

// Parse extracts the digest from side file content. Both the bare form and
// the "<hex>  <filename>" form are accepted.
func Parse(a Algorithm, content string) (string, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidChecksum)
	}
	sum := strings.ToLower(fields[0])
	// Some tools write "MD5 (file) = <hex>".
	if len(sum) != a.hexLen() && len(fields) > 1 {
		sum = strings.ToLower(fields[len(fields)-1])
	}
	if len(sum) != a.hexLen() {
		return "", fmt.Errorf("%w: %s digest must be %d characters", ErrInvalidChecksum, a, a.hexLen())
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidChecksum, err)
	}
	return sum, nil
}

// Format returns side file content for a digest of file.
func Format(sum, file string) string {
	return sum + "  " + filepath.Base(file) + "\n"
}

// Validate reports the status of each side file of file. It fails only when
// file itself cannot be read.
func Validate(file string) (map[Algorithm]Status, error) {
	sums, err := ComputeFile(file)
	if err != nil {
		return nil, err
	}
	statuses := make(map[Algorithm]Status, len(Algorithms))
	for _, a := range Algorithms {
		statuses[a] = sideFileStatus(a, file, sums[a])
	}
	return statuses, nil
}

// IsValid reports whether every present side file matches file.
func IsValid(file string) (bool, error) {
	statuses, err := Validate(file)
	if err != nil {
		return false, err
	}
	for _, s := range statuses {
		if s == Invalid {
			return false, nil
		}
	}
	return true, nil
}

// Fix rewrites every missing or mismatched side file of file.
func Fix(file string) error {
	sums, err := ComputeFile(file)
	if err != nil {
		return err
	}
	for _, a := range Algorithms {
		if sideFileStatus(a, file, sums[a]) == Valid {
			continue
		}
		if err := writeSideFile(a.Path(file), Format(sums[a], file)); err != nil {
			return err
		}
	}
	return nil
}

// Create writes every side file of file, replacing existing ones.
func Create(file string) error {
	sums, err := ComputeFile(file)
	if err != nil {
		return err
	}
	for _, a := range Algorithms {
		if err := writeSideFile(a.Path(file), Format(sums[a], file)); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes file and its side files. Missing files are ignored.
func Remove(file string) error {
	var errs []error
	for _, p := range []string{file, SHA1.Path(file), MD5.Path(file)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sideFileStatus(a Algorithm, file, sum string) Status {
	data, err := os.ReadFile(a.Path(file))
	if err != nil {
		if os.IsNotExist(err) {
			return Missing
		}
		return Invalid
	}
	got, err := Parse(a, string(data))
	if err != nil || got != sum {
		return Invalid
	}
	return Valid
}

func writeSideFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
