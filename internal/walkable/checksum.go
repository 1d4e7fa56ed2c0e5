package walkable

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"longwalk/internal/world"
)

const mapFileSampleSize = 8192

// MapChecksum fingerprints the map shape and client build a store was
// generated against. A store whose checksum differs from the live map is
// stale.
func MapChecksum(meta world.Metadata, mapIndex int) (string, error) {
	if meta == nil {
		return "", fmt.Errorf("no map metadata")
	}
	bw, bh, ok := meta.BlockSize(mapIndex)
	if !ok {
		return "", fmt.Errorf("map %d has no block size", mapIndex)
	}
	dw, dh, ok := meta.DefaultSize(mapIndex)
	if !ok {
		return "", fmt.Errorf("map %d has no default size", mapIndex)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d|%d,%d|%d,%d|%s", mapIndex, bw, bh, dw, dh, meta.ClientVersion())
	if path := meta.MapFilePath(mapIndex); path != "" {
		if sum, err := mapFileChecksum(path); err == nil {
			b.WriteString("|")
			b.WriteString(sum)
		}
	}
	digest := sha256.Sum256([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// ValidateChecksum reports whether a stored checksum matches the live one.
// Empty checksums never validate.
func ValidateChecksum(stored, current string) bool {
	return stored != "" && current != "" && stored == current
}

// mapFileChecksum hashes the head, middle and tail of a map file together with
// its size and modification time, so large files are not read in full.
func mapFileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	size := info.Size()
	sample := make([]byte, min(size, 3*mapFileSampleSize))
	if size > 3*mapFileSampleSize {
		sample = sample[:mapFileSampleSize]
	}
	for _, offset := range sampleOffsets(size) {
		n, err := f.ReadAt(sample, offset)
		if err != nil && err != io.EOF {
			return "", err
		}
		h.Write(sample[:n])
	}
	var meta [16]byte
	binary.LittleEndian.PutUint64(meta[:8], uint64(size))
	binary.LittleEndian.PutUint64(meta[8:], uint64(info.ModTime().UnixNano()))
	h.Write(meta[:])
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func sampleOffsets(size int64) []int64 {
	if size <= 3*mapFileSampleSize {
		return []int64{0}
	}
	return []int64{0, size/2 - mapFileSampleSize/2, size - mapFileSampleSize}
}
