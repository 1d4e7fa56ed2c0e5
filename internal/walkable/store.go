package walkable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
)

// FormatVersion is written into every cache file. Files older than
// minFormatVersion are discarded on load.
const (
	FormatVersion    int32 = 2
	minFormatVersion int32 = 2

	maxChecksumLength = 1 << 12
	chunkRecordSize   = 8 + 2*ChunkSize
)

var (
	ErrLegacyFormat     = errors.New("walkable: legacy cache format")
	ErrMapIndexMismatch = errors.New("walkable: map index mismatch")
	ErrMissingChecksum  = errors.New("walkable: cache file has no checksum")
)

// ChunkKey packs chunk coordinates into the 64-bit key used in memory and
// on disk.
func ChunkKey(chunkX, chunkY int) int64 {
	return int64(chunkX)<<32 | int64(uint32(chunkY))
}

// SplitChunkKey is the inverse of ChunkKey.
func SplitChunkKey(key int64) (chunkX, chunkY int) {
	return int(int32(key >> 32)), int(int32(uint32(key)))
}

// Store is the walkability record of one map. All methods are safe for
// concurrent use.
type Store struct {
	mapIndex int

	mu       sync.RWMutex
	chunks   map[int64]*BitChunk
	checksum string
}

func NewStore(mapIndex int) *Store {
	return &Store{mapIndex: mapIndex, chunks: make(map[int64]*BitChunk)}
}

func (s *Store) MapIndex() int {
	return s.mapIndex
}

func (s *Store) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

func (s *Store) SetChecksum(checksum string) {
	s.mu.Lock()
	s.checksum = checksum
	s.mu.Unlock()
}

func (s *Store) chunk(x, y int) *BitChunk {
	return s.chunks[ChunkKey(x>>3, y>>3)]
}

// Get returns the stored walkability of tile (x,y); unknown reads false.
func (s *Store) Get(x, y int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chunk(x, y)
	return c != nil && c.Get(x&7, y&7)
}

func (s *Store) IsSet(x, y int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chunk(x, y)
	return c != nil && c.IsSet(x&7, y&7)
}

// Lookup returns the walkability and whether it is known, under one lock.
func (s *Store) Lookup(x, y int) (walkable, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chunk(x, y)
	if c == nil || !c.IsSet(x&7, y&7) {
		return false, false
	}
	return c.Get(x&7, y&7), true
}

func (s *Store) Set(x, y int, walkable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ChunkKey(x>>3, y>>3)
	c := s.chunks[key]
	if c == nil {
		c = &BitChunk{}
		s.chunks[key] = c
	}
	c.Set(x&7, y&7, walkable)
}

func (s *Store) Clear(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.chunk(x, y); c != nil {
		c.Clear(x&7, y&7)
	}
}

// Reset forgets every tile.
func (s *Store) Reset() {
	s.mu.Lock()
	s.chunks = make(map[int64]*BitChunk)
	s.mu.Unlock()
}

// FillChunk determines every unknown tile of chunk (chunkX, chunkY) with
// probe. Known tiles are left untouched.
func (s *Store) FillChunk(chunkX, chunkY int, probe func(x, y int) bool) {
	baseX, baseY := chunkX*ChunkSize, chunkY*ChunkSize
	for ly := 0; ly < ChunkSize; ly++ {
		for lx := 0; lx < ChunkSize; lx++ {
			x, y := baseX+lx, baseY+ly
			if s.IsSet(x, y) {
				continue
			}
			s.Set(x, y, probe(x, y))
		}
	}
}

func (s *Store) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// StoreStats summarises a store for diagnostics.
type StoreStats struct {
	MapIndex      int    `json:"mapIndex"`
	Chunks        int    `json:"chunks"`
	KnownTiles    int    `json:"knownTiles"`
	WalkableTiles int    `json:"walkableTiles"`
	Checksum      string `json:"checksum"`
}

func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := StoreStats{MapIndex: s.mapIndex, Chunks: len(s.chunks), Checksum: s.checksum}
	for _, c := range s.chunks {
		set, walkable := c.Counts()
		stats.KnownTiles += set
		stats.WalkableTiles += walkable
	}
	return stats
}

// GenerationProgress returns the length of the longest prefix of chunks, in
// generation order over a blocksW x blocksH grid, that hold at least one
// determined tile.
func (s *Store) GenerationProgress(blocksW, blocksH int) int {
	if blocksW <= 0 || blocksH <= 0 {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := blocksW * blocksH
	for idx := 0; idx < total; idx++ {
		c := s.chunks[ChunkKey(idx/blocksH, idx%blocksH)]
		if c == nil || !c.Any() {
			return idx
		}
	}
	return total
}

// WriteTo encodes the store in the little-endian cache file layout. Chunks
// are written in key order.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	keys := make([]int64, 0, len(s.chunks))
	for key := range s.chunks {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	records := make([]byte, 0, len(keys)*chunkRecordSize)
	for _, key := range keys {
		c := s.chunks[key]
		records = binary.LittleEndian.AppendUint64(records, uint64(key))
		records = append(records, c.value[:]...)
		records = append(records, c.isSet[:]...)
	}
	checksum := s.checksum
	s.mu.RUnlock()

	header := make([]byte, 0, 12)
	header = binary.LittleEndian.AppendUint32(header, uint32(FormatVersion))
	header = binary.LittleEndian.AppendUint32(header, uint32(int32(s.mapIndex)))
	header = binary.LittleEndian.AppendUint32(header, uint32(int32(len(keys))))

	trailer := binary.AppendUvarint(nil, uint64(len(checksum)))
	trailer = append(trailer, checksum...)

	var written int64
	for _, part := range [][]byte{header, records, trailer} {
		n, err := w.Write(part)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadStore decodes a cache file produced by WriteTo and checks it belongs to
// mapIndex.
func ReadStore(r io.Reader, mapIndex int) (*Store, error) {
	br := bufio.NewReader(r)
	var header [3]int32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	version, fileMap, count := header[0], header[1], header[2]
	if version < minFormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrLegacyFormat, version)
	}
	if version > FormatVersion {
		return nil, fmt.Errorf("walkable: unsupported cache version %d", version)
	}
	if int(fileMap) != mapIndex {
		return nil, fmt.Errorf("%w: file holds map %d, want %d", ErrMapIndexMismatch, fileMap, mapIndex)
	}
	if count < 0 {
		return nil, fmt.Errorf("walkable: negative chunk count %d", count)
	}

	store := NewStore(mapIndex)
	record := make([]byte, chunkRecordSize)
	for i := int32(0); i < count; i++ {
		if _, err := io.ReadFull(br, record); err != nil {
			return nil, fmt.Errorf("read chunk %d of %d: %w", i, count, err)
		}
		c := &BitChunk{}
		copy(c.value[:], record[8:8+ChunkSize])
		copy(c.isSet[:], record[8+ChunkSize:])
		store.chunks[int64(binary.LittleEndian.Uint64(record))] = c
	}

	length, err := binary.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingChecksum
		}
		return nil, fmt.Errorf("read checksum length: %w", err)
	}
	if length == 0 {
		return nil, ErrMissingChecksum
	}
	if length > maxChecksumLength {
		return nil, fmt.Errorf("walkable: checksum length %d out of range", length)
	}
	checksum := make([]byte, length)
	if _, err := io.ReadFull(br, checksum); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	store.checksum = string(checksum)
	return store, nil
}

// LoadFile reads the store for mapIndex from path.
func LoadFile(path string, mapIndex int) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	store, err := ReadStore(f, mapIndex)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return store, nil
}

// SaveFile writes the store to path through a temporary sibling file so a
// crash never leaves a truncated cache behind.
func (s *Store) SaveFile(path string) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if _, err = s.WriteTo(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err = bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
