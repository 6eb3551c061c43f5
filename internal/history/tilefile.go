package history

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic identifies a tile file; FileVersion is the on-disk format
// revision this package reads and writes.
const (
	Magic       uint32 = 0x05FFB100
	FileVersion uint32 = 1
)

const staticHeaderSize = 4 * 4 // magic, fileVersion, providerVersion, configHeaderSize

// TileFile is the on-disk tile directory and payload area for one
// resolution ladder. Tiles are addressed by (level, tile index); level
// 0 is the coarsest resolution.
type TileFile struct {
	storage Storage

	ProviderVersion uint32
	NPixels         uint32
	StartTime       int64
	Resolutions     []int64 // decreasing; Resolutions[0] is coarsest

	offsets [][]int64 // offsets[level][idx]; 0 = never flushed
}

// CreateTileFile lays out a brand-new tile file's directory (the
// header itself is only written once, by WriteHeader at
// finishedBuilding).
func CreateTileFile(storage Storage, providerVersion uint32, startTime int64, nPixels uint32, resolutions []int64) *TileFile {
	tf := &TileFile{
		storage:         storage,
		ProviderVersion: providerVersion,
		NPixels:         nPixels,
		StartTime:       startTime,
		Resolutions:     resolutions,
	}
	tf.offsets = make([][]int64, len(resolutions))
	r0 := resolutions[0]
	for i, r := range resolutions {
		n := (r0 + r - 1) / r
		if n < 1 {
			n = 1
		}
		tf.offsets[i] = make([]int64, n)
	}
	return tf
}

// span returns the time width of one tile at level i.
func (tf *TileFile) span(level int) int64 {
	return tf.Resolutions[level] * int64(tf.NPixels)
}

// tileIndex returns the directory index a tile starting at start
// belongs to at level.
func (tf *TileFile) tileIndex(level int, start int64) int64 {
	return (start - tf.StartTime) / tf.span(level)
}

// levelOf returns the directory level matching resolution, or -1.
func (tf *TileFile) levelOf(resolution int64) int {
	for i, r := range tf.Resolutions {
		if r == resolution {
			return i
		}
	}
	return -1
}

// ReadTile fetches the tile at (level, idx), or a fresh empty tile
// spanning that slot's window if it was never flushed.
func (tf *TileFile) ReadTile(level, idx int) (*Tile, error) {
	if level < 0 || level >= len(tf.offsets) || idx < 0 || idx >= len(tf.offsets[level]) {
		return nil, fmt.Errorf("%w: tile (%d,%d) out of range", ErrCorrupt, level, idx)
	}

	start := tf.StartTime + tf.span(level)*int64(idx)
	end := start + tf.span(level)
	coarsest := level == 0

	offset := tf.offsets[level][idx]
	if offset == 0 {
		return NewTile(tf.Resolutions[level], start, end, coarsest), nil
	}

	var sizeBuf [4]byte
	if _, err := tf.storage.ReadAt(sizeBuf[:], offset); err != nil {
		return nil, fmt.Errorf("%w: reading tileSize at %d: %v", ErrCorrupt, offset, err)
	}
	tileSize := binary.LittleEndian.Uint32(sizeBuf[:])

	buf := make([]byte, tileSize)
	if _, err := tf.storage.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("%w: reading tile payload at %d: %v", ErrCorrupt, offset, err)
	}

	return DeserialiseTile(bytes.NewReader(buf), tf.Resolutions[level], start, end, coarsest)
}

// AppendTile serialises and appends tile, recording its offset in the
// directory slot derived from its own Start/Resolution.
func (tf *TileFile) AppendTile(tile *Tile) error {
	level := tf.levelOf(tile.Resolution)
	if level < 0 {
		return fmt.Errorf("%w: resolution %d not in ladder", ErrCorrupt, tile.Resolution)
	}
	idx := tf.tileIndex(level, tile.Start)
	if idx < 0 || int(idx) >= len(tf.offsets[level]) {
		return fmt.Errorf("%w: tile start %d out of directory range at level %d", ErrCorrupt, tile.Start, level)
	}

	var buf bytes.Buffer
	if err := tile.Serialise(&buf); err != nil {
		return err
	}

	offset, err := tf.storage.Append(buf.Bytes())
	if err != nil {
		return err
	}
	tf.offsets[level][idx] = offset
	return nil
}

// WriteHeader writes the static and config headers at offset 0. It is
// invoked once, on finishedBuilding.
func (tf *TileFile) WriteHeader() error {
	var config bytes.Buffer

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], tf.NPixels)
	config.Write(u32[:])

	var i64 [8]byte
	binary.LittleEndian.PutUint64(i64[:], uint64(tf.StartTime))
	config.Write(i64[:])

	binary.LittleEndian.PutUint32(u32[:], uint32(len(tf.Resolutions)))
	config.Write(u32[:])

	for i, r := range tf.Resolutions {
		binary.LittleEndian.PutUint64(i64[:], uint64(r))
		config.Write(i64[:])

		offs := tf.offsets[i]
		binary.LittleEndian.PutUint32(u32[:], uint32(len(offs)))
		config.Write(u32[:])

		for _, off := range offs {
			binary.LittleEndian.PutUint64(i64[:], uint64(off))
			config.Write(i64[:])
		}
	}

	var static bytes.Buffer
	binary.LittleEndian.PutUint32(u32[:], Magic)
	static.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], FileVersion)
	static.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], tf.ProviderVersion)
	static.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], uint32(config.Len()))
	static.Write(u32[:])

	if _, err := tf.storage.WriteAt(static.Bytes(), 0); err != nil {
		return err
	}
	_, err := tf.storage.WriteAt(config.Bytes(), int64(static.Len()))
	return err
}

// ReadHeader opens an existing tile file, parsing its static and
// config headers. providerVersion is the caller's expected provider
// version; pass 0 (wildcard) to opt out of the check, per §6.
func ReadHeader(storage Storage, providerVersion uint32) (*TileFile, error) {
	var static [staticHeaderSize]byte
	if _, err := storage.ReadAt(static[:], 0); err != nil {
		return nil, fmt.Errorf("%w: reading static header: %v", ErrCorrupt, err)
	}

	magic := binary.LittleEndian.Uint32(static[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrCorrupt, magic)
	}
	fileVersion := binary.LittleEndian.Uint32(static[4:8])
	if fileVersion != FileVersion {
		return nil, fmt.Errorf("%w: unsupported file version %d", ErrCorrupt, fileVersion)
	}
	fileProviderVersion := binary.LittleEndian.Uint32(static[8:12])
	if providerVersion != 0 && fileProviderVersion != providerVersion {
		return nil, fmt.Errorf("%w: provider version mismatch: file has %d, caller wants %d", ErrCorrupt, fileProviderVersion, providerVersion)
	}
	configHeaderSize := binary.LittleEndian.Uint32(static[12:16])

	config := make([]byte, configHeaderSize)
	if _, err := storage.ReadAt(config, int64(staticHeaderSize)); err != nil {
		return nil, fmt.Errorf("%w: reading config header: %v", ErrCorrupt, err)
	}

	r := bytes.NewReader(config)
	var u32 [4]byte
	var i64 [8]byte

	readU32 := func() (uint32, error) {
		if _, err := r.Read(u32[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(u32[:]), nil
	}
	readI64 := func() (int64, error) {
		if _, err := r.Read(i64[:]); err != nil {
			return 0, err
		}
		return int64(binary.LittleEndian.Uint64(i64[:])), nil
	}

	nPixels, err := readU32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading nPixels: %v", ErrCorrupt, err)
	}
	startTime, err := readI64()
	if err != nil {
		return nil, fmt.Errorf("%w: reading startTime: %v", ErrCorrupt, err)
	}
	nResolutions, err := readU32()
	if err != nil {
		return nil, fmt.Errorf("%w: reading nResolutions: %v", ErrCorrupt, err)
	}

	tf := &TileFile{
		storage:         storage,
		ProviderVersion: fileProviderVersion,
		NPixels:         nPixels,
		StartTime:       startTime,
		Resolutions:     make([]int64, nResolutions),
		offsets:         make([][]int64, nResolutions),
	}

	for i := uint32(0); i < nResolutions; i++ {
		res, err := readI64()
		if err != nil {
			return nil, fmt.Errorf("%w: reading resolution %d: %v", ErrCorrupt, i, err)
		}
		tf.Resolutions[i] = res

		nTiles, err := readU32()
		if err != nil {
			return nil, fmt.Errorf("%w: reading nTiles for level %d: %v", ErrCorrupt, i, err)
		}

		offs := make([]int64, nTiles)
		for j := uint32(0); j < nTiles; j++ {
			off, err := readI64()
			if err != nil {
				return nil, fmt.Errorf("%w: reading offset %d/%d: %v", ErrCorrupt, i, j, err)
			}
			offs[j] = off
		}
		tf.offsets[i] = offs
	}

	return tf, nil
}
