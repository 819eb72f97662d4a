package flat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cardexio/cardex/index"
)

// Binary layout:
//
//	[Magic:4][Version:2][Reserved:2][Dimension:4][Count:8][Rows: Count*Dimension*4]
//
// Rows are float32 little-endian, one vector per slot in slot order.
var (
	indexMagic   = [4]byte{'C', 'X', 'V', 'I'}
	indexVersion = uint16(1)
)

// Save serializes the full index state to w.
func (idx *Index) Save(w io.Writer) error {
	st := idx.getState()

	bw := bufio.NewWriter(w)

	if _, err := bw.Write(indexMagic[:]); err != nil {
		return err
	}

	var fixed [16]byte
	binary.LittleEndian.PutUint16(fixed[0:2], indexVersion)
	// fixed[2:4] reserved
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(idx.dimension))
	binary.LittleEndian.PutUint64(fixed[8:16], uint64(len(st.vectors)))
	if _, err := bw.Write(fixed[:]); err != nil {
		return err
	}

	row := make([]byte, idx.dimension*4)
	for _, vec := range st.vectors {
		for i, v := range vec {
			binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(v))
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load reads an index previously written by Save. A corrupt or truncated
// stream yields an error; callers treat that as fatal for initialization.
func Load(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("flat: failed to read index header: %w", err)
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("flat: invalid index magic")
	}

	var fixed [16]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return nil, fmt.Errorf("flat: failed to read index header: %w", err)
	}

	version := binary.LittleEndian.Uint16(fixed[0:2])
	if version != indexVersion {
		return nil, fmt.Errorf("flat: unsupported index version: %d", version)
	}

	dimension := int(binary.LittleEndian.Uint32(fixed[4:8]))
	if dimension <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: dimension}
	}
	count := binary.LittleEndian.Uint64(fixed[8:16])

	vectors := make([][]float32, 0, count)
	row := make([]byte, dimension*4)

	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("flat: truncated index at row %d: %w", i, err)
		}
		vec := make([]float32, dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[j*4:]))
		}
		vectors = append(vectors, vec)
	}

	idx := &Index{dimension: dimension}
	idx.state.Store(&indexState{vectors: vectors})

	return idx, nil
}
