package gpkg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errTruncated = errors.New("truncated GeoPackage geometry blob")

// envelopeSizes maps the envelope indicator (header flag bits 1-3) to the
// number of float64 values that follow the fixed header.
var envelopeSizes = [...]int{0, 4, 6, 6, 8}

const (
	flagByteOrderLE = 1 << 0
	flagEmptyGeom   = 1 << 4
	flagExtended    = 1 << 5
)

// SplitGeometry strips the GeoPackage binary header from a geometry blob and
// returns the bare WKB, the embedded srs id and whether the geometry is
// flagged empty.
func SplitGeometry(blob []byte) (wkb []byte, srsID int32, empty bool, err error) {
	if len(blob) < 8 {
		return nil, 0, false, errTruncated
	}

	if blob[0] != 'G' || blob[1] != 'P' {
		return nil, 0, false, fmt.Errorf("bad magic %q", blob[:2])
	}

	flags := blob[3]
	if flags&flagExtended != 0 {
		return nil, 0, false, errors.New("extended GeoPackage geometry not supported")
	}

	if flags&flagByteOrderLE != 0 {
		srsID = int32(binary.LittleEndian.Uint32(blob[4:8]))
	} else {
		srsID = int32(binary.BigEndian.Uint32(blob[4:8]))
	}

	envelope := int(flags>>1) & 0x7
	if envelope >= len(envelopeSizes) {
		return nil, 0, false, fmt.Errorf("invalid envelope indicator %d", envelope)
	}

	offset := 8 + 8*envelopeSizes[envelope]
	if len(blob) < offset {
		return nil, 0, false, errTruncated
	}

	empty = flags&flagEmptyGeom != 0
	if empty {
		return nil, srsID, true, nil
	}

	if len(blob) == offset {
		return nil, srsID, true, nil
	}

	return blob[offset:], srsID, false, nil
}

// WrapGeometry builds a GeoPackage geometry blob (no envelope, little endian
// header) around bare WKB. Used by the stage cache and by tests writing
// fixture containers.
func WrapGeometry(wkb []byte, srsID int32) []byte {
	header := make([]byte, 8)
	header[0] = 'G'
	header[1] = 'P'
	header[2] = 0 // version
	header[3] = flagByteOrderLE

	if len(wkb) == 0 {
		header[3] |= flagEmptyGeom
	}

	binary.LittleEndian.PutUint32(header[4:8], uint32(srsID))

	return append(header, wkb...)
}
