package raster

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
)

// BlobContentType identifies the compressed grid encoding in object stores.
const BlobContentType = "application/x-canopy-grid+gzip"

// maxBlobBytes caps the decompressed size of a blob: MaxCells values plus
// room for the header and profile.
const maxBlobBytes = MaxCells*8 + 1<<20

// BlobVersion is bumped whenever gridBlob changes incompatibly.
const BlobVersion = 1

// Profile is the georeference that sinks copy from a reference raster onto a
// produced grid. The numeric core never reads it.
type Profile struct {
	GeoTransform [6]float64
	Projection   string
}

// gridBlob is the gob payload. NaN round-trips through gob unchanged.
type gridBlob struct {
	Version int
	Width   int
	Height  int
	NoData  float64
	Data    []float64
	Profile Profile
}

// EncodeBlob writes g and its profile as a gob+gzip blob.
func EncodeBlob(w io.Writer, g *Grid, p Profile) error {
	if g == nil {
		return fmt.Errorf("%w: nil grid", ErrInvalidParameter)
	}
	gz := gzip.NewWriter(w)
	enc := gob.NewEncoder(gz)
	blob := gridBlob{
		Version: BlobVersion,
		Width:   g.width,
		Height:  g.height,
		NoData:  g.nodata,
		Data:    g.data,
		Profile: p,
	}
	if err := enc.Encode(&blob); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode grid blob: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush grid blob: %w", err)
	}
	return nil
}

// DecodeBlob reads a blob written by EncodeBlob.
func DecodeBlob(r io.Reader) (*Grid, Profile, error) {
	return decodeBlob(r, maxBlobBytes)
}

func decodeBlob(r io.Reader, limit int64) (*Grid, Profile, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, Profile{}, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var blob gridBlob
	if err := gob.NewDecoder(io.LimitReader(gz, limit)).Decode(&blob); err != nil {
		return nil, Profile{}, fmt.Errorf("failed to decode grid blob: %w", err)
	}
	if blob.Version != BlobVersion {
		return nil, Profile{}, fmt.Errorf("unsupported grid blob version %d", blob.Version)
	}
	if err := checkDims(blob.Width, blob.Height); err != nil {
		return nil, Profile{}, fmt.Errorf("corrupt grid blob: %w", err)
	}
	if len(blob.Data) != blob.Width*blob.Height {
		return nil, Profile{}, fmt.Errorf("corrupt grid blob: %dx%d with %d values", blob.Width, blob.Height, len(blob.Data))
	}
	g := &Grid{width: blob.Width, height: blob.Height, data: blob.Data, nodata: blob.NoData}
	return g, blob.Profile, nil
}
