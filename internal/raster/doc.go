// Package raster owns the shared grid primitive of the forest-loss pipeline.
//
// Responsibilities: the immutable Grid with its nodata sentinel, windowed
// statistics over grids, row-band parallelism, and the compressed grid blob
// used to move grids between pipeline stages.
// Key types: Grid, Builder, WindowSummary, Profile.
//
// Dependency rule: raster depends on nothing else in this module. No I/O
// beyond encoding to an io.Writer is allowed in this package.
package raster
