package raster

import "errors"

// ErrInvalidParameter reports malformed configuration: an even or
// non-positive window size, a non-positive looks count, grids that are not
// co-registered, or an empty observation sequence. It is always fatal to the
// call and never retried.
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrStateConsistency reports an observation that cannot be applied to an
// in-progress accumulation session: its dimensions differ from the session's
// or it breaks the session's temporal ordering.
var ErrStateConsistency = errors.New("state consistency violation")
