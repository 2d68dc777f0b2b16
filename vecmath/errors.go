package vecmath

import "errors"

// ErrDimensionMismatch is returned when two vectors or matrices that must
// share a dimension do not. Callers in inference paths should treat this
// as a fatal programming error (spec error kind DimensionMismatch);
// callers in training paths may choose to skip the offending sample.
var ErrDimensionMismatch = errors.New("vecmath: dimension mismatch")

// ErrZeroNorm is returned by routines that divide by a vector's norm when
// that norm is zero. Inference callers should degrade to a uniform score;
// training callers should skip the sample rather than propagate NaN.
var ErrZeroNorm = errors.New("vecmath: zero norm")
