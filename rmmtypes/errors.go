package rmmtypes

import "errors"

// ErrInvalidConfig is returned when a Config fails its invariants:
// temperature <= 0, topM > topK, or a non-positive embedding dimension.
var ErrInvalidConfig = errors.New("rmmtypes: invalid config")
