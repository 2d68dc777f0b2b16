package reflector

import "errors"

var errMissingCollaborator = errors.New("reflector: extractor, decider, store, and buffers are all required")
