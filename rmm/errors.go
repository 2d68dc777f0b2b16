package rmm

import "errors"

var errMissingCollaborator = errors.New("rmm: retriever, updater, cache, and buffers are all required")
