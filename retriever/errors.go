package retriever

import "errors"

var errMissingCollaborator = errors.New("retriever: embedder and store are both required")
