package persist

import (
	"context"

	"github.com/smallnest/rmm/rmmtypes"
)

const (
	keyMessageBuffer = "buffer/message-buffer"
	keyStaging       = "buffer/staging"
)

// BufferStore layers the MessageBuffer and staging-slot logical keys
// (spec §3, §4.5) on top of a raw Store, namespaced per user.
type BufferStore struct {
	store     Store
	logger    Logger
	namespace []string
}

// NewBufferStore builds a BufferStore rooted at namespace.
func NewBufferStore(store Store, namespace []string) *BufferStore {
	return &BufferStore{store: store, logger: defaultLogger(), namespace: namespace}
}

// WithLogger overrides the default stderr logger.
func (b *BufferStore) WithLogger(l Logger) *BufferStore {
	b.logger = l
	return b
}

func (b *BufferStore) userNamespace(userID string) []string {
	return append(append([]string{}, b.namespace...), userID)
}

// LoadBuffer loads a user's live MessageBuffer, falling back to an
// empty buffer on any failure.
func (b *BufferStore) LoadBuffer(ctx context.Context, userID string) *rmmtypes.MessageBuffer {
	var buf rmmtypes.MessageBuffer
	if ok := loadJSON(ctx, b.store, b.logger, b.userNamespace(userID), keyMessageBuffer, &buf, nil); !ok {
		return &rmmtypes.MessageBuffer{}
	}
	return &buf
}

// SaveBuffer best-effort persists a user's live MessageBuffer.
func (b *BufferStore) SaveBuffer(ctx context.Context, userID string, buf *rmmtypes.MessageBuffer) bool {
	return saveJSON(ctx, b.store, b.logger, b.userNamespace(userID), keyMessageBuffer, buf)
}

// LoadStaging loads a user's staging slot. A missing staging slot is
// not a failure — it simply means no reflection is in flight — and
// returns (nil, false).
func (b *BufferStore) LoadStaging(ctx context.Context, userID string) (*rmmtypes.MessageBuffer, bool) {
	_, exists, err := b.store.Get(ctx, b.userNamespace(userID), keyStaging)
	if err != nil || !exists {
		return nil, false
	}
	var buf rmmtypes.MessageBuffer
	if ok := loadJSON(ctx, b.store, b.logger, b.userNamespace(userID), keyStaging, &buf, nil); !ok {
		return nil, false
	}
	return &buf, true
}

// SaveStaging writes the staging snapshot, taken before any
// asynchronous reflection work (spec §4.5 step 2's crash-safety
// discipline).
func (b *BufferStore) SaveStaging(ctx context.Context, userID string, buf *rmmtypes.MessageBuffer) bool {
	return saveJSON(ctx, b.store, b.logger, b.userNamespace(userID), keyStaging, buf)
}

// ClearStaging deletes the staging slot. Spec §8's universal invariant:
// "Staging is always cleared on successful reflection completion;
// never cleared on failure."
func (b *BufferStore) ClearStaging(ctx context.Context, userID string) bool {
	return b.store.Delete(ctx, b.userNamespace(userID), keyStaging)
}
