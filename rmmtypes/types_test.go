package rmmtypes_test

import (
	"testing"
	"time"

	"github.com/smallnest/rmm/rmmtypes"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := rmmtypes.DefaultConfig(768)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.TopK)
	assert.Equal(t, 5, cfg.TopM)
}

func TestConfig_ValidateRejectsBadTemperature(t *testing.T) {
	t.Parallel()

	cfg := rmmtypes.DefaultConfig(8)
	cfg.Temperature = 0
	assert.ErrorIs(t, cfg.Validate(), rmmtypes.ErrInvalidConfig)
}

func TestConfig_ValidateRejectsTopMGreaterThanTopK(t *testing.T) {
	t.Parallel()

	cfg := rmmtypes.DefaultConfig(8)
	cfg.TopM = cfg.TopK + 1
	assert.ErrorIs(t, cfg.Validate(), rmmtypes.ErrInvalidConfig)
}

func TestGradientAccumulator_ResetZeroesAndClearsCount(t *testing.T) {
	t.Parallel()

	acc := rmmtypes.NewGradientAccumulator(2)
	acc.GradWq[0][0] = 5
	acc.TurnsInBatch = 3

	acc.Reset()

	assert.Equal(t, 0, acc.TurnsInBatch)
	assert.Equal(t, 0.0, acc.GradWq[0][0])
}

func TestMessageBuffer_AppendCountsHumanMessages(t *testing.T) {
	t.Parallel()

	var buf rmmtypes.MessageBuffer
	now := time.Now()
	buf.Append(rmmtypes.DialogueTurn{Role: "user", Content: "hi", Timestamp: now})
	buf.Append(rmmtypes.DialogueTurn{Role: "assistant", Content: "hello", Timestamp: now})
	buf.Append(rmmtypes.DialogueTurn{Role: "user", Content: "bye", Timestamp: now})

	assert.Equal(t, 2, buf.HumanMessageCount)
	assert.Len(t, buf.Turns, 3)
}

func TestMessageBuffer_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	var buf rmmtypes.MessageBuffer
	buf.Append(rmmtypes.DialogueTurn{Role: "user", Content: "hi", Timestamp: time.Now()})

	clone := buf.Clone()
	clone.Append(rmmtypes.DialogueTurn{Role: "user", Content: "more", Timestamp: time.Now()})

	assert.Len(t, buf.Turns, 1)
	assert.Len(t, clone.Turns, 2)
}
