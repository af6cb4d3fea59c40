package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2v-service/internal/domain/v2v"
)

func stamped(t *testing.T, text string) v2v.Message {
	t.Helper()
	rel, err := v2v.NewAlert("A", text, nil)
	require.NoError(t, err)
	return rel.Stamp("A", time.Unix(0, 0))
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(stamped(t, fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, uint64(5), h.Total())

	snap := h.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "m2", snap[0].Text)
	assert.Equal(t, "m3", snap[1].Text)
	assert.Equal(t, "m4", snap[2].Text)
}

func TestHistory_Unbounded(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 1500; i++ {
		h.Append(stamped(t, "x"))
	}
	assert.Equal(t, 1500, h.Len())
}

func TestHistory_EmptySnapshot(t *testing.T) {
	h := NewHistory(-1)
	assert.Empty(t, h.Snapshot())
	assert.Equal(t, 0, h.Len())
}
