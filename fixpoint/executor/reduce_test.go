package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/janus-fixpoint/fixpoint"
)

func TestPartitionGroups(t *testing.T) {
	keys := []fixpoint.Row{row("east"), row("west"), row("north"), row(1, 2), row(nil), row(2.5)}

	tests := []struct {
		name    string
		workers int
	}{
		{"one worker", 1},
		{"two workers", 2},
		{"more workers than groups", 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			touched := make([]touchedGroup, len(keys))
			for i, k := range keys {
				touched[i] = touchedGroup{
					key:   string(fixpoint.EncodeRow(k)),
					state: &groupState{key: k},
				}
			}

			parts := partitionGroups(touched, tt.workers)
			assert.Len(t, parts, tt.workers)

			seen := 0
			for w, part := range parts {
				for _, g := range part {
					assert.Equal(t, uint64(w), g.state.key.Hash()%uint64(tt.workers), g.key)
					seen++
				}
			}
			assert.Equal(t, len(keys), seen)

			again := partitionGroups(touched, tt.workers)
			assert.Equal(t, parts, again)
		})
	}
}
