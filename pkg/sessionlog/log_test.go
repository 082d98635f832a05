package sessionlog

import (
	"errors"
	"sync"
	"testing"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAppendSnapshotClear(t *testing.T) {
	l := New()
	assert.Empty(t, l.Snapshot())

	first := l.Append(Record{Stage: domain.StageProtect, Request: map[string]string{"data": "1234567890123"}})
	l.Append(Record{Stage: domain.StageReveal, Err: errors.New("boom")})

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.NotEmpty(t, snap[0].ID)
	assert.Equal(t, domain.StageProtect, snap[0].Stage)
	assert.Equal(t, domain.StageReveal, snap[1].Stage)
	assert.Equal(t, "boom", snap[1].Error)
	assert.False(t, snap[0].Time.IsZero())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Len(t, snap, 2, "snapshots are detached from later mutation")
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Append(Record{Stage: domain.StageHealth})

	snap := l.Snapshot()
	snap[0].Stage = domain.StageReveal

	assert.Equal(t, domain.StageHealth, l.Snapshot()[0].Stage)
}

func TestAppendPreservesOrderProperty(t *testing.T) {
	stages := []domain.Stage{
		domain.StageProtect, domain.StageReveal, domain.StageProtectBulk,
		domain.StageRevealBulk, domain.StageHealth,
	}
	rapid.Check(t, func(t *rapid.T) {
		seq := rapid.SliceOf(rapid.SampledFrom(stages)).Draw(t, "stages")
		l := New()
		for _, s := range seq {
			l.Append(Record{Stage: s})
		}
		snap := l.Snapshot()
		require.Len(t, snap, len(seq))
		for i, s := range seq {
			assert.Equal(t, s, snap[i].Stage)
		}
	})
}

func TestConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(Record{Stage: domain.StageHealth})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}
