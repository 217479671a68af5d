package artifact

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionforge/internal/mission"
)

var fixed = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("art-%d", n)
	}
}

func imageResult(node string, n int) mission.GenerationResult {
	res := mission.GenerationResult{Status: mission.ResultSuccess, NodeID: node, Model: "img-model"}
	for i := 0; i < n; i++ {
		res.Artifacts = append(res.Artifacts, mission.Artifact{
			Kind:    mission.ArtifactImage,
			Label:   fmt.Sprintf("frame-%d", i),
			Payload: mission.Payload{MIMEType: "image/png", Data: []byte{byte(i + 1)}},
		})
	}
	return res
}

func TestAbsorb_TagsProvenance(t *testing.T) {
	agg := NewAggregator(WithClock(func() time.Time { return fixed }), WithIDFunc(counterIDs()))

	res := imageResult("CC-10", 2)
	res.Citations = []mission.Citation{{SourceURI: "https://a.example", Kind: mission.CitationWeb}}

	got := agg.Absorb("t1", res)
	require.Len(t, got, 2)
	for i, art := range got {
		assert.Equal(t, fmt.Sprintf("art-%d", i+1), art.ID)
		assert.Equal(t, "t1", art.TaskID)
		assert.Equal(t, "CC-10", art.OriginatingNode)
		assert.Equal(t, fixed, art.CreatedAt)
		assert.Equal(t, "img-model", art.Model)
		assert.Len(t, art.Citations, 1)
	}
	assert.Equal(t, "frame-0", got[0].Label)
	assert.Equal(t, "frame-1", got[1].Label)
}

func TestAbsorb_TwiceYieldsTwoEntries(t *testing.T) {
	agg := NewAggregator()
	res := imageResult("CC-10", 1)

	first := agg.Absorb("t1", res)
	second := agg.Absorb("t1", res)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, agg.Len())
}

func TestAbsorb_SkipsErrorsAndEmptyPayloads(t *testing.T) {
	agg := NewAggregator()

	failed := imageResult("CC-10", 1)
	failed.Status = mission.ResultError
	assert.Nil(t, agg.Absorb("t1", failed))

	assert.Nil(t, agg.Absorb("t2", mission.GenerationResult{Status: mission.ResultEmpty}))

	hollow := mission.GenerationResult{Status: mission.ResultSuccess, Artifacts: []mission.Artifact{{Kind: mission.ArtifactVideo}}}
	assert.Nil(t, agg.Absorb("t3", hollow))

	assert.Equal(t, 0, agg.Len())
}

func TestAbsorb_ArrivalOrderAndIsolation(t *testing.T) {
	agg := NewAggregator()
	agg.Absorb("t2", imageResult("SP-01", 1))
	agg.Absorb("t1", imageResult("CC-10", 1))

	arts := agg.Artifacts()
	require.Len(t, arts, 2)
	assert.Equal(t, "t2", arts[0].TaskID)
	assert.Equal(t, "t1", arts[1].TaskID)

	arts[0].Label = "mutated"
	assert.NotEqual(t, "mutated", agg.Artifacts()[0].Label)

	agg.Reset()
	assert.Equal(t, 0, agg.Len())
}

func TestAbsorb_Concurrent(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Absorb(fmt.Sprintf("t%d", i), imageResult("CC-10", 2))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 40, agg.Len())
}
