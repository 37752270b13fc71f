package mailbox

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vcodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestStageOverwritesUnsentSnapshot(t *testing.T) {
	// given
	box := New()

	// when
	box.Stage(map[string]any{"signal": true})
	second := box.Stage(map[string]any{"signal": false})

	// then
	snapshot, fresh := box.PeekIfFresh(0)
	require.True(t, fresh)
	assert.Equal(t, second, snapshot.Stamp)
	assert.Equal(t, map[string]any{"signal": false}, snapshot.Data)
}

func TestPeekIfFreshSkipsAlreadySentStamp(t *testing.T) {
	box := New()

	_, fresh := box.PeekIfFresh(0)
	assert.False(t, fresh, "empty mailbox has nothing fresh")

	stamp := box.Stage(map[string]any{"signal": true})
	_, fresh = box.PeekIfFresh(stamp)
	assert.False(t, fresh)

	newer := box.Stage(map[string]any{"signal": true})
	snapshot, fresh := box.PeekIfFresh(stamp)
	assert.True(t, fresh)
	assert.Equal(t, newer, snapshot.Stamp)
}

func TestStageCopiesTheCallerMap(t *testing.T) {
	box := New()
	data := map[string]any{"signal": true}

	box.Stage(data)
	data["signal"] = false

	snapshot, _ := box.PeekIfFresh(0)
	assert.Equal(t, true, snapshot.Data["signal"])
}

func TestPayloadAddsVCodeWithoutTouchingData(t *testing.T) {
	box := New()
	box.Stage(map[string]any{"signal": true})
	snapshot, _ := box.PeekIfFresh(0)

	payload := snapshot.Payload()

	assert.Equal(t, true, payload["signal"])
	assert.Regexp(t, vcodePattern, payload[VCodeKey])
	assert.NotContains(t, snapshot.Data, VCodeKey)
}

func TestVCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stamp    Stamp
		expected string
	}{
		{stamp: 1, expected: "000001"},
		{stamp: 35, expected: "00000Z"},
		{stamp: 36, expected: "000010"},
		{stamp: vcodeSpace - 1, expected: "ZZZZZZ"},
		{stamp: vcodeSpace, expected: "000000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.stamp.VCode())
		assert.Regexp(t, vcodePattern, tt.stamp.VCode())
	}
}

func TestStagedWakeupsCoalesce(t *testing.T) {
	box := New()

	box.Stage(map[string]any{"n": 1})
	box.Stage(map[string]any{"n": 2})

	assert.Len(t, box.Staged(), 1)
	<-box.Staged()
	assert.Len(t, box.Staged(), 0)
}

func TestConcurrentStagingKeepsLatestStamp(t *testing.T) {
	box := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			box.Stage(map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	snapshot, fresh := box.PeekIfFresh(0)
	require.True(t, fresh)
	assert.Equal(t, Stamp(50), snapshot.Stamp)
}
