package history

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, max int) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "history.db"), max)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entryN(n int, base time.Time) Entry {
	return Entry{
		ID:             fmt.Sprintf("id-%d", n),
		Timestamp:      base.Add(time.Duration(n) * time.Millisecond),
		PredictedClass: fmt.Sprintf("entry-%d", n),
		Confidence:     0.9,
		AllPredictions: map[string]float32{"Normal": 0.9, "Covid": 0.1},
	}
}

func TestRecordEnforcesBound(t *testing.T) {
	s := openStore(t, 20)
	base := time.Now().UTC()

	for n := 1; n <= 25; n++ {
		require.NoError(t, s.Record(entryN(n, base)))
	}

	entries, err := s.List(100)
	require.NoError(t, err)
	require.Len(t, entries, 20)

	// entries 6..25 survive, newest first
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("entry-%d", 25-i), e.PredictedClass)
	}
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
}

func TestListLimit(t *testing.T) {
	s := openStore(t, 20)
	base := time.Now().UTC()
	for n := 1; n <= 10; n++ {
		require.NoError(t, s.Record(entryN(n, base)))
	}

	entries, err := s.List(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry-10", entries[0].PredictedClass)
	assert.Equal(t, "entry-8", entries[2].PredictedClass)

	entries, err = s.List(50)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	entries, err = s.List(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenBolt(path, 20)
	require.NoError(t, err)

	base := time.Now().UTC()
	require.NoError(t, s.Record(entryN(1, base)))
	require.NoError(t, s.Record(entryN(2, base)))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path, 20)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry-2", entries[0].PredictedClass)
	assert.Equal(t, map[string]float32{"Normal": 0.9, "Covid": 0.1}, entries[0].AllPredictions)
}

func TestConcurrentRecordsKeepBound(t *testing.T) {
	s := openStore(t, 10)
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.Record(entryN(n, base)))
		}(n)
	}
	wg.Wait()

	entries, err := s.List(1000)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestListConcurrentWithWriter(t *testing.T) {
	s := openStore(t, 10)
	base := time.Now().UTC()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 0; n < 30; n++ {
			assert.NoError(t, s.Record(entryN(n, base)))
		}
	}()

	for i := 0; i < 20; i++ {
		entries, err := s.List(100)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(entries), 10)
	}
	<-done
}

func TestOpenBoltRejectsNonPositiveBound(t *testing.T) {
	_, err := OpenBolt(filepath.Join(t.TempDir(), "history.db"), 0)
	require.Error(t, err)
}

func TestThumbnailFitsBound(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 600; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 40, 255})
		}
	}

	uri, err := Thumbnail(img)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/jpeg;base64,"))
}

func TestThumbnailNilImage(t *testing.T) {
	_, err := Thumbnail(nil)
	require.Error(t, err)
}
