package lazy_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinschleiss/typeorm/lazy"
)

type photo struct {
	ID  uint
	URL string
}

func TestConsultLoadsOnce(t *testing.T) {
	var calls int32
	rel := &lazy.Relation[[]*photo]{}
	rel.Bind(func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return []*photo{{ID: 1, URL: "photo-1.jpg"}}, nil
	})

	assert.False(t, rel.IsLoaded())

	photos, err := rel.Consult(context.Background())
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, uint(1), photos[0].ID)
	assert.True(t, rel.IsLoaded())

	again, err := rel.Consult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, photos, again)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "resolved handle must not reload")
}

func TestConcurrentConsultSingleFlight(t *testing.T) {
	var calls int32
	rel := &lazy.Relation[*photo]{}
	rel.Bind(func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return &photo{ID: 7}, nil
	})

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*photo, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rel.Consult(context.Background())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "concurrent consultations must share one load")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestFailedLoadIsNotCached(t *testing.T) {
	boom := errors.New("connection reset")
	var calls int32
	rel := &lazy.Relation[*photo]{}
	rel.Bind(func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return &photo{ID: 3}, nil
	})

	_, err := rel.Consult(context.Background())
	require.ErrorIs(t, err, boom)
	assert.False(t, rel.IsLoaded(), "failed load must not mark the handle resolved")

	value, err := rel.Consult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(3), value.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestAssignSkipsLoader(t *testing.T) {
	rel := lazy.NewAssigned([]*photo{{ID: 9}})
	rel.Bind(func(ctx context.Context) (interface{}, error) {
		t.Fatal("assigned handle must not consult the loader")
		return nil, nil
	})

	assert.True(t, rel.IsLoaded())
	value, err := rel.Consult(context.Background())
	require.NoError(t, err)
	require.Len(t, value, 1)
	assert.Equal(t, uint(9), value[0].ID)

	cascade, ok := rel.CascadeValue()
	require.True(t, ok)
	assert.Equal(t, value, cascade)
}

func TestUnboundConsult(t *testing.T) {
	rel := &lazy.Relation[*photo]{}
	_, err := rel.Consult(context.Background())
	assert.ErrorIs(t, err, lazy.ErrUnbound)

	_, ok := rel.CascadeValue()
	assert.False(t, ok, "untouched handle must not cascade")
}

func TestInvalidate(t *testing.T) {
	rel := lazy.NewAssigned(&photo{ID: 5})
	rel.Invalidate()

	assert.False(t, rel.IsLoaded())
	_, err := rel.Consult(context.Background())
	assert.ErrorIs(t, err, lazy.ErrStaleHandle)

	_, ok := rel.Value()
	assert.False(t, ok)
}

func TestAssignWinsOverInflightLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	rel := &lazy.Relation[*photo]{}
	rel.Bind(func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return &photo{ID: 1}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rel.Consult(context.Background())
	}()

	<-started
	rel.Assign(&photo{ID: 2})
	close(release)
	<-done

	value, err := rel.Consult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), value.ID, "explicit assignment must survive a racing load")
}

func TestHandleTypeDiscovery(t *testing.T) {
	handleType := reflect.TypeOf(lazy.Relation[[]*photo]{})
	assert.True(t, lazy.IsHandleType(handleType))
	assert.False(t, lazy.IsHandleType(reflect.TypeOf(photo{})))

	valueType, ok := lazy.ValueTypeOf(handleType)
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf([]*photo{}), valueType)

	_, ok = lazy.ValueTypeOf(reflect.TypeOf(photo{}))
	assert.False(t, ok)
}
