package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-attendance/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_NilLocator(t *testing.T) {
	_, err := Acquire(context.Background(), nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}

func TestAcquire_Success(t *testing.T) {
	c, err := Acquire(context.Background(), StaticLocator{Coord: coord(40, -75)}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 40.0, c.Latitude)
}

func TestAcquire_DeniedMapsToUnavailable(t *testing.T) {
	l := LocatorFunc(func(context.Context) (domain.Coordinate, error) {
		return domain.Coordinate{}, ErrPermissionDenied
	})
	_, err := Acquire(context.Background(), l, time.Second)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}

func TestAcquire_TimeoutMapsToUnavailable(t *testing.T) {
	l := LocatorFunc(func(ctx context.Context) (domain.Coordinate, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return domain.Coordinate{}, ctx.Err()
	})
	start := time.Now()
	_, err := Acquire(context.Background(), l, 30*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquire_InvalidFix(t *testing.T) {
	_, err := Acquire(context.Background(), StaticLocator{Coord: coord(120, 0)}, time.Second)
	assert.True(t, errors.Is(err, ErrLocationUnavailable))
}

func TestContextLocator(t *testing.T) {
	fallback := StaticLocator{Coord: coord(1, 2)}
	l := ContextLocator{Fallback: fallback}

	// 无上报 -> 回退
	c, err := l.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Latitude)

	// 上报坐标优先
	ctx := WithReportedFix(context.Background(), coord(40, -75))
	c, err = l.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, c.Latitude)

	// 上报拒绝授权，不回退
	ctx = WithReportedDenial(context.Background(), "")
	_, err = l.CurrentPosition(ctx)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	// 无回退
	_, err = ContextLocator{}.CurrentPosition(context.Background())
	assert.True(t, errors.Is(err, ErrNoCapability))
}
