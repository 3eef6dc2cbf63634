package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-attendance/internal/domain"
)

// DefaultTimeout 单次定位超时
const DefaultTimeout = 10 * time.Second

var (
	// ErrLocationUnavailable 定位失败（无能力/拒绝授权/超时统一为此错误）
	ErrLocationUnavailable = errors.New("location unavailable")

	ErrNoCapability     = errors.New("no geolocation capability")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrInvalidFix       = errors.New("invalid location fix")
)

// Locator 平台定位源：单次、高精度、不使用缓存位置
type Locator interface {
	CurrentPosition(ctx context.Context) (domain.Coordinate, error)
}

// LocatorFunc 函数适配器
type LocatorFunc func(ctx context.Context) (domain.Coordinate, error)

func (f LocatorFunc) CurrentPosition(ctx context.Context) (domain.Coordinate, error) {
	return f(ctx)
}

// Acquire 带超时的单次定位，任何失败都映射为 ErrLocationUnavailable，不做内部重试
func Acquire(ctx context.Context, locator Locator, timeout time.Duration) (domain.Coordinate, error) {
	if locator == nil {
		return domain.Coordinate{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ErrNoCapability)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		coord domain.Coordinate
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := locator.CurrentPosition(ctx)
		ch <- result{coord: c, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return domain.Coordinate{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, r.err)
		}
		if !ValidCoordinate(r.coord) {
			return domain.Coordinate{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ErrInvalidFix)
		}
		return r.coord, nil
	case <-ctx.Done():
		return domain.Coordinate{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
	}
}

// StaticLocator 固定坐标（已知安装位置的考勤机、测试）
type StaticLocator struct {
	Coord domain.Coordinate
}

func (l StaticLocator) CurrentPosition(context.Context) (domain.Coordinate, error) {
	return l.Coord, nil
}

type reportedFixKey struct{}

type reportedFix struct {
	coord  *domain.Coordinate
	denied string
}

// WithReportedFix 附加 UI 端（浏览器 geolocation）上报的定位结果
func WithReportedFix(ctx context.Context, c domain.Coordinate) context.Context {
	return context.WithValue(ctx, reportedFixKey{}, reportedFix{coord: &c})
}

// WithReportedDenial UI 端上报定位失败（拒绝授权/无能力/超时）
func WithReportedDenial(ctx context.Context, reason string) context.Context {
	if reason == "" {
		reason = "denied"
	}
	return context.WithValue(ctx, reportedFixKey{}, reportedFix{denied: reason})
}

// ContextLocator 优先使用请求上下文中的定位结果，否则回退到 Fallback
type ContextLocator struct {
	Fallback Locator
}

func (l ContextLocator) CurrentPosition(ctx context.Context) (domain.Coordinate, error) {
	if fix, ok := ctx.Value(reportedFixKey{}).(reportedFix); ok {
		if fix.coord != nil {
			return *fix.coord, nil
		}
		return domain.Coordinate{}, fmt.Errorf("%w (%s)", ErrPermissionDenied, fix.denied)
	}
	if l.Fallback != nil {
		return l.Fallback.CurrentPosition(ctx)
	}
	return domain.Coordinate{}, ErrNoCapability
}
