package acquirer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestExecutor(maxRetries int) (*Executor, *[]time.Duration) {
	executor := NewExecutor(maxRetries, 2*time.Second, zerolog.Nop())
	delays := &[]time.Duration{}
	executor.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return executor, delays
}

func TestExecutorSucceedsAfterTransientFailures(t *testing.T) {
	executor, delays := newTestExecutor(3)

	calls := 0
	resets := 0
	err := executor.Do(context.Background(), "acquire", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout waiting for report")
		}
		return nil
	}, func(ctx context.Context) error {
		resets++
		return nil
	})

	if err != nil {
		t.Fatalf("瞬时失败后应最终成功: %v", err)
	}
	if calls != 3 {
		t.Fatalf("期望 3 次调用, 实际 %d", calls)
	}
	if resets != 2 {
		t.Fatalf("每次重试前应重置会话, 实际 %d 次", resets)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("退避次数不正确: %v", *delays)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("第 %d 次退避应为 %v, 实际 %v", i+1, d, (*delays)[i])
		}
	}
}

func TestExecutorStopsOnNonRetryableMarker(t *testing.T) {
	executor, delays := newTestExecutor(5)

	calls := 0
	err := executor.Do(context.Background(), "acquire", func(ctx context.Context) error {
		calls++
		return errors.New("session deleted because of page crash")
	}, nil)

	if err == nil {
		t.Fatal("致命错误应向上返回")
	}
	if calls != 1 {
		t.Fatalf("致命错误不应重试, 实际调用 %d 次", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("致命错误不应退避: %v", *delays)
	}
}

func TestExecutorStopsOnMarkedError(t *testing.T) {
	executor, _ := newTestExecutor(5)

	calls := 0
	base := errors.New("login rejected")
	err := executor.Do(context.Background(), "acquire", func(ctx context.Context) error {
		calls++
		return MarkNonRetryable(base)
	}, nil)

	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("应返回不可重试错误: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("包装后仍应能匹配原始错误")
	}
	if calls != 1 {
		t.Fatalf("标记错误不应重试, 实际 %d 次", calls)
	}
}

func TestExecutorExhaustsRetries(t *testing.T) {
	executor, _ := newTestExecutor(2)

	calls := 0
	err := executor.Do(context.Background(), "acquire", func(ctx context.Context) error {
		calls++
		return errors.New("flaky portal")
	}, nil)

	if err == nil {
		t.Fatal("重试耗尽后应返回错误")
	}
	if calls != 3 {
		t.Fatalf("maxRetries=2 应共调用 3 次, 实际 %d", calls)
	}
}

func TestExecutorHonoursContextCancel(t *testing.T) {
	executor, _ := newTestExecutor(5)
	executor.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := executor.Do(ctx, "acquire", func(ctx context.Context) error {
		return errors.New("flaky portal")
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled: %v", err)
	}
}
