package progress

import (
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func TestTrackerTryStartSingleFlight(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	if !tracker.TryStart() {
		t.Fatal("空闲状态下 TryStart 应成功")
	}
	if tracker.TryStart() {
		t.Fatal("运行中重复 TryStart 应被拒绝")
	}

	tracker.Finish(true, "")
	if !tracker.TryStart() {
		t.Fatal("结束后应允许再次启动")
	}
}

func TestTrackerVersionMonotonic(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	last := tracker.Version()
	tracker.TryStart()
	mutations := []func(){
		func() { tracker.Advance(StepLogin, "") },
		func() { tracker.Advance(StepNavigate, "") },
		func() { tracker.CompleteStep(StepNavigate, "ok") },
		func() { tracker.Finish(true, "") },
	}
	for i, mutate := range mutations {
		mutate()
		current := tracker.Version()
		if current <= last {
			t.Fatalf("第 %d 次变更后版本应递增: %d -> %d", i, last, current)
		}
		last = current
	}
}

func TestTrackerAdvanceAutoCompletesRunning(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	tracker.TryStart()
	tracker.Advance(StepLogin, "")
	tracker.Advance(StepNavigate, "")

	state := tracker.Snapshot()
	var login, navigate Step
	for _, step := range state.Steps {
		switch step.Key {
		case StepLogin:
			login = step
		case StepNavigate:
			navigate = step
		}
	}
	if login.Status != StepCompleted {
		t.Fatalf("推进下一步时 login 应自动完成, 实际 %s", login.Status)
	}
	if navigate.Status != StepRunning {
		t.Fatalf("navigate 应处于 running, 实际 %s", navigate.Status)
	}
}

func TestTrackerFinishFailureFlagsRunningStep(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	tracker.TryStart()
	tracker.Advance(StepChance, "")
	tracker.Finish(false, "portal timeout")

	state := tracker.Snapshot()
	if state.Active {
		t.Fatal("结束后 Active 应为 false")
	}
	if state.Success == nil || *state.Success {
		t.Fatal("失败结束时 Success 应为 false")
	}
	if state.Error != "portal timeout" {
		t.Fatalf("错误信息不正确: %q", state.Error)
	}
	for _, step := range state.Steps {
		if step.Key == StepChance {
			if step.Status != StepError {
				t.Fatalf("失败步骤状态应为 error, 实际 %s", step.Status)
			}
			if step.Detail != "portal timeout" {
				t.Fatalf("失败步骤应携带错误详情: %q", step.Detail)
			}
		}
		if step.Key == StepRuleta && step.Status != StepPending {
			t.Fatalf("失败时后续步骤应保持 pending, 实际 %s", step.Status)
		}
	}
}

func TestTrackerFinishSuccessCompletesAll(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	tracker.TryStart()
	tracker.Advance(StepLogin, "")
	tracker.Finish(true, "")

	state := tracker.Snapshot()
	for _, step := range state.Steps {
		if step.Status != StepCompleted {
			t.Fatalf("成功结束后步骤 %s 应为 completed, 实际 %s", step.Key, step.Status)
		}
	}
}

func TestTrackerSnapshotIsolated(t *testing.T) {
	tracker := NewTracker()
	tracker.now = fixedClock()

	tracker.TryStart()
	state := tracker.Snapshot()
	state.Steps[0].Status = StepError
	state.Steps[0].Detail = "mutated"

	fresh := tracker.Snapshot()
	if fresh.Steps[0].Status != StepPending || fresh.Steps[0].Detail != "" {
		t.Fatal("修改快照不应影响跟踪器内部状态")
	}
}
