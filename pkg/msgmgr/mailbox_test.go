package msgmgr

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMailboxRejectsPostBeforeActivation(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	if err := owner.Post(newTestMessage(MailboxAddress{}, "early")); err != ErrInactiveMailbox {
		t.Errorf("post before activate = %v, want ErrInactiveMailbox", err)
	}
}

func TestMailboxRejectsPostAfterDeactivation(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	owner.Deactivate()

	if err := owner.Post(newTestMessage(MailboxAddress{}, "late")); err != ErrInactiveMailbox {
		t.Errorf("post after deactivate = %v, want ErrInactiveMailbox", err)
	}
}

func TestMailboxLocalPostAndDispatch(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	got := make(chan string, 1)
	owner.AddHandler(MsgIDTest1, func(msg Message) error {
		got <- msg.String()
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if err := owner.Post(newTestMessage(LocalAddress("sender"), "hello")); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	go func() {
		// One message, then deactivate to unblock the processor.
		time.Sleep(100 * time.Millisecond)
		owner.Deactivate()
	}()
	NewProcessor(nil, nil, nil).Process(owner, 1)

	select {
	case s := <-got:
		if want := "testMessage[hello]"; s != want {
			t.Errorf("handler observed %q, want %q", s, want)
		}
	default:
		t.Fatal("handler never ran")
	}
}

func TestMailboxAcquireReleaseDestroys(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	const n = 5
	handles := make([]*MailboxHandle, 0, n)
	for i := 0; i < n; i++ {
		handles = append(handles, owner.Acquire())
	}

	for _, h := range handles {
		h.Release()
	}
	if owner.mb.state.Load() != stateActivated {
		t.Fatalf("mailbox state = %s after balanced releases, want activated", owner.mb.stateName())
	}

	owner.Release()
	if owner.mb.state.Load() != stateDestroyed {
		t.Errorf("mailbox state = %s after final release, want destroyed", owner.mb.stateName())
	}
}

func TestMailboxDoubleReleasePanics(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	h := owner.Acquire()
	h.Release()

	defer func() {
		if recover() == nil {
			t.Error("second release should panic")
		}
		owner.Release()
	}()
	h.Release()
}

func TestMailboxQueueFullSurfacesToCaller(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{QueueDepth: 1})
	defer owner.Release()
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if err := owner.Post(newTestMessage(MailboxAddress{}, "a")); err != nil {
		t.Fatalf("first post failed: %v", err)
	}
	if err := owner.Post(newTestMessage(MailboxAddress{}, "b")); err != ErrQueueFull {
		t.Errorf("post past high-water mark = %v, want ErrQueueFull", err)
	}
}

func TestTimerFiresAndStampsExpiration(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	type observation struct {
		entered time.Time
		stamped time.Time
	}
	got := make(chan observation, 1)
	owner.AddHandler(MsgIDBaseTimer, func(msg Message) error {
		tm := msg.(*TimerMessage)
		got <- observation{entered: time.Now(), stamped: tm.ExpirationTime()}
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	const timeout = 200 * time.Millisecond
	t0 := time.Now()
	tm := NewTimerMessage(owner.Address(), 1, timeout, 0)
	if _, err := owner.ScheduleTimer(tm); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	go NewProcessor(nil, nil, nil).Process(owner, 1)
	defer owner.Deactivate()

	select {
	case obs := <-got:
		if elapsed := obs.entered.Sub(t0); elapsed < timeout {
			t.Errorf("handler entered after %v, want >= %v", elapsed, timeout)
		}
		if skew := obs.entered.Sub(obs.stamped); skew < 0 || skew > 200*time.Millisecond {
			t.Errorf("stamped expiration skew %v, want within 200ms of handler entry", skew)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestRecurringTimerReArms(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	var count atomic.Int32
	fired := make(chan struct{}, 16)
	owner.AddHandler(MsgIDBaseTimer, func(msg Message) error {
		count.Add(1)
		fired <- struct{}{}
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	tm := NewTimerMessage(owner.Address(), 1, 30*time.Millisecond, 30*time.Millisecond)
	if !tm.IsReusable() {
		t.Fatal("a recurring timer must be implicitly reusable")
	}
	id, err := owner.ScheduleTimer(tm)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	go NewProcessor(nil, nil, nil).Process(owner, 1)
	defer owner.Deactivate()

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf("expiration %d never arrived", i+1)
		}
	}
	if !owner.CancelTimer(id) {
		t.Error("cancel of an armed recurring timer should succeed")
	}
	if c := count.Load(); c < 3 {
		t.Errorf("handler count = %d, want >= 3", c)
	}
}

func TestCancelTimerPreventsExpiration(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	fired := make(chan struct{}, 1)
	owner.AddHandler(MsgIDBaseTimer, func(msg Message) error {
		fired <- struct{}{}
		return nil
	})
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	tm := NewTimerMessage(owner.Address(), 1, 150*time.Millisecond, 0)
	id, err := owner.ScheduleTimer(tm)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if !owner.CancelTimer(id) {
		t.Fatal("cancel of a pending timer should succeed")
	}

	go NewProcessor(nil, nil, nil).Process(owner, 1)
	defer owner.Deactivate()

	select {
	case <-fired:
		t.Error("canceled timer should not fire")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestTimerResourceExhaustion(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{MaxTimers: 1})
	defer owner.Release()
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	if _, err := owner.ScheduleTimer(NewTimerMessage(owner.Address(), 1, time.Hour, 0)); err != nil {
		t.Fatalf("first schedule failed: %v", err)
	}
	if _, err := owner.ScheduleTimer(NewTimerMessage(owner.Address(), 1, time.Hour, 0)); err != ErrTimerExhausted {
		t.Errorf("second schedule = %v, want ErrTimerExhausted", err)
	}
}

func TestHandlerReplacement(t *testing.T) {
	owner := NewLocalMailbox("M", MailboxConfig{})
	defer owner.Release()

	var first, second atomic.Int32
	owner.AddHandler(MsgIDTest1, func(Message) error { first.Add(1); return nil })
	owner.AddHandler(MsgIDTest1, func(Message) error { second.Add(1); return nil })
	if err := owner.Activate(); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	owner.Post(newTestMessage(MailboxAddress{}, "x"))
	go func() {
		time.Sleep(100 * time.Millisecond)
		owner.Deactivate()
	}()
	NewProcessor(nil, nil, nil).Process(owner, 1)

	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("duplicate bind should replace: first=%d second=%d", first.Load(), second.Load())
	}
}
