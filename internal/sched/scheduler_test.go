package sched_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/streamsell/streamsell/internal/sched"
)

func TestScheduler_FiresAtTime(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule("o1", sched.KindExpiration, time.Now().Add(20*time.Millisecond), func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
	assert.False(t, s.Pending("o1", sched.KindExpiration), "fired job must be removed")
}

func TestScheduler_PastFireAtDispatchesImmediately(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule("o1", sched.KindExpiration, time.Now().Add(-time.Minute), func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past-due job was dropped")
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	var mu sync.Mutex
	fired := false
	s.Schedule("o1", sched.KindReminder, time.Now().Add(30*time.Millisecond), func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	s.Cancel("o1", sched.KindReminder)

	// cancelling an absent job is a no-op
	s.Cancel("o1", sched.KindReminder)
	s.CancelAll("missing-order")

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired, "cancelled job must not fire")
}

func TestScheduler_ReplacesJobOfSameKind(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	got := make(chan string, 2)
	s.Schedule("o1", sched.KindReminder, time.Now().Add(30*time.Millisecond), func() { got <- "first" })
	s.Schedule("o1", sched.KindReminder, time.Now().Add(40*time.Millisecond), func() { got <- "second" })

	select {
	case v := <-got:
		assert.Equal(t, "second", v)
	case <-time.After(time.Second):
		t.Fatal("replacement job did not fire")
	}
	select {
	case v := <-got:
		t.Fatalf("replaced job fired too: %s", v)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestScheduler_FiredJobDoesNotEvictReplacement(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	// race a just-fired timer's cleanup against a replacement of the same
	// key; the replacement must stay armed and cancellable
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("o%d", i)
		s.Schedule(id, sched.KindExpiration, time.Now().Add(time.Microsecond), func() {})
		s.Schedule(id, sched.KindExpiration, time.Now().Add(time.Hour), func() {
			t.Errorf("replacement job for %s must not fire", id)
		})
	}

	// let every first-round callback finish its cleanup
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("o%d", i)
		assert.True(t, s.Pending(id, sched.KindExpiration), "replacement for %s must stay armed", id)
		s.Cancel(id, sched.KindExpiration)
		assert.False(t, s.Pending(id, sched.KindExpiration))
	}
}

func TestScheduler_ReminderFiresBeforeExpiration(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	order := make(chan sched.Kind, 2)
	s.Schedule("o1", sched.KindReminder, time.Now().Add(20*time.Millisecond), func() { order <- sched.KindReminder })
	s.Schedule("o1", sched.KindExpiration, time.Now().Add(60*time.Millisecond), func() { order <- sched.KindExpiration })

	first := <-order
	second := <-order
	assert.Equal(t, sched.KindReminder, first)
	assert.Equal(t, sched.KindExpiration, second)
}

func TestScheduler_PanicInCallbackIsContained(t *testing.T) {
	s := sched.New()
	defer s.Stop()

	s.Schedule("o1", sched.KindReminder, time.Now(), func() { panic("boom") })

	fired := make(chan struct{})
	s.Schedule("o2", sched.KindReminder, time.Now().Add(20*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped working after a panicking callback")
	}
	assert.False(t, s.Pending("o1", sched.KindReminder))
}

func TestScheduler_StopRefusesNewJobs(t *testing.T) {
	s := sched.New()
	s.Stop()

	s.Schedule("o1", sched.KindExpiration, time.Now().Add(10*time.Millisecond), func() {
		t.Error("job scheduled after Stop must not fire")
	})
	time.Sleep(50 * time.Millisecond)
}
