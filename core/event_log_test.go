package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmicwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_KeepsLastCapacityInOrder(t *testing.T) {
	log := NewEventLog(EventLogOptions{Capacity: 10})
	for i := 0; i < 25; i++ {
		log.Record(models.Event{Message: fmt.Sprintf("event %d", i)})
	}

	events := log.Snapshot()
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("event %d", i+15), ev.Message)
	}
	assert.Equal(t, 10, log.Len())
	_, ok := log.Get(events[0].ID)
	assert.True(t, ok)
}

func TestEventLog_Defaults(t *testing.T) {
	log := NewEventLog(EventLogOptions{SessionID: "session_test"})
	ev := log.Record(models.Event{})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "session_test", ev.SessionID)
	assert.Equal(t, models.LevelInfo, ev.Level)
	assert.Equal(t, models.CategoryLifecycle, ev.Category)
	assert.Equal(t, "(no message)", ev.Message)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Nil(t, ev.Validation)
}

func TestEventLog_NormalizesAndStampsContext(t *testing.T) {
	log := NewEventLog(EventLogOptions{
		Context: func() (string, string) { return "https://app.example/dashboard", "test-agent" },
	})
	ev := log.Record(models.Event{Level: "ERROR", Category: " API ", URL: "https://other"})

	assert.Equal(t, models.LevelError, ev.Level)
	assert.Equal(t, "api", ev.Category)
	assert.Equal(t, "https://other", ev.URL)
	assert.Equal(t, "test-agent", ev.UserAgent)
}

func TestEventLog_UniqueIDs(t *testing.T) {
	log := NewEventLog(EventLogOptions{})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ev := log.Record(models.Event{Message: "x"})
		require.False(t, seen[ev.ID])
		seen[ev.ID] = true
	}
}

func TestEventLog_ComputesVerdict(t *testing.T) {
	log := NewEventLog(EventLogOptions{})

	ev := log.Record(models.Event{Component: "Login", Action: "form.submit", ActionType: "api_call", Message: "ok"})
	require.NotNil(t, ev.Validation)
	assert.Equal(t, models.VerdictOK, ev.Validation.Status)
	assert.Equal(t, models.VerdictOK, ev.ValidationStatus)

	ev = log.Record(models.Event{Component: "Ghost", Action: "boo"})
	require.NotNil(t, ev.Validation)
	assert.Equal(t, models.VerdictUnknown, ev.Validation.Status)

	supplied := &models.Verdict{Status: models.VerdictWarning, Message: "slow"}
	ev = log.Record(models.Event{Component: "Login", Action: "mount", Validation: supplied})
	assert.Equal(t, "slow", ev.Validation.Message)

	ev = log.Record(models.Event{Component: "Login"})
	assert.Nil(t, ev.Validation)
}

func TestEventLog_TimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(time.Second), base.Add(-time.Minute), base.Add(2 * time.Second)}
	i := 0
	log := NewEventLog(EventLogOptions{Now: func() time.Time {
		ts := clock[i]
		i++
		return ts
	}})

	for range clock {
		log.Record(models.Event{Message: "tick"})
	}
	events := log.Snapshot()
	for j := 1; j < len(events); j++ {
		assert.False(t, events[j].Timestamp.Before(events[j-1].Timestamp), "event %d went backwards", j)
	}
	assert.Equal(t, base.Add(time.Second), events[2].Timestamp)
}

func TestEventLog_DurableQueueIsCapped(t *testing.T) {
	store := NewMemoryStorage()
	log := NewEventLog(EventLogOptions{Storage: store, DurableCapacity: 5, Capacity: 50})
	for i := 0; i < 12; i++ {
		log.Record(models.Event{Message: fmt.Sprintf("e%d", i), Fields: map[string]any{"n": i}})
	}

	queue := log.DurableQueue()
	require.Len(t, queue, 5)
	assert.Equal(t, "e7", queue[0].Message)
	assert.Equal(t, "e11", queue[4].Message)
	assert.EqualValues(t, 11, queue[4].Fields["n"])
	assert.Equal(t, 12, log.Len())

	require.NoError(t, store.Remove(DurableQueueKey))
	log.Record(models.Event{Message: "fresh"})
	queue = log.DurableQueue()
	require.Len(t, queue, 1)
	assert.Equal(t, "fresh", queue[0].Message)
}

func TestEventLog_CorruptDurableQueueIsReset(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(DurableQueueKey, "{not json"))
	log := NewEventLog(EventLogOptions{Storage: store})

	assert.NotPanics(t, func() { log.Record(models.Event{Message: "after corruption"}) })
	require.Len(t, log.DurableQueue(), 1)
}

func TestEventLog_QueryFiltersAndIsRestartable(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	log := NewEventLog(EventLogOptions{Now: func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}})

	log.Record(models.Event{Component: "Journal", Level: models.LevelInfo, Message: "a"})
	log.Record(models.Event{Component: "Journal", Level: models.LevelError, Message: "b"})
	log.Record(models.Event{Component: "Dashboard", Level: models.LevelError, Message: "c"})
	log.Record(models.Event{Component: "Journal", Level: models.LevelWarn, Message: "d"})

	seq := log.Query(EventFilter{Component: "Journal"})
	var first, second []string
	for ev := range seq {
		first = append(first, ev.Message)
	}
	log.Record(models.Event{Component: "Journal", Message: "late"})
	for ev := range seq {
		second = append(second, ev.Message)
	}
	assert.Equal(t, []string{"a", "b", "d"}, first)
	assert.Equal(t, first, second)

	var errs []string
	for ev := range log.Query(EventFilter{Level: models.LevelError}) {
		errs = append(errs, ev.Message)
	}
	assert.Equal(t, []string{"b", "c"}, errs)

	var window []string
	for ev := range log.Query(EventFilter{Since: base.Add(2 * time.Minute), Until: base.Add(3 * time.Minute)}) {
		window = append(window, ev.Message)
	}
	assert.Equal(t, []string{"b", "c"}, window)

	latest := log.Collect(EventFilter{Component: "Journal"}, 2)
	require.Len(t, latest, 2)
	assert.Equal(t, "late", latest[0].Message)
}

func TestEventLog_QueryStopsEarly(t *testing.T) {
	log := NewEventLog(EventLogOptions{})
	for i := 0; i < 5; i++ {
		log.Record(models.Event{Message: "x"})
	}
	count := 0
	for range log.Query(EventFilter{}) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestEventLog_ConcurrentRecord(t *testing.T) {
	log := NewEventLog(EventLogOptions{Capacity: 100})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Record(models.Event{Component: fmt.Sprintf("C%d", w), Message: "m"})
			}
		}(w)
	}
	wg.Wait()

	events := log.Snapshot()
	require.Len(t, events, 100)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestEventLog_DurableQueueMatchesBufferOrder(t *testing.T) {
	log := NewEventLog(EventLogOptions{Capacity: 200, DurableCapacity: 200})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				log.Record(models.Event{Component: fmt.Sprintf("C%d", w), Message: fmt.Sprintf("m%d", i)})
			}
		}(w)
	}
	wg.Wait()

	buffered := log.Snapshot()
	durable := log.DurableQueue()
	require.Len(t, buffered, 200)
	require.Len(t, durable, 200)
	for i := range buffered {
		require.Equal(t, buffered[i].ID, durable[i].ID, "position %d", i)
	}
}

func TestEventLog_SubscribeAndClear(t *testing.T) {
	log := NewEventLog(EventLogOptions{})
	var got []string
	unsubscribe := log.Subscribe(func(ev models.Event) { got = append(got, ev.Message) })
	log.Subscribe(func(models.Event) { panic("bad subscriber") })

	log.Record(models.Event{Message: "one"})
	unsubscribe()
	log.Record(models.Event{Message: "two"})

	assert.Equal(t, []string{"one"}, got)

	log.Clear()
	assert.Equal(t, 0, log.Len())
	assert.NotEmpty(t, log.DurableQueue())
}
