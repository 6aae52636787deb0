package events

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscribeSendsExactlyOneStatus(t *testing.T) {
	d := NewDistributor(8)
	d.SetSnapshotSource(func() models.StatusView {
		return models.StatusView{Status: "idle", Platform: models.PlatformIntel}
	})

	sub, err := d.Subscribe("viewer-1")
	require.NoError(t, err)

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeStatus, evs[0].Type)
	view, ok := evs[0].Data.(models.StatusView)
	require.True(t, ok)
	assert.Equal(t, "idle", view.Status)
}

func TestSubscribeDuplicateAndClosed(t *testing.T) {
	d := NewDistributor(4)

	_, err := d.Subscribe("a")
	require.NoError(t, err)

	_, err = d.Subscribe("a")
	assert.ErrorIs(t, err, ErrSubscriberExists)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "close is idempotent")

	_, err = d.Subscribe("b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	d := NewDistributor(4)
	sub, err := d.Subscribe("a")
	require.NoError(t, err)

	require.NoError(t, d.Unsubscribe("a"))
	_, ok := <-sub.Events()
	assert.False(t, ok)

	assert.ErrorIs(t, d.Unsubscribe("a"), ErrSubscriberNotFound)
}

func TestPublishFIFOPerSubscriber(t *testing.T) {
	d := NewDistributor(16)
	sub, err := d.Subscribe("a")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		d.Publish(TypeProgress, Progress{JobID: "j", CurrentStep: i, TotalSteps: 5})
	}

	evs := drain(sub)
	require.Len(t, evs, 5)
	for i, ev := range evs {
		p := ev.Data.(Progress)
		assert.Equal(t, i+1, p.CurrentStep)
		if i > 0 {
			assert.Greater(t, ev.Seq, evs[i-1].Seq)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	d := NewDistributor(3)
	slow, err := d.Subscribe("slow")
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		d.Publish(TypeProgress, Progress{CurrentStep: i})
	}

	evs := drain(slow)
	require.Len(t, evs, 3)
	assert.Equal(t, 8, evs[0].Data.(Progress).CurrentStep)
	assert.Equal(t, 10, evs[2].Data.(Progress).CurrentStep)

	stats := d.Stats()
	assert.Equal(t, uint64(10), stats.Published)
	assert.Equal(t, uint64(7), stats.Subscribers["slow"].Dropped)
	assert.Equal(t, uint64(10), stats.Subscribers["slow"].Sent)
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	d := NewDistributor(2)
	slow, err := d.Subscribe("slow")
	require.NoError(t, err)
	fast, err := d.Subscribe("fast")
	require.NoError(t, err)

	var got []int
	for i := 1; i <= 6; i++ {
		d.Publish(TypeProgress, Progress{CurrentStep: i})
		for _, ev := range drain(fast) {
			got = append(got, ev.Data.(Progress).CurrentStep)
		}
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
	assert.Len(t, drain(slow), 2)
}

func TestResyncTargetsOneSubscriber(t *testing.T) {
	d := NewDistributor(8)
	d.SetSnapshotSource(func() models.StatusView { return models.StatusView{Status: "active"} })

	a, err := d.Subscribe("a")
	require.NoError(t, err)
	b, err := d.Subscribe("b")
	require.NoError(t, err)
	drain(a)
	drain(b)

	require.NoError(t, d.Resync("a"))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))

	assert.ErrorIs(t, d.Resync("nobody"), ErrSubscriberNotFound)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	d := NewDistributor(4)
	require.NoError(t, d.Close())
	assert.NotPanics(t, func() { d.Publish(TypeTelemetry, models.Telemetry{}) })
	assert.Zero(t, d.Stats().Published)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	d := NewDistributor(DefaultBuffer)
	d.SetSnapshotSource(func() models.StatusView { return models.StatusView{} })

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				d.Publish(TypeTelemetry, models.Telemetry{CPU: 10})
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("viewer-%d", i)
			sub, err := d.Subscribe(id)
			if assert.NoError(t, err) {
				drain(sub)
				assert.NoError(t, d.Unsubscribe(id))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(400), d.Stats().Published)
	assert.Zero(t, d.SubscriberCount())
}
