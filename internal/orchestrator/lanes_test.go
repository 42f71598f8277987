package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcher_OrderWithinLane(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	d := NewDispatcher(8, func(_ context.Context, msg chat.MessageReceived) *Turn {
		mu.Lock()
		seen = append(seen, msg.Content)
		mu.Unlock()
		return &Turn{Message: msg, Phase: PhaseDelivered}
	})

	var chans []<-chan *Turn
	for _, c := range []string{"a", "b", "c", "d"} {
		ch, err := d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C1", Content: c})
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		turn, ok := <-ch
		require.True(t, ok)
		assert.Equal(t, PhaseDelivered, turn.Phase)
		_, ok = <-ch
		assert.False(t, ok, "done channel is closed after the turn")
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, d.Lanes())
}

func TestDispatcher_LanesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	d := NewDispatcher(1, func(_ context.Context, msg chat.MessageReceived) *Turn {
		started <- msg.ChannelID
		<-release
		return &Turn{}
	})

	_, err := d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C1"})
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C2"})
	require.NoError(t, err)

	got := map[string]bool{<-started: true, <-started: true}
	assert.Equal(t, map[string]bool{"C1": true, "C2": true}, got)
	assert.Equal(t, 2, d.Lanes())

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, d.Lanes())
}

func TestDispatcher_ThreadsAreSeparateLanes(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(1, func(_ context.Context, _ chat.MessageReceived) *Turn {
		<-release
		return &Turn{}
	})
	defer func() {
		close(release)
		require.NoError(t, d.Close(context.Background()))
	}()

	for _, thread := range []string{"", "t1", "t2"} {
		_, err := d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C1", ThreadID: thread})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, d.Lanes())
}

func TestDispatcher_LaneFull(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{}, 1)
	d := NewDispatcher(1, func(_ context.Context, _ chat.MessageReceived) *Turn {
		running <- struct{}{}
		<-release
		return &Turn{}
	})
	msg := chat.MessageReceived{ChannelID: "C1"}

	_, err := d.Submit(context.Background(), msg)
	require.NoError(t, err)
	<-running

	// one queued behind the running turn, the next is rejected
	_, err = d.Submit(context.Background(), msg)
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), msg)
	assert.ErrorIs(t, err, ErrLaneFull)

	close(release)
	<-running
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_CloseRejectsAndWaits(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(4, func(_ context.Context, _ chat.MessageReceived) *Turn {
		<-release
		return &Turn{}
	})
	_, err := d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	_, err = d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C2"})
	assert.ErrorIs(t, err, ErrClosed)

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_WorkerRestartsAfterDrain(t *testing.T) {
	d := NewDispatcher(1, func(_ context.Context, msg chat.MessageReceived) *Turn {
		return &Turn{Message: msg}
	})
	for i := 0; i < 3; i++ {
		ch, err := d.Submit(context.Background(), chat.MessageReceived{ChannelID: "C1"})
		require.NoError(t, err)
		<-ch
		require.Eventually(t, func() bool { return d.Lanes() == 0 }, time.Second, time.Millisecond)
	}
	require.NoError(t, d.Close(context.Background()))
}
