package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "a:"+e.Type()) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+e.Type()) })

	bus.Emit(HandoffEvent{Key: chat.NewKey("C1", "")})
	assert.Equal(t, []string{"a:handoff", "b:handoff"}, got)
}

func TestBus_RecoversPanickingHandler(t *testing.T) {
	tl := logging.NewTestLogger()
	bus := NewBus(tl.Logger)
	rec := &Recorder{}
	bus.Subscribe(func(Event) { panic("observer bug") })
	bus.Subscribe(rec.Emit)

	require.NotPanics(t, func() { bus.Emit(ErrorEvent{Source: "test"}) })
	assert.Len(t, rec.Events(), 1)
	tl.AssertLogged(t, zapcore.ErrorLevel, "event handler panicked")
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(HandoffEvent{})
	rec.Emit(LoopSuspectedEvent{Action: "x"})
	rec.Emit(HandoffEvent{})

	assert.Len(t, rec.OfType(TypeHandoff), 2)
	assert.Len(t, rec.OfType(TypeLoopSuspected), 1)
	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestEventTypes(t *testing.T) {
	key := chat.NewKey("C1", "t1")
	for _, e := range []Event{
		HandoffEvent{Key: key},
		WorkflowTransitionEvent{Key: key},
		FunctionCalledEvent{Key: key},
		ErrorEvent{Key: key},
		LoopSuspectedEvent{Key: key},
		MessageProcessedEvent{Key: key},
	} {
		assert.NotEmpty(t, e.Type())
		assert.Equal(t, key, e.Conversation())
	}
	Nop{}.Emit(HandoffEvent{})
}
