package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSSink_PublishesEnvelope(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("swarmweaver.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink := NewNATSSink(nc, "swarmweaver.events", nil)
	bus := NewBus(nil)
	bus.Subscribe(sink.Handle)

	bus.Emit(HandoffEvent{
		Key:         chat.NewKey("C1", "1700.1"),
		FromAgentID: "manager",
		ToAgentID:   "developer",
		Reason:      "mention",
	})
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "swarmweaver.events.handoff.C1", msg.Subject)

	var env struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TypeHandoff, env.Type)

	var handoff HandoffEvent
	require.NoError(t, json.Unmarshal(env.Data, &handoff))
	assert.Equal(t, "developer", handoff.ToAgentID)
	assert.Equal(t, "1700.1", handoff.Key.ThreadID)
}

func TestNATSSink_Subject(t *testing.T) {
	sink := NewNATSSink(nil, "p", nil)
	assert.Equal(t, "p.error._", sink.Subject(ErrorEvent{}))
	assert.Equal(t, "p.loop_suspected.a_b_c", sink.Subject(LoopSuspectedEvent{Key: chat.NewKey("a.b c", "")}))
}

func TestNATSSink_ClosedConnectionDoesNotPanic(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	sink := NewNATSSink(nc, "p", nil)
	assert.NotPanics(t, func() { sink.Handle(ErrorEvent{Source: "x"}) })
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "_", SubjectToken(""))
	assert.Equal(t, "C_1_x_", SubjectToken("C.1*x>"))
}
