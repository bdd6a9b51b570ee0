// ABOUTME: Tests for the fake backend over a real websocket
// ABOUTME: Each test dials an httptest server and exchanges protocol envelopes

package fakebackend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chorus/internal/auth"
	"github.com/2389/coven-chorus/internal/protocol"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Generator == nil {
		opts.Generator = MockGenerator{}
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ protocol.Type, data any) {
	t.Helper()
	raw, err := protocol.Encode(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func read(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

func readType(t *testing.T, conn *websocket.Conn, typ protocol.Type) *protocol.Envelope {
	t.Helper()
	for range 50 {
		env := read(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s envelope received", typ)
	return nil
}

func registerPersona(t *testing.T, conn *websocket.Conn, id, name string) {
	t.Helper()
	send(t, conn, protocol.TypeRegisterPersona, protocol.RegisterPersonaCommand{
		Persona: protocol.Persona{ID: id, Name: name, ModelID: "m1"},
	})
	env := readType(t, conn, protocol.TypePersonaRegistered)
	ack, err := protocol.Payload[protocol.PersonaRegistered](env)
	require.NoError(t, err)
	assert.Equal(t, id, ack.PersonaID)
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "running", body["status"])
}

func TestStartAndRoundRobin(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts, nil)

	registerPersona(t, conn, "p1", "Skeptic")
	registerPersona(t, conn, "p2", "Optimist")

	send(t, conn, protocol.TypeMultiAgentStart, protocol.StartCommand{
		ConversationID: "c1",
		Participants:   []string{"p1", "p2"},
		InitialMessage: &protocol.Message{ID: "m0", ConversationID: "c1", SenderType: "user", Content: "hello"},
	})
	started, err := protocol.Payload[protocol.MultiAgentStarted](readType(t, conn, protocol.TypeMultiAgentStarted))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, started.Participants)

	var speakers []string
	for range 3 {
		send(t, conn, protocol.TypeNextTurn, protocol.NextTurnCommand{ConversationID: "c1"})
		next, err := protocol.Payload[protocol.NextTurn](readType(t, conn, protocol.TypeNextTurn))
		require.NoError(t, err)
		speakers = append(speakers, next.NextSpeakerID)
		assert.Equal(t, "User: hello", next.Context)
	}
	assert.Equal(t, []string{"p1", "p2", "p1"}, speakers)
}

func TestNextTurn_PersonaNotFound(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypeMultiAgentStart, protocol.StartCommand{ConversationID: "c1", Participants: []string{"p9"}})
	readType(t, conn, protocol.TypeMultiAgentStarted)

	send(t, conn, protocol.TypeNextTurn, protocol.NextTurnCommand{ConversationID: "c1"})
	nf, err := protocol.Payload[protocol.PersonaNotFound](readType(t, conn, protocol.TypePersonaNotFound))
	require.NoError(t, err)
	assert.Equal(t, "p9", nf.NextSpeakerID)
}

func TestNextTurn_NoParticipants(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypeNextTurn, protocol.NextTurnCommand{ConversationID: "unknown"})
	env := readType(t, conn, protocol.TypeNoNextSpeaker)
	assert.Equal(t, "unknown", env.Field("conversation_id").String())
}

func TestGenerate_StreamsTopLevelFrames(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypeGenerateMessage, protocol.GenerateCommand{
		ConversationID: "c1",
		PersonaID:      "p1",
		Content:        "is tea better than coffee",
	})

	started, err := protocol.Payload[protocol.GenerationStarted](readType(t, conn, protocol.TypeGenerationStarted))
	require.NoError(t, err)
	require.NotEmpty(t, started.MessageID)

	var chunks strings.Builder
	var complete *protocol.Envelope
	for complete == nil {
		env := read(t, conn)
		switch env.Type {
		case protocol.TypeMessageChunk:
			chunk, err := protocol.Payload[protocol.MessageChunk](env)
			require.NoError(t, err)
			assert.Equal(t, started.MessageID, chunk.MessageID)
			chunks.WriteString(chunk.Chunk)
		case protocol.TypeMessageComplete:
			complete = env
		}
	}

	done, err := protocol.Payload[protocol.MessageComplete](complete)
	require.NoError(t, err)
	assert.Equal(t, started.MessageID, done.Message.ID)
	assert.Equal(t, "p1", done.Message.SenderID)
	assert.Equal(t, strings.TrimSpace(chunks.String()), done.Message.Content)
	assert.True(t, strings.HasPrefix(done.Message.Content, "This is a mock response to: is tea better"))
	assert.Contains(t, s.State().Context("c1"), "p1: This is a mock response")
}

func TestGenerate_FailureSendsErrorWithDetails(t *testing.T) {
	_, ts := newTestServer(t, Options{
		Generator: GeneratorFunc(func(context.Context, protocol.GenerateCommand, func(string) error) (string, error) {
			return "", assert.AnError
		}),
	})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypeGenerateMessage, protocol.GenerateCommand{ConversationID: "c1", PersonaID: "p1"})
	started, err := protocol.Payload[protocol.GenerationStarted](readType(t, conn, protocol.TypeGenerationStarted))
	require.NoError(t, err)

	ev := protocol.DecodeError(readType(t, conn, protocol.TypeError))
	assert.Equal(t, "Failed to generate message", ev.Message)
	assert.Equal(t, started.MessageID, ev.MessageID)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestStopGeneration(t *testing.T) {
	blocked := make(chan struct{})
	_, ts := newTestServer(t, Options{
		Generator: GeneratorFunc(func(ctx context.Context, _ protocol.GenerateCommand, emit func(string) error) (string, error) {
			_ = emit("thinking ")
			close(blocked)
			<-ctx.Done()
			return "", ctx.Err()
		}),
	})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypeGenerateMessage, protocol.GenerateCommand{ConversationID: "c1", PersonaID: "p1"})
	started, err := protocol.Payload[protocol.GenerationStarted](readType(t, conn, protocol.TypeGenerationStarted))
	require.NoError(t, err)
	<-blocked

	send(t, conn, protocol.TypeStopGeneration, protocol.StopCommand{ConversationID: "c1", MessageID: started.MessageID})
	stopped, err := protocol.Payload[protocol.GenerationStopped](readType(t, conn, protocol.TypeGenerationStopped))
	require.NoError(t, err)
	assert.Equal(t, started.MessageID, stopped.MessageID)
}

func TestPingAndUnknownType(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	conn := dial(t, ts, nil)

	send(t, conn, protocol.TypePing, nil)
	pong := readType(t, conn, protocol.TypePong)
	assert.Positive(t, pong.Field("timestamp").Int())

	send(t, conn, protocol.Type("dance"), nil)
	ev := protocol.DecodeError(readType(t, conn, protocol.TypeError))
	assert.Equal(t, "Unknown message type: dance", ev.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = protocol.DecodeError(readType(t, conn, protocol.TypeError))
	assert.Equal(t, "Invalid JSON", ev.Message)
}

func TestWebsocketRequiresBearer(t *testing.T) {
	signer, err := auth.NewSigner([]byte("test-secret"))
	require.NoError(t, err)
	_, ts := newTestServer(t, Options{Verifier: signer})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	token, err := signer.Generate("chorus", time.Hour)
	require.NoError(t, err)
	conn := dial(t, ts, http.Header{"Authorization": []string{"Bearer " + token}})
	send(t, conn, protocol.TypePing, nil)
	readType(t, conn, protocol.TypePong)
}

func TestRotation(t *testing.T) {
	var r Rotation
	_, err := r.Next(nil)
	assert.ErrorIs(t, err, ErrNoParticipants)

	got := make([]string, 0, 4)
	for range 4 {
		p, err := r.Next([]string{"a", "b", "c"})
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}
