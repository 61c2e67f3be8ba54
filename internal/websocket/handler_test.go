package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"medrelay/internal/appointment"
	"medrelay/internal/auth"
	"medrelay/internal/conversation"
	"medrelay/internal/hub"
	"medrelay/internal/presence"
	"medrelay/internal/router"
	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// Mock implementations for testing
type stubVerifier struct {
	identities map[string]types.Identity
	err        error
}

func (s *stubVerifier) Authenticate(ctx context.Context, rawToken string) (types.Identity, error) {
	if s.err != nil {
		return types.Identity{}, s.err
	}
	if rawToken == "" {
		return types.Identity{}, auth.ErrMissingToken
	}
	identity, ok := s.identities[rawToken]
	if !ok {
		return types.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

type recordingDispatcher struct {
	mu           sync.Mutex
	registered   []interfaces.Connection
	frames       []*types.InboundFrame
	registerErr  error
	unregistered chan interfaces.Connection
	submitted    chan *types.InboundFrame
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		unregistered: make(chan interfaces.Connection, 8),
		submitted:    make(chan *types.InboundFrame, 8),
	}
}

func (d *recordingDispatcher) Register(conn interfaces.Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registerErr != nil {
		return d.registerErr
	}
	d.registered = append(d.registered, conn)
	return nil
}

func (d *recordingDispatcher) Unregister(conn interfaces.Connection) error {
	d.unregistered <- conn
	return nil
}

func (d *recordingDispatcher) Submit(conn interfaces.Connection, frame *types.InboundFrame) error {
	d.mu.Lock()
	d.frames = append(d.frames, frame)
	d.mu.Unlock()
	d.submitted <- frame
	return nil
}

func (d *recordingDispatcher) registeredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.registered)
}

func newTestVerifier() *stubVerifier {
	return &stubVerifier{identities: map[string]types.Identity{
		"patient-token": {ID: "P1", Role: types.RolePatient},
		"doctor-token":  {ID: "D1", Role: types.RoleDoctor},
	}}
}

func newTestServer(t *testing.T, verifier interfaces.TokenVerifier, dispatcher Dispatcher) *httptest.Server {
	t.Helper()
	handler := NewHandler(verifier, dispatcher, DefaultConfig(), nil, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL)+"?token="+token, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Functional Validation Tests
func TestHandler_HandshakeRejections(t *testing.T) {
	tests := []struct {
		name           string
		verifier       *stubVerifier
		query          string
		expectedStatus int
		expectedCode   string
	}{
		{"missing token", newTestVerifier(), "", http.StatusUnauthorized, "missing"},
		{"unknown token", newTestVerifier(), "?token=forged", http.StatusUnauthorized, "invalid"},
		{"expired token", &stubVerifier{err: auth.ErrExpiredToken}, "?token=x", http.StatusUnauthorized, "expired"},
		{"revocation store down", &stubVerifier{err: errors.New("database is locked")}, "?token=x", http.StatusServiceUnavailable, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := newRecordingDispatcher()
			server := newTestServer(t, tt.verifier, dispatcher)

			resp, err := http.Get(server.URL + tt.query)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("Error body is not JSON: %v", err)
			}
			if body["code"] != tt.expectedCode {
				t.Errorf("Expected code %q, got %q", tt.expectedCode, body["code"])
			}
			if body["error"] == "" {
				t.Error("Expected a human-readable error")
			}
			if dispatcher.registeredCount() != 0 {
				t.Error("Rejected handshake must not register a connection")
			}
		})
	}
}

func TestHandler_RejectedDialNeverUpgrades(t *testing.T) {
	server := newTestServer(t, newTestVerifier(), newRecordingDispatcher())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server.URL)+"?token=forged", nil)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 response, got %+v", resp)
	}
}

func TestHandler_RegistersAuthenticatedConnection(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	server := newTestServer(t, newTestVerifier(), dispatcher)

	dial(t, server, "doctor-token")

	deadline := time.Now().Add(2 * time.Second)
	for dispatcher.registeredCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if dispatcher.registeredCount() != 1 {
		t.Fatalf("Expected 1 registered connection, got %d", dispatcher.registeredCount())
	}

	dispatcher.mu.Lock()
	conn := dispatcher.registered[0]
	dispatcher.mu.Unlock()
	if conn.GetUserID() != "D1" || conn.GetRole() != types.RoleDoctor || !conn.IsAuthenticated() {
		t.Errorf("Connection bound to wrong identity: %+v", conn.Identity())
	}
}

func TestHandler_BearerHeader(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	server := newTestServer(t, newTestVerifier(), dispatcher)

	header := http.Header{}
	header.Set("Authorization", "Bearer patient-token")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), header)
	if err != nil {
		t.Fatalf("Dial with bearer header failed: %v", err)
	}
	conn.Close()
}

func TestHandler_ForwardsFrames(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	server := newTestServer(t, newTestVerifier(), dispatcher)
	client := dial(t, server, "patient-token")

	err := client.WriteJSON(map[string]interface{}{
		"type":       types.EventSendMessage,
		"request_id": "r1",
		"payload":    map[string]string{"conversation_id": "P1-D1", "content": "hi"},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case frame := <-dispatcher.submitted:
		if frame.Type != types.EventSendMessage || frame.RequestID != "r1" {
			t.Errorf("Unexpected frame: %+v", frame)
		}
		var p types.SendMessagePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || p.Content != "hi" {
			t.Errorf("Payload not preserved: %s", frame.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame never reached the dispatcher")
	}
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	server := newTestServer(t, newTestVerifier(), dispatcher)
	client := dial(t, server, "patient-token")

	for _, bad := range []string{"not json", `{"payload": {}}`} {
		if err := client.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		frame := readFrame(t, client)
		if frame.Type != types.FrameError || frame.Code != hub.CodeValidation {
			t.Errorf("Expected validation error frame for %q, got %+v", bad, frame)
		}
	}

	if err := client.WriteJSON(types.InboundFrame{Type: types.EventPing}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case frame := <-dispatcher.submitted:
		if frame.Type != types.EventPing {
			t.Errorf("Expected ping to be forwarded, got %q", frame.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connection stopped forwarding after a malformed frame")
	}
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	server := newTestServer(t, newTestVerifier(), dispatcher)
	client := dial(t, server, "patient-token")

	client.Close()

	select {
	case conn := <-dispatcher.unregistered:
		if conn.GetUserID() != "P1" {
			t.Errorf("Unregistered wrong connection: %s", conn.GetUserID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect never reached the dispatcher")
	}
}

func TestHandler_RegisterFailureClosesSocket(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	dispatcher.registerErr = hub.ErrHubNotRunning
	server := newTestServer(t, newTestVerifier(), dispatcher)
	client := dial(t, server, "patient-token")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("Expected the server to close the connection")
	}
}

// Integration with the real hub: join over the wire and exchange a message
func TestHandler_EndToEndWithHub(t *testing.T) {
	registry := presence.NewRegistry()
	r := router.NewRouter(registry, conversation.NewStore(), nil, nil, nil)
	h := hub.NewHub(registry, r, appointment.NewBroker(), nil, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Hub start failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	server := newTestServer(t, newTestVerifier(), h)
	doctor := dial(t, server, "doctor-token")
	patient := dial(t, server, "patient-token")

	mustWrite(t, doctor, types.InboundFrame{Type: types.EventJoin})
	awaitFrame(t, doctor, types.FrameOnlineDoctors)

	mustWrite(t, patient, types.InboundFrame{Type: types.EventJoin})
	awaitFrame(t, patient, types.FrameOnlineDoctors)

	payload, _ := json.Marshal(types.SendMessagePayload{ConversationID: "P1-D1", Content: "hello doctor"})
	mustWrite(t, patient, types.InboundFrame{Type: types.EventSendMessage, RequestID: "m1", Payload: payload})

	ack := awaitFrame(t, patient, types.FrameAck)
	if ack.RequestID != "m1" || ack.Success == nil || !*ack.Success {
		t.Errorf("Expected successful ack for m1, got %+v", ack)
	}
	pushed := awaitFrame(t, doctor, types.FrameNewMessage)
	raw, _ := json.Marshal(pushed.Payload)
	var msg types.Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Content != "hello doctor" || msg.SenderID != "P1" {
		t.Errorf("Unexpected pushed message: %s", raw)
	}
}

func mustWrite(t *testing.T, conn *websocket.Conn, frame types.InboundFrame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// awaitFrame reads until a frame of the given type arrives, skipping others
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) types.OutboundFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("No %s frame received", frameType)
	return types.OutboundFrame{}
}
