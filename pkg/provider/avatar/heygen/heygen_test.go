package heygen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar/heygen"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
)

// vendorStub is a minimal in-process stand-in for the HeyGen streaming
// endpoint. It records received commands and lets tests push events back.
type vendorStub struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	lastReq  *http.Request
	commands []map[string]any
	ready    chan struct{}
}

func newVendorStub(t *testing.T) *vendorStub {
	t.Helper()
	v := &vendorStub{ready: make(chan struct{})}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.conn = conn
		v.lastReq = r.Clone(context.Background())
		v.mu.Unlock()
		close(v.ready)

		ctx := context.Background()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd map[string]any
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			v.mu.Lock()
			v.commands = append(v.commands, cmd)
			v.mu.Unlock()
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *vendorStub) url() string {
	return "ws" + v.srv.URL[len("http"):]
}

// push sends a JSON event to the connected client.
func (v *vendorStub) push(t *testing.T, ev map[string]any) {
	t.Helper()
	select {
	case <-v.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected to vendor stub")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

// waitCommands polls until n commands have been received.
func (v *vendorStub) waitCommands(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v.mu.Lock()
		got := len(v.commands)
		cmds := append([]map[string]any(nil), v.commands...)
		v.mu.Unlock()
		if got >= n {
			return cmds
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("vendor stub did not receive %d commands", n)
	return nil
}

func connect(t *testing.T, v *vendorStub, quality avatar.Quality) avatar.Connection {
	t.Helper()
	svc := heygen.New(heygen.WithEndpoint(v.url()), heygen.WithAvatarID("june"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := svc.Connect(ctx, token.Credential{Token: "tok-123"}, quality)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnect_SendsCredentialAndQuality(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	connect(t, v, avatar.QualityHigh)

	<-v.ready
	v.mu.Lock()
	req := v.lastReq
	v.mu.Unlock()

	if got := req.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
	q, _ := url.ParseQuery(req.URL.RawQuery)
	if q.Get("avatar_id") != "june" {
		t.Errorf("avatar_id = %q, want %q", q.Get("avatar_id"), "june")
	}
	if q.Get("quality") != "high" {
		t.Errorf("quality = %q, want %q", q.Get("quality"), "high")
	}
}

func TestConnect_RejectsEmptyToken(t *testing.T) {
	t.Parallel()

	svc := heygen.New()
	if _, err := svc.Connect(context.Background(), token.Credential{}, avatar.QualityLow); err == nil {
		t.Fatal("Connect succeeded with empty credential token")
	}
}

func TestSpeak_ResolvesOnTaskFinished(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	conn := connect(t, v, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pb, err := conn.Speak(ctx, "Welcome to the interview.")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	cmds := v.waitCommands(t, 1)
	if cmds[0]["type"] != "speak" || cmds[0]["text"] != "Welcome to the interview." {
		t.Fatalf("speak command = %v", cmds[0])
	}
	taskID, _ := cmds[0]["task_id"].(string)
	if taskID == "" {
		t.Fatal("speak command carries no task_id")
	}

	select {
	case <-pb.Done():
		t.Fatal("playback resolved before the vendor finished the task")
	case <-time.After(50 * time.Millisecond):
	}

	v.push(t, map[string]any{"type": "task_finished", "task_id": taskID})

	select {
	case <-pb.Done():
		if err := pb.Err(); err != nil {
			t.Errorf("Err() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not resolve after task_finished")
	}
}

func TestSpeak_ResolvesWithErrorOnTaskFailed(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	conn := connect(t, v, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pb, err := conn.Speak(ctx, "hello")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	cmds := v.waitCommands(t, 1)
	taskID, _ := cmds[0]["task_id"].(string)

	v.push(t, map[string]any{"type": "task_failed", "task_id": taskID, "reason": "render error"})

	select {
	case <-pb.Done():
		if pb.Err() == nil {
			t.Error("Err() = nil, want render failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not resolve after task_failed")
	}
}

func TestEvents_DispatchToBoundCallbacks(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	conn := connect(t, v, "")

	ready := make(chan struct{})
	disconnected := make(chan string, 1)
	conn.Bind(avatar.Events{
		StreamReady:  func() { close(ready) },
		Disconnected: func(reason string) { disconnected <- reason },
	})

	v.push(t, map[string]any{"type": "stream_ready"})
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("StreamReady callback not invoked")
	}

	v.push(t, map[string]any{"type": "session_disconnected", "reason": "vendor timeout"})
	select {
	case reason := <-disconnected:
		if reason != "vendor timeout" {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnected callback not invoked")
	}
}

func TestInterruptAndMute_SendCommands(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	conn := connect(t, v, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if err := conn.SetMuted(true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}

	cmds := v.waitCommands(t, 2)
	if cmds[0]["type"] != "interrupt" {
		t.Errorf("first command = %v, want interrupt", cmds[0])
	}
	if cmds[1]["type"] != "mute" || cmds[1]["muted"] != true {
		t.Errorf("second command = %v, want mute(true)", cmds[1])
	}
}

func TestClose_ResolvesPendingPlaybacks(t *testing.T) {
	t.Parallel()

	v := newVendorStub(t)
	conn := connect(t, v, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pb, err := conn.Speak(ctx, "this will be cut short")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	v.waitCommands(t, 1)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-pb.Done():
		if pb.Err() == nil {
			t.Error("Err() = nil, want closed-connection error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending playback not resolved by Close")
	}

	if _, err := conn.Speak(ctx, "too late"); err == nil {
		t.Error("Speak succeeded on a closed connection")
	}
}
