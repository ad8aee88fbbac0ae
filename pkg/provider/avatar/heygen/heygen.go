// Package heygen provides a HeyGen-backed streaming avatar provider using the
// HeyGen realtime WebSocket API. It implements the avatar.Service interface.
package heygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
)

const (
	defaultEndpoint = "wss://api.heygen.com/v1/streaming.chat"
	defaultAvatarID = "default"
)

// Option is a functional option for configuring the HeyGen Service.
type Option func(*Service)

// WithEndpoint overrides the default streaming endpoint. Useful for tests.
func WithEndpoint(endpoint string) Option {
	return func(s *Service) { s.endpoint = endpoint }
}

// WithAvatarID selects the avatar persona rendered by the vendor.
func WithAvatarID(id string) Option {
	return func(s *Service) { s.avatarID = id }
}

// Service implements avatar.Service backed by the HeyGen streaming API.
type Service struct {
	endpoint string
	avatarID string
}

// New creates a new HeyGen Service.
func New(opts ...Option) *Service {
	s := &Service{
		endpoint: defaultEndpoint,
		avatarID: defaultAvatarID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect dials the streaming endpoint with the supplied credential and
// quality setting and returns a live [avatar.Connection].
func (s *Service) Connect(ctx context.Context, cred token.Credential, quality avatar.Quality) (avatar.Connection, error) {
	if cred.Token == "" {
		return nil, errors.New("heygen: credential token must not be empty")
	}
	if quality != "" && !quality.IsValid() {
		return nil, fmt.Errorf("heygen: invalid quality %q", quality)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("heygen: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("avatar_id", s.avatarID)
	if quality != "" {
		q.Set("quality", string(quality))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cred.Token)

	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("heygen: dial: %w", err)
	}

	conn := &connection{
		ws:      ws,
		pending: make(map[string]*playback),
		done:    make(chan struct{}),
	}
	conn.wg.Add(1)
	go conn.readLoop()

	return conn, nil
}

// ---- wire messages ----

// command is the JSON payload sent to HeyGen.
type command struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Text   string `json:"text,omitempty"`
	Muted  *bool  `json:"muted,omitempty"`
}

// event is the JSON payload received from HeyGen.
type event struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event type constants from the streaming protocol.
const (
	evStreamReady  = "stream_ready"
	evSpeakStarted = "avatar_start_talking"
	evSpeakStopped = "avatar_stop_talking"
	evTaskFinished = "task_finished"
	evTaskFailed   = "task_failed"
	evDisconnected = "session_disconnected"
)

// ---- playback ----

// playback is the completion handle for one speak task.
type playback struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newPlayback() *playback {
	return &playback{done: make(chan struct{})}
}

func (p *playback) resolve(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ---- connection ----

// connection is a live HeyGen streaming session. It implements
// avatar.Connection.
type connection struct {
	ws *websocket.Conn

	mu      sync.Mutex
	events  avatar.Events
	pending map[string]*playback // task id → handle
	taskSeq int
	closed  bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Bind registers the event callbacks, replacing any previous registration.
func (c *connection) Bind(ev avatar.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ev
}

// Detach removes all registered callbacks.
func (c *connection) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = avatar.Events{}
}

// Speak submits a speak task and returns its completion handle. The handle
// resolves when the vendor reports the task finished or failed.
func (c *connection) Speak(ctx context.Context, text string) (avatar.Playback, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("heygen: connection is closed")
	}
	c.taskSeq++
	taskID := "task-" + strconv.Itoa(c.taskSeq)
	pb := newPlayback()
	c.pending[taskID] = pb
	c.mu.Unlock()

	if err := c.send(ctx, command{Type: "speak", TaskID: taskID, Text: text}); err != nil {
		c.mu.Lock()
		delete(c.pending, taskID)
		c.mu.Unlock()
		return nil, fmt.Errorf("heygen: speak: %w", err)
	}
	return pb, nil
}

// Interrupt cancels the avatar's current speech.
func (c *connection) Interrupt(ctx context.Context) error {
	if err := c.send(ctx, command{Type: "interrupt"}); err != nil {
		return fmt.Errorf("heygen: interrupt: %w", err)
	}
	return nil
}

// SetMuted toggles the avatar input audio.
func (c *connection) SetMuted(muted bool) error {
	if err := c.send(context.Background(), command{Type: "mute", Muted: &muted}); err != nil {
		return fmt.Errorf("heygen: set muted: %w", err)
	}
	return nil
}

// Close terminates the session. Pending playback handles are resolved with an
// error so no caller blocks on a dead connection. Safe to call multiple times.
func (c *connection) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = make(map[string]*playback)
		c.mu.Unlock()

		for _, pb := range pending {
			pb.resolve(errors.New("heygen: connection closed"))
		}

		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
		c.wg.Wait()
	})
	return nil
}

// send marshals and writes a command frame.
func (c *connection) send(ctx context.Context, cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// readLoop receives JSON events and dispatches them to playback handles and
// bound callbacks.
func (c *connection) readLoop() {
	defer c.wg.Done()
	ctx := context.Background()

	for {
		_, msg, err := c.ws.Read(ctx)
		if err != nil {
			// Socket gone. If this was not a local Close, surface it as a
			// remote disconnect so the session can tear down.
			c.mu.Lock()
			closed := c.closed
			cb := c.events.Disconnected
			c.mu.Unlock()
			if !closed && cb != nil {
				cb(err.Error())
			}
			return
		}

		var ev event
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch routes one vendor event.
func (c *connection) dispatch(ev event) {
	c.mu.Lock()
	events := c.events
	var pb *playback
	if ev.TaskID != "" {
		pb = c.pending[ev.TaskID]
	}
	c.mu.Unlock()

	switch ev.Type {
	case evStreamReady:
		if events.StreamReady != nil {
			events.StreamReady()
		}
	case evSpeakStarted:
		if events.SpeakingStarted != nil {
			events.SpeakingStarted()
		}
	case evSpeakStopped:
		if events.SpeakingStopped != nil {
			events.SpeakingStopped()
		}
	case evTaskFinished:
		if pb != nil {
			c.removePending(ev.TaskID)
			pb.resolve(nil)
		}
	case evTaskFailed:
		if pb != nil {
			c.removePending(ev.TaskID)
			pb.resolve(fmt.Errorf("heygen: task %s failed: %s", ev.TaskID, ev.Reason))
		}
	case evDisconnected:
		if events.Disconnected != nil {
			events.Disconnected(ev.Reason)
		}
	}
}

func (c *connection) removePending(taskID string) {
	c.mu.Lock()
	delete(c.pending, taskID)
	c.mu.Unlock()
}

// Compile-time interface checks.
var (
	_ avatar.Service    = (*Service)(nil)
	_ avatar.Connection = (*connection)(nil)
	_ avatar.Playback   = (*playback)(nil)
)
