package server

import (
	"context"
	"errors"
	"testing"

	"github.com/draftsync/draftsync/pkg/protocol"
	"github.com/draftsync/draftsync/pkg/store"
)

type handlerFixture struct {
	registry *Registry
	store    *store.Memory
	handler  *Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	config := testConfig()
	registry := NewRegistry(0, nil, testLogger())
	st := store.NewMemory()
	broadcaster := NewBroadcaster(registry, 4, nil, testLogger())
	return &handlerFixture{
		registry: registry,
		store:    st,
		handler:  NewHandler(registry, st, broadcaster, config, nil, testLogger()),
	}
}

// connect registers a fresh connection and returns it with its transport.
func (f *handlerFixture) connect(t *testing.T) (*Conn, *fakeWire) {
	t.Helper()
	ws := newFakeWire()
	c := newConn(ws, testConfig(), testLogger())
	if err := f.registry.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return c, ws
}

// connectAs additionally completes the handshake.
func (f *handlerFixture) connectAs(t *testing.T, owner string) (*Conn, *fakeWire) {
	t.Helper()
	c, ws := f.connect(t)
	f.handler.Handle(context.Background(), c, []byte(`{"action":"init","payload":{"userId":"`+owner+`"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionInitResponse {
		t.Fatalf("handshake messages = %+v, want single init_response", msgs)
	}
	ws.mu.Lock()
	ws.written = nil
	ws.mu.Unlock()
	return c, ws
}

func TestHandlerInit(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connect(t)

	f.handler.Handle(context.Background(), c, []byte(`{"action":"init","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Action != protocol.ActionInitResponse {
		t.Errorf("action = %q, want init_response", msgs[0].Action)
	}
	if msgs[0].Message != "Connection initialized" {
		t.Errorf("message = %q, want Connection initialized", msgs[0].Message)
	}
	if c.State() != StateAuthenticated {
		t.Errorf("State() = %v, want StateAuthenticated", c.State())
	}
	if f.registry.CountByOwner("user-1") != 1 {
		t.Error("init should index the connection by owner")
	}
}

func TestHandlerInitMissingUserID(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connect(t)

	f.handler.Handle(context.Background(), c, []byte(`{"action":"init","payload":{}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Action != protocol.ActionError {
		t.Errorf("action = %q, want error", msgs[0].Action)
	}
	if msgs[0].Message != "userId is required for initialization" {
		t.Errorf("message = %q", msgs[0].Message)
	}
	if !c.IsClosed() {
		t.Error("a failed init must close the connection")
	}
}

func TestHandlerInitTwice(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"init","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if c.IsClosed() {
		t.Error("a duplicate init must not close the connection")
	}
}

func TestHandlerCommandBeforeInit(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connect(t)

	f.handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if c.IsClosed() {
		t.Error("a premature command must not close the connection")
	}
	if f.store.Len() != 0 {
		t.Error("a premature command must not reach the store")
	}
}

func TestHandlerSave(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")
	_, peerWire := f.connectAs(t, "user-1")
	_, strangerWire := f.connectAs(t, "user-2")

	raw := `{"action":"save","payload":{"data":"draft body","userId":"user-1","storyblokId":"story-1"}}`
	f.handler.Handle(context.Background(), c, []byte(raw))

	msgs := ws.messages(t)
	if len(msgs) == 0 || msgs[0].Action != protocol.ActionSaveResponse {
		t.Fatalf("requester messages = %+v, want save_response first", msgs)
	}

	peerMsgs := peerWire.messages(t)
	if len(peerMsgs) != 1 || peerMsgs[0].Action != protocol.ActionSaveNotification {
		t.Fatalf("peer messages = %+v, want single save_notification", peerMsgs)
	}

	if got := strangerWire.messages(t); len(got) != 0 {
		t.Errorf("other owner received %d messages, want 0", len(got))
	}

	if f.store.Len() != 1 {
		t.Errorf("store has %d drafts, want 1", f.store.Len())
	}
}

func TestHandlerSaveValidationError(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")
	_, peerWire := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"save","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}

	// A failed save must not notify anyone.
	if got := peerWire.messages(t); len(got) != 0 {
		t.Errorf("peer received %d messages after failed save, want 0", len(got))
	}
	if f.store.Len() != 0 {
		t.Error("a failed save must not be stored")
	}
}

func TestHandlerUpdate(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")
	_, peerWire := f.connectAs(t, "user-1")

	created, err := f.store.Create(context.Background(), store.Draft{
		Data: "v1", UserID: "user-1", StoryblokID: "story-1",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	raw := `{"action":"update","payload":{"id":"` + created.ID + `","data":"v2"}}`
	f.handler.Handle(context.Background(), c, []byte(raw))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionUpdateResponse {
		t.Fatalf("messages = %+v, want single update_response", msgs)
	}

	peerMsgs := peerWire.messages(t)
	if len(peerMsgs) != 1 || peerMsgs[0].Action != protocol.ActionUpdateNotification {
		t.Fatalf("peer messages = %+v, want single update_notification", peerMsgs)
	}
}

func TestHandlerUpdateNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"update","payload":{"id":"missing","data":"v2"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if msgs[0].Message != "Document not found" {
		t.Errorf("message = %q, want Document not found", msgs[0].Message)
	}
	if c.IsClosed() {
		t.Error("an unknown id must not close the connection")
	}
}

func TestHandlerGet(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	for i := 0; i < 2; i++ {
		if _, err := f.store.Create(context.Background(), store.Draft{
			Data: "x", UserID: "user-1", StoryblokID: "story-1",
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	f.handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionGetResponse {
		t.Fatalf("messages = %+v, want single get_response", msgs)
	}
	drafts, ok := msgs[0].Data.([]any)
	if !ok {
		t.Fatalf("data = %T, want array", msgs[0].Data)
	}
	if len(drafts) != 2 {
		t.Errorf("got %d drafts, want 2", len(drafts))
	}
}

func TestHandlerSaveGetRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	raw := `{"action":"save","payload":{"data":"draft body","userId":"user-1","storyblokId":"story-1"}}`
	f.handler.Handle(context.Background(), c, []byte(raw))
	ws.mu.Lock()
	ws.written = nil
	ws.mu.Unlock()

	f.handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-1","storyblokId":"story-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionGetResponse {
		t.Fatalf("messages = %+v, want single get_response", msgs)
	}
	drafts, ok := msgs[0].Data.([]any)
	if !ok || len(drafts) != 1 {
		t.Fatalf("data = %+v, want the one saved draft", msgs[0].Data)
	}
	draft, ok := drafts[0].(map[string]any)
	if !ok {
		t.Fatalf("draft = %T, want object", drafts[0])
	}
	if draft["data"] != "draft body" {
		t.Errorf("data = %v, want draft body", draft["data"])
	}
	if draft["storyblokId"] != "story-1" {
		t.Errorf("storyblokId = %v, want story-1", draft["storyblokId"])
	}
}

func TestHandlerGetEmptyResult(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-1"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionGetResponse {
		t.Fatalf("messages = %+v, want single get_response", msgs)
	}
	drafts, ok := msgs[0].Data.([]any)
	if !ok {
		t.Fatalf("data = %T, want an empty array rather than null", msgs[0].Data)
	}
	if len(drafts) != 0 {
		t.Errorf("got %d drafts, want 0", len(drafts))
	}
}

func TestHandlerGetOtherOwner(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-2"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if msgs[0].Message != "Unauthorized: Can only query your own userId" {
		t.Errorf("message = %q", msgs[0].Message)
	}
	if c.IsClosed() {
		t.Error("an unauthorized get must not close the connection")
	}
}

func TestHandlerGetOtherOwnerUnenforced(t *testing.T) {
	config := testConfig().WithDisableOwnershipCheck(true)
	registry := NewRegistry(0, nil, testLogger())
	st := store.NewMemory()
	broadcaster := NewBroadcaster(registry, 4, nil, testLogger())
	handler := NewHandler(registry, st, broadcaster, config, nil, testLogger())

	ws := newFakeWire()
	c := newConn(ws, testConfig(), testLogger())
	if err := registry.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.SetOwner(c, "user-1"); err != nil {
		t.Fatalf("SetOwner() error = %v", err)
	}

	handler.Handle(context.Background(), c, []byte(`{"action":"get","payload":{"userId":"user-2"}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionGetResponse {
		t.Fatalf("messages = %+v, want get_response with enforcement off", msgs)
	}
}

func TestHandlerUnknownAction(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{"action":"delete","payload":{}}`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if msgs[0].Message != "Invalid action" {
		t.Errorf("message = %q, want Invalid action", msgs[0].Message)
	}
	if c.IsClosed() {
		t.Error("an unknown action must not close the connection")
	}
}

func TestHandlerMalformedMessage(t *testing.T) {
	f := newHandlerFixture(t)
	c, ws := f.connectAs(t, "user-1")

	f.handler.Handle(context.Background(), c, []byte(`{nope`))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if c.IsClosed() {
		t.Error("a malformed message must not close the connection")
	}
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Create(ctx context.Context, draft store.Draft) (store.Draft, error) {
	return store.Draft{}, errors.New("backend unavailable")
}

func (failingStore) UpdateByID(ctx context.Context, id string, update store.Update) (store.Draft, error) {
	return store.Draft{}, errors.New("backend unavailable")
}

func (failingStore) Query(ctx context.Context, filter store.Filter) ([]store.Draft, error) {
	return nil, errors.New("backend unavailable")
}

func TestHandlerStoreFailure(t *testing.T) {
	config := testConfig()
	registry := NewRegistry(0, nil, testLogger())
	broadcaster := NewBroadcaster(registry, 4, nil, testLogger())
	handler := NewHandler(registry, failingStore{}, broadcaster, config, nil, testLogger())

	ws := newFakeWire()
	c := newConn(ws, testConfig(), testLogger())
	if err := registry.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.SetOwner(c, "user-1"); err != nil {
		t.Fatalf("SetOwner() error = %v", err)
	}

	raw := `{"action":"save","payload":{"data":"d","userId":"user-1","storyblokId":"s"}}`
	handler.Handle(context.Background(), c, []byte(raw))

	msgs := ws.messages(t)
	if len(msgs) != 1 || msgs[0].Action != protocol.ActionError {
		t.Fatalf("messages = %+v, want single error", msgs)
	}
	if c.IsClosed() {
		t.Error("a store failure must not close the connection")
	}
}
