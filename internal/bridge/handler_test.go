package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cardbank/cardbank/internal/coordinator"
	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/store"
)

type fakeReader struct {
	records map[string]store.Record
	findID  string
	getErr  error
	findErr error
}

func (f *fakeReader) GetRecord(ctx context.Context, id string) (store.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeReader) FindRecordByUser(ctx context.Context, userID string) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.findID, nil
}

type fakeSaver struct {
	mu     sync.Mutex
	ops    []*coordinator.Operation
	err    error
	saving bool
}

func (f *fakeSaver) Enqueue(op *coordinator.Operation) <-chan error {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	err := f.err
	f.mu.Unlock()

	ch := make(chan error, 1)
	ch <- err
	return ch
}

func (f *fakeSaver) Saving() bool { return f.saving }

func (f *fakeSaver) lastOp(t *testing.T) *coordinator.Operation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ops) == 0 {
		t.Fatal("no operation was enqueued")
	}
	return f.ops[len(f.ops)-1]
}

type fakeTokens struct {
	token      string
	refreshErr error
	refreshed  int
}

func (f *fakeTokens) Token() string { return f.token }

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = "refreshed-token"
	return f.token, nil
}

func newTestHandler(records *fakeReader, saves *fakeSaver, tokens *fakeTokens) *Handler {
	h := NewHandler(HandlerConfig{
		Records: records,
		Saves:   saves,
		Tokens:  tokens,
		UserID:  "user-1",
		Logger:  log.New(io.Discard, "", 0),
	})
	h.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	}
	return h
}

func recvReply(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return Message{}
	}
}

func inbound(t *testing.T, msgType MessageType, payload any) Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Message{Type: msgType, Data: data}
}

func TestHandleSaveData(t *testing.T) {
	saves := &fakeSaver{}
	h := newTestHandler(&fakeReader{}, saves, nil)

	replies := make(chan Message, 4)
	req := SaveRequest{
		RecordID: "rec1",
		Payload: SavePayload{
			Cards: json.RawMessage(`[
				{"id":"t1","type":"topic","subject":"Maths","name":"Algebra","cards":[]},
				{"id":"c1","type":"card","subject":"Maths","topicId":"t1","question":"2+2?","answer":"4","boxNum":1}
			]`),
			TopicLists: []model.TopicList{{Subject: "Maths", Topics: []model.TopicEntry{{ID: "t1", Name: "Algebra"}}}},
			ColorMap:   model.ColorMap{"Maths": "#3cb44b"},
		},
		PreserveFields: true,
	}

	h.Handle(context.Background(), inbound(t, MessageTypeSaveData, req), func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeSaveResult {
		t.Fatalf("expected %s, got %s", MessageTypeSaveResult, reply.Type)
	}
	var result SaveResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.Error != "" {
		t.Errorf("expected success, got %+v", result)
	}

	op := saves.lastOp(t)
	if op.Type != coordinator.OpSave || op.RecordID != "rec1" {
		t.Errorf("wrong operation: %+v", op)
	}
	if !op.PreserveFields {
		t.Error("preserveFields flag did not reach the operation")
	}
	bank := op.Fields[store.FieldCardBank]
	if !strings.Contains(bank, "Algebra") || !strings.Contains(bank, `"c1"`) {
		t.Errorf("card bank field missing merged content: %s", bank)
	}
	if op.Fields[store.FieldColorMap] == "" {
		t.Error("color map field was not written")
	}
}

func TestHandleSaveDataCardsAsEncodedString(t *testing.T) {
	saves := &fakeSaver{}
	h := newTestHandler(&fakeReader{}, saves, nil)

	replies := make(chan Message, 4)
	// The UI sometimes hands over a doubly-serialized, trailing-comma
	// card collection; the decode path must still recover it.
	req := SaveRequest{
		RecordID: "rec1",
		Payload: SavePayload{
			Cards: json.RawMessage(`"[{\"id\":\"c1\",\"type\":\"card\",\"question\":\"q\",},]"`),
		},
	}

	h.Handle(context.Background(), inbound(t, MessageTypeSaveData, req), func(m Message) { replies <- m })

	recvReply(t, replies)
	op := saves.lastOp(t)
	if !strings.Contains(op.Fields[store.FieldCardBank], `"c1"`) {
		t.Errorf("corrupt card collection was not recovered: %s", op.Fields[store.FieldCardBank])
	}
}

func TestHandleSaveDataQueuedAck(t *testing.T) {
	saves := &fakeSaver{saving: true}
	h := newTestHandler(&fakeReader{}, saves, nil)

	replies := make(chan Message, 4)
	req := SaveRequest{RecordID: "rec1"}

	h.Handle(context.Background(), inbound(t, MessageTypeSaveData, req), func(m Message) { replies <- m })

	first := recvReply(t, replies)
	var ack SaveResult
	if err := json.Unmarshal(first.Data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.Queued {
		t.Errorf("expected queued ack first, got %+v", ack)
	}

	second := recvReply(t, replies)
	var result SaveResult
	if err := json.Unmarshal(second.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.Queued {
		t.Errorf("expected final result, got %+v", result)
	}
}

func TestHandleSaveDataFailure(t *testing.T) {
	saves := &fakeSaver{err: errors.New("store down")}
	h := newTestHandler(&fakeReader{}, saves, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), inbound(t, MessageTypeSaveData, SaveRequest{RecordID: "rec1"}),
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	var result SaveResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Success {
		t.Error("failed save reported as success")
	}
	if !strings.Contains(result.Error, "store down") {
		t.Errorf("error detail lost: %q", result.Error)
	}
}

func TestHandleAddToBank(t *testing.T) {
	records := &fakeReader{records: map[string]store.Record{
		"rec1": {
			store.FieldCardBank: `[{"id":"t1","type":"topic","subject":"Maths","name":"Algebra","cards":[]}]`,
		},
	}}
	saves := &fakeSaver{}
	h := newTestHandler(records, saves, nil)

	replies := make(chan Message, 4)
	req := AddToBankRequest{
		RecordID: "rec1",
		Cards: []model.Card{
			{Subject: "Maths", Topic: "Algebra", Question: "2+2?", Answer: "4"},
		},
	}

	h.Handle(context.Background(), inbound(t, MessageTypeAddToBank, req), func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeAddToBankResult {
		t.Fatalf("expected %s, got %s", MessageTypeAddToBankResult, reply.Type)
	}
	var result AddToBankResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || !result.ShouldReload {
		t.Errorf("expected success with reload, got %+v", result)
	}

	op := saves.lastOp(t)
	if op.Type != coordinator.OpAddToBank {
		t.Errorf("wrong operation type %s", op.Type)
	}
	if !op.PreserveFields {
		t.Error("add-to-bank must preserve untouched fields")
	}
	bank := op.Fields[store.FieldCardBank]
	if !strings.Contains(bank, `"t1"`) || !strings.Contains(bank, "2+2?") {
		t.Errorf("new card not attached to its shell: %s", bank)
	}
}

func TestHandleAddToBankFetchFailure(t *testing.T) {
	records := &fakeReader{getErr: errors.New("timeout")}
	h := newTestHandler(records, &fakeSaver{}, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(),
		inbound(t, MessageTypeAddToBank, AddToBankRequest{RecordID: "rec1"}),
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	var result AddToBankResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Success {
		t.Error("fetch failure reported as success")
	}
}

func TestHandleRequestUpdatedData(t *testing.T) {
	records := &fakeReader{records: map[string]store.Record{
		"rec1": {
			store.FieldCardBank: `[{"id":"c1","type":"card","question":"q"}]`,
			store.FieldColorMap: `{"Maths":"#3cb44b"}`,
		},
	}}
	tokens := &fakeTokens{token: "tok-abc"}
	h := newTestHandler(records, &fakeSaver{}, tokens)

	replies := make(chan Message, 4)
	h.Handle(context.Background(),
		inbound(t, MessageTypeRequestUpdatedData, RefreshRequest{RecordID: "rec1"}),
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeBankData {
		t.Fatalf("expected %s, got %s", MessageTypeBankData, reply.Type)
	}
	var data BankData
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if len(data.Cards) != 1 {
		t.Errorf("expected 1 card, got %d", len(data.Cards))
	}
	if data.ColorMap["Maths"] != "#3cb44b" {
		t.Errorf("color map lost: %v", data.ColorMap)
	}
	if data.RecordID != "rec1" {
		t.Errorf("record id lost: %q", data.RecordID)
	}
	if data.Auth != "tok-abc" {
		t.Errorf("auth token missing: %q", data.Auth)
	}
}

func TestHandleRequestUpdatedDataError(t *testing.T) {
	records := &fakeReader{getErr: errors.New("server error")}
	h := newTestHandler(records, &fakeSaver{}, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(),
		inbound(t, MessageTypeRequestUpdatedData, RefreshRequest{RecordID: "rec1"}),
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeDataRefreshError {
		t.Fatalf("expected %s, got %s", MessageTypeDataRefreshError, reply.Type)
	}
}

func TestHandleRequestRecordID(t *testing.T) {
	records := &fakeReader{findID: "rec-77"}
	h := newTestHandler(records, &fakeSaver{}, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), Message{Type: MessageTypeRequestRecordID},
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeRecordIDResponse {
		t.Fatalf("expected %s, got %s", MessageTypeRecordIDResponse, reply.Type)
	}
	var resp RecordIDResponse
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.RecordID != "rec-77" {
		t.Errorf("expected rec-77, got %q", resp.RecordID)
	}
}

func TestHandleRequestRecordIDError(t *testing.T) {
	records := &fakeReader{findErr: errors.New("no such user")}
	h := newTestHandler(records, &fakeSaver{}, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), Message{Type: MessageTypeRequestRecordID},
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	if reply.Type != MessageTypeRecordIDError {
		t.Fatalf("expected %s, got %s", MessageTypeRecordIDError, reply.Type)
	}
}

func TestHandleTokenRefresh(t *testing.T) {
	tokens := &fakeTokens{token: "stale"}
	h := newTestHandler(&fakeReader{}, &fakeSaver{}, tokens)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), Message{Type: MessageTypeRequestTokenRefresh},
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	var result AuthRefreshResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.Token != "refreshed-token" {
		t.Errorf("expected refreshed token, got %+v", result)
	}
	if tokens.refreshed != 1 {
		t.Errorf("refresh called %d times, want 1", tokens.refreshed)
	}
}

func TestHandleTokenRefreshFailure(t *testing.T) {
	tokens := &fakeTokens{refreshErr: errors.New("endpoint gone")}
	h := newTestHandler(&fakeReader{}, &fakeSaver{}, tokens)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), Message{Type: MessageTypeRequestTokenRefresh},
		func(m Message) { replies <- m })

	reply := recvReply(t, replies)
	var result AuthRefreshResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Success {
		t.Error("failed refresh reported as success")
	}
}

func TestHandleUnknownType(t *testing.T) {
	h := newTestHandler(&fakeReader{}, &fakeSaver{}, nil)

	replies := make(chan Message, 4)
	h.Handle(context.Background(), Message{Type: "SOMETHING_ELSE"},
		func(m Message) { replies <- m })

	select {
	case m := <-replies:
		t.Errorf("unknown message type produced a reply: %+v", m)
	default:
	}
}
