package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cardbank/cardbank/internal/codec"
	"github.com/cardbank/cardbank/internal/coordinator"
	"github.com/cardbank/cardbank/internal/model"
	"github.com/cardbank/cardbank/internal/reconcile"
	"github.com/cardbank/cardbank/internal/store"
)

// RecordReader is the subset of the store client the handler reads with.
// Writes go through the Saver so they stay serialized.
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (store.Record, error)
	FindRecordByUser(ctx context.Context, userID string) (string, error)
}

// Saver is the coordinator surface the handler enqueues through.
type Saver interface {
	Enqueue(op *coordinator.Operation) <-chan error
	Saving() bool
}

// TokenRefresher provides the current bearer token and a refresh call.
type TokenRefresher interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// Handler dispatches channel messages to the store, coordinator, and
// reconciliation engine. Replies go through the send callback the
// transport supplies, so the handler never knows about connections.
type Handler struct {
	records RecordReader
	saves   Saver
	tokens  TokenRefresher
	userID  string
	logger  *log.Logger

	now func() time.Time

	// Outstanding outcome waits, so Wait can drain them in tests and
	// at shutdown.
	wg sync.WaitGroup
}

// HandlerConfig holds handler dependencies
type HandlerConfig struct {
	Records RecordReader
	Saves   Saver
	Tokens  TokenRefresher
	UserID  string
	Logger  *log.Logger
}

// NewHandler creates a message handler
func NewHandler(config HandlerConfig) *Handler {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Handler{
		records: config.Records,
		saves:   config.Saves,
		tokens:  config.Tokens,
		userID:  config.UserID,
		logger:  config.Logger,
		now:     time.Now,
	}
}

// Wait blocks until all in-flight outcome notifications have been sent.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Handle dispatches one inbound message. Replies for queued operations
// arrive asynchronously once the coordinator resolves them.
func (h *Handler) Handle(ctx context.Context, msg Message, send func(Message)) {
	switch msg.Type {
	case MessageTypeSaveData:
		h.handleSaveData(ctx, msg.Data, send)
	case MessageTypeAddToBank:
		h.handleAddToBank(ctx, msg.Data, send)
	case MessageTypeRequestUpdatedData:
		h.handleRequestUpdatedData(ctx, msg.Data, send)
	case MessageTypeRequestRecordID:
		h.handleRequestRecordID(ctx, send)
	case MessageTypeRequestTokenRefresh:
		h.handleTokenRefresh(ctx, send)
	default:
		h.logger.Printf("Ignoring unknown message type %q", msg.Type)
	}
}

func (h *Handler) handleSaveData(ctx context.Context, data json.RawMessage, send func(Message)) {
	var req SaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		send(NewMessage(MessageTypeSaveResult, SaveResult{Error: "malformed save request: " + err.Error()}))
		return
	}

	now := h.now()
	items := decodeItems(req.Payload.Cards)
	merged := reconcile.MergeTopicShells(items, req.Payload.TopicLists, req.Payload.ColorMap, now)

	snap := model.Snapshot{
		RecordID:   req.RecordID,
		Items:      itemsToAny(merged.Items),
		TopicLists: req.Payload.TopicLists,
		Metadata:   reconcile.MergeMetadata(req.Payload.Metadata, merged.Metadata),
		ColorMap:   merged.ColorMap,
	}

	op := &coordinator.Operation{
		Type:           coordinator.OpSave,
		RecordID:       req.RecordID,
		Fields:         store.EncodeSnapshot(snap, now),
		PreserveFields: req.PreserveFields,
	}

	if h.saves.Saving() {
		send(NewMessage(MessageTypeSaveResult, SaveResult{Success: true, Queued: true}))
	}

	outcome := h.saves.Enqueue(op)
	h.waitAndSend(outcome, send, func(err error) Message {
		if err != nil {
			return NewMessage(MessageTypeSaveResult, SaveResult{Error: err.Error()})
		}
		return NewMessage(MessageTypeSaveResult, SaveResult{Success: true})
	})
}

func (h *Handler) handleAddToBank(ctx context.Context, data json.RawMessage, send func(Message)) {
	var req AddToBankRequest
	if err := json.Unmarshal(data, &req); err != nil {
		send(NewMessage(MessageTypeAddToBankResult, AddToBankResult{Error: "malformed add request: " + err.Error()}))
		return
	}
	if req.RecordID == "" {
		send(NewMessage(MessageTypeAddToBankResult, AddToBankResult{Error: "no record id"}))
		return
	}

	rec, err := h.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		send(NewMessage(MessageTypeAddToBankResult, AddToBankResult{Error: "fetch failed: " + err.Error()}))
		return
	}

	now := h.now()
	snap := store.DecodeSnapshot(req.RecordID, rec)
	items, added := reconcile.AddCardsToBank(snap.Items, req.Cards, now)
	snap.Items = itemsToAny(items)

	op := &coordinator.Operation{
		Type:           coordinator.OpAddToBank,
		RecordID:       req.RecordID,
		Fields:         store.EncodeSnapshot(snap, now),
		PreserveFields: true,
	}

	outcome := h.saves.Enqueue(op)
	h.waitAndSend(outcome, send, func(err error) Message {
		if err != nil {
			return NewMessage(MessageTypeAddToBankResult, AddToBankResult{Error: err.Error()})
		}
		return NewMessage(MessageTypeAddToBankResult, AddToBankResult{Success: true, ShouldReload: added > 0})
	})
}

func (h *Handler) handleRequestUpdatedData(ctx context.Context, data json.RawMessage, send func(Message)) {
	var req RefreshRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			send(NewMessage(MessageTypeDataRefreshError, ErrorData{Error: "malformed refresh request: " + err.Error()}))
			return
		}
	}
	if req.RecordID == "" {
		send(NewMessage(MessageTypeDataRefreshError, ErrorData{Error: "no record id"}))
		return
	}

	rec, err := h.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		send(NewMessage(MessageTypeDataRefreshError, ErrorData{Error: err.Error()}))
		return
	}

	snap := store.DecodeSnapshot(req.RecordID, rec)
	var token string
	if h.tokens != nil {
		token = h.tokens.Token()
	}
	send(NewMessage(MessageTypeBankData, BankData{
		Cards:      snap.Items,
		ColorMap:   snap.ColorMap,
		TopicLists: snap.TopicLists,
		Metadata:   snap.Metadata,
		RecordID:   snap.RecordID,
		Auth:       token,
	}))
}

func (h *Handler) handleRequestRecordID(ctx context.Context, send func(Message)) {
	id, err := h.records.FindRecordByUser(ctx, h.userID)
	if err != nil {
		send(NewMessage(MessageTypeRecordIDError, ErrorData{Error: err.Error()}))
		return
	}
	send(NewMessage(MessageTypeRecordIDResponse, RecordIDResponse{RecordID: id}))
}

func (h *Handler) handleTokenRefresh(ctx context.Context, send func(Message)) {
	if h.tokens == nil {
		send(NewMessage(MessageTypeAuthRefreshResult, AuthRefreshResult{}))
		return
	}
	token, err := h.tokens.Refresh(ctx)
	if err != nil {
		h.logger.Printf("Token refresh failed: %v", err)
		send(NewMessage(MessageTypeAuthRefreshResult, AuthRefreshResult{}))
		return
	}
	send(NewMessage(MessageTypeAuthRefreshResult, AuthRefreshResult{Success: true, Token: token}))
}

// waitAndSend delivers the coordinator outcome without blocking the
// read loop of the connection that sent the request.
func (h *Handler) waitAndSend(outcome <-chan error, send func(Message), build func(error) Message) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		send(build(<-outcome))
	}()
}

// decodeItems accepts the card collection either as a JSON array or as
// a JSON string holding one (possibly corrupt, possibly escaped).
func decodeItems(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return []any{}
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return codec.DecodeSlice(s)
	}
	return codec.DecodeSlice(string(raw))
}

func itemsToAny(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
