package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftsync/draftsync/pkg/protocol"
	"github.com/draftsync/draftsync/pkg/store"
)

// tracerName identifies the handler's spans in the global tracer provider.
const tracerName = "draftsync/server"

// Handler decodes inbound messages, enforces lifecycle and ownership rules,
// and executes commands against the draft store.
//
// Every failure while handling one command, including a recovered panic, is
// turned into a structured error response on the same connection; nothing
// ever propagates to other connections.
type Handler struct {
	registry    *Registry
	store       store.Store
	broadcaster *Broadcaster

	enforceOwnership bool

	tracer  trace.Tracer
	metrics *Metrics
	logger  *slog.Logger
}

// NewHandler creates a command handler. The tracer comes from the global
// OpenTelemetry provider; without one configured, spans are no-ops.
func NewHandler(registry *Registry, st store.Store, broadcaster *Broadcaster, config *Config, metrics *Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:         registry,
		store:            st,
		broadcaster:      broadcaster,
		enforceOwnership: !config.DisableOwnershipCheck,
		tracer:           otel.Tracer(tracerName),
		metrics:          metrics,
		logger:           logger.With("component", "handler"),
	}
}

// Handle processes one raw inbound message on the given connection. Commands
// from a single connection are handled in arrival order; the caller invokes
// Handle synchronously from the connection's read loop.
func (h *Handler) Handle(ctx context.Context, c *Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("command panic",
				"conn_id", c.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
			c.Send(protocol.Error("internal server error"))
		}
	}()

	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		c.Send(protocol.Error(err.Error()))
		return
	}

	action := cmd.CommandAction()
	ctx, span := h.tracer.Start(ctx, "draftsync.command",
		trace.WithAttributes(attribute.String("command.action", string(action))))
	defer span.End()

	start := time.Now()
	var ok bool

	switch cmd := cmd.(type) {
	case protocol.InitCommand:
		ok = h.handleInit(c, cmd)
	case protocol.SaveCommand:
		ok = h.handleSave(ctx, c, cmd)
	case protocol.UpdateCommand:
		ok = h.handleUpdate(ctx, c, cmd)
	case protocol.GetCommand:
		ok = h.handleGet(ctx, c, cmd)
	default:
		c.Send(protocol.Error("Invalid action"))
	}

	status := protocol.StatusSuccess
	if !ok {
		status = protocol.StatusError
		span.SetStatus(codes.Error, "command failed")
	}
	h.metrics.Command(action, status, time.Since(start))
}

// handleInit performs the handshake. A missing owner identity is not
// retryable: the connection receives an error and is discarded.
func (h *Handler) handleInit(c *Conn, cmd protocol.InitCommand) bool {
	if c.State() != StateConnecting {
		c.Send(protocol.Error("connection already initialized"))
		return false
	}

	if cmd.UserID == "" {
		c.Send(protocol.Error("userId is required for initialization"))
		c.Close()
		return false
	}

	if err := h.registry.SetOwner(c, cmd.UserID); err != nil {
		c.Send(protocol.Error(err.Error()))
		if err == ErrInvalidOwner || err == ErrConnClosed {
			c.Close()
		}
		return false
	}

	c.Send(protocol.InitResponse())
	return true
}

func (h *Handler) handleSave(ctx context.Context, c *Conn, cmd protocol.SaveCommand) bool {
	if !h.requireAuthenticated(c) {
		return false
	}

	draft, err := h.store.Create(ctx, store.Draft{
		Data:        cmd.Data,
		UserID:      cmd.UserID,
		StoryblokID: cmd.StoryblokID,
	})
	if err != nil {
		h.logger.Error("save failed", "conn_id", c.ID(), "error", err)
		c.Send(protocol.Error(err.Error()))
		return false
	}

	// The response goes out before the fan-out and regardless of its
	// outcome.
	c.Send(protocol.SaveResponse(draft))
	h.broadcaster.Broadcast(ctx, draft.UserID, protocol.SaveNotification(draft))
	return true
}

func (h *Handler) handleUpdate(ctx context.Context, c *Conn, cmd protocol.UpdateCommand) bool {
	if !h.requireAuthenticated(c) {
		return false
	}

	draft, err := h.store.UpdateByID(ctx, cmd.ID, store.Update{
		Data:        cmd.Data,
		StoryblokID: cmd.StoryblokID,
	})
	if err != nil {
		if err == store.ErrNotFound {
			c.Send(protocol.Error("Document not found"))
			return false
		}
		h.logger.Error("update failed", "conn_id", c.ID(), "error", err)
		c.Send(protocol.Error(err.Error()))
		return false
	}

	c.Send(protocol.UpdateResponse(draft))
	h.broadcaster.Broadcast(ctx, draft.UserID, protocol.UpdateNotification(draft))
	return true
}

func (h *Handler) handleGet(ctx context.Context, c *Conn, cmd protocol.GetCommand) bool {
	if !h.requireAuthenticated(c) {
		return false
	}

	if h.enforceOwnership && cmd.UserID != c.Owner() {
		c.Send(protocol.Error("Unauthorized: Can only query your own userId"))
		return false
	}

	drafts, err := h.store.Query(ctx, store.Filter{
		UserID:      cmd.UserID,
		StoryblokID: cmd.StoryblokID,
	})
	if err != nil {
		h.logger.Error("get failed", "conn_id", c.ID(), "error", err)
		c.Send(protocol.Error(err.Error()))
		return false
	}
	if drafts == nil {
		drafts = []store.Draft{}
	}

	c.Send(protocol.GetResponse(drafts))
	return true
}

// requireAuthenticated rejects commands on connections that have not
// completed the handshake. The connection remains open.
func (h *Handler) requireAuthenticated(c *Conn) bool {
	if c.State() != StateAuthenticated {
		c.Send(protocol.Error("connection not initialized"))
		return false
	}
	return true
}
