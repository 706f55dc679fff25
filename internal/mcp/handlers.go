package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/conorfennell/dailyreview/internal/deck"
	"github.com/conorfennell/dailyreview/internal/domain"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deck   *deck.Service
	owner  string
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *deck.Service, defaultOwner string, logger *slog.Logger) *Handlers {
	return &Handlers{deck: svc, owner: defaultOwner, logger: logger}
}

type cardInput struct {
	Front              string   `json:"front"`
	Context            *string  `json:"context,omitempty"`
	SourceConversation *string  `json:"source_conversation,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

func (c cardInput) draft() domain.Draft {
	return domain.Draft{
		Front:              c.Front,
		Context:            c.Context,
		SourceConversation: c.SourceConversation,
		Tags:               c.Tags,
	}
}

// CreateRequest represents the arguments for card_create.
type CreateRequest struct {
	Owner string      `json:"owner,omitempty"`
	Cards []cardInput `json:"cards,omitempty"`
	cardInput
}

// ListRequest represents the arguments for card_list.
type ListRequest struct {
	Owner  string         `json:"owner,omitempty"`
	Status *domain.Status `json:"status,omitempty"`
}

// OwnerRequest is the argument set shared by tools that only need an owner.
type OwnerRequest struct {
	Owner string `json:"owner,omitempty"`
}

// CreateResult is returned by card_create.
type CreateResult struct {
	Created int           `json:"created"`
	Cards   []domain.Card `json:"cards"`
}

func (h *Handlers) ownerOr(o string) string {
	if o != "" {
		return o
	}
	return h.owner
}

// HandleCreate handles the card_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return h.errorResult(fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)), nil
	}

	items := input.Cards
	if len(items) == 0 {
		items = []cardInput{input.cardInput}
	}
	drafts := make([]domain.Draft, len(items))
	for i, it := range items {
		drafts[i] = it.draft()
	}

	cards, err := h.deck.Create(ctx, h.ownerOr(input.Owner), drafts)
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(CreateResult{Created: len(cards), Cards: cards})
}

// HandleList handles the card_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return h.errorResult(fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)), nil
	}
	cards, err := h.deck.List(ctx, h.ownerOr(input.Owner), domain.ListFilter{Status: input.Status})
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(cards)
}

// HandleDue handles the card_due tool call.
func (h *Handlers) HandleDue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OwnerRequest](req)
	if err != nil {
		return h.errorResult(fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)), nil
	}
	due, err := h.deck.Due(ctx, h.ownerOr(input.Owner))
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(due)
}

// HandleCounts handles the card_counts tool call.
func (h *Handlers) HandleCounts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[OwnerRequest](req)
	if err != nil {
		return h.errorResult(fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)), nil
	}
	counts, err := h.deck.Counts(ctx, h.ownerOr(input.Owner))
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(counts)
}

// errorResult creates an MCP error result. Internal failures are logged and
// reported without detail.
func (h *Handlers) errorResult(err error) *mcp.CallToolResult {
	code, message := "INTERNAL", "an internal error occurred"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code, message = "INVALID_REQUEST", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		code, message = "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidOperation):
		code, message = "CONFLICT", err.Error()
	default:
		h.logger.Error("tool call failed", "error", err)
	}

	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
