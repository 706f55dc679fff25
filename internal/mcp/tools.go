package mcp

import "github.com/mark3labs/mcp-go/mcp"

var ownerOption = mcp.WithString("owner",
	mcp.Description("Card owner. Defaults to the configured owner."),
)

var createToolDef = mcp.NewTool("card_create",
	mcp.WithDescription("Create flashcards for later review. Pass either a single card "+
		"(front, context, tags) or a cards array. New cards wait in triage until the user accepts them."),
	ownerOption,
	mcp.WithString("front", mcp.Description("The question or prompt shown on the card.")),
	mcp.WithString("context", mcp.Description("Background that helps the learner and the grader judge an answer.")),
	mcp.WithString("source_conversation", mcp.Description("Where the card came from, such as a conversation title or link.")),
	mcp.WithArray("tags", mcp.Description("Free-form tags."), mcp.WithStringItems()),
	mcp.WithArray("cards",
		mcp.Description("Several cards at once. Each item takes front, context, source_conversation and tags."),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"front":               map[string]any{"type": "string"},
				"context":             map[string]any{"type": "string"},
				"source_conversation": map[string]any{"type": "string"},
				"tags":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"front"},
		}),
	),
)

var listToolDef = mcp.NewTool("card_list",
	mcp.WithDescription("List cards, optionally filtered by status."),
	ownerOption,
	mcp.WithString("status",
		mcp.Description("Only return cards with this status."),
		mcp.Enum("triaging", "active", "suspended"),
	),
)

var dueToolDef = mcp.NewTool("card_due",
	mcp.WithDescription("Cards due for review now, plus how many are upcoming and when the next one is due."),
	ownerOption,
)

var countsToolDef = mcp.NewTool("card_counts",
	mcp.WithDescription("Number of cards waiting in triage and due for review."),
	ownerOption,
)
