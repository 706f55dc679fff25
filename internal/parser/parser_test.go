package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		expectedCards int
		expectedFront string
		expectedCtx   string
		expectedTags  []string
	}{
		{
			name:          "Question only",
			input:         "Q: What is the capital of France?",
			expectedCards: 1,
			expectedFront: "What is the capital of France?",
			expectedTags:  []string{},
		},
		{
			name:          "Question, context and tags",
			input:         "Q: What is 1+1?\nC: Basic arithmetic\nT: math, basics",
			expectedCards: 1,
			expectedFront: "What is 1+1?",
			expectedCtx:   "Basic arithmetic",
			expectedTags:  []string{"math", "basics"},
		},
		{
			name: "Multiline context",
			input: `
Q: What is Go?
C: A statically typed, compiled programming language.
It was designed at Google.
`,
			expectedCards: 1,
			expectedFront: "What is Go?",
			expectedCtx:   "A statically typed, compiled programming language.\nIt was designed at Google.",
			expectedTags:  []string{},
		},
		{
			name:          "Answer is kept with the context",
			input:         "Q: What are the primary colors?\nA: Red\nBlue\nYellow\nC: Painting",
			expectedCards: 1,
			expectedFront: "What are the primary colors?",
			expectedCtx:   "Painting\n\nAnswer: Red\nBlue\nYellow",
			expectedTags:  []string{},
		},
		{
			name: "Two Cards",
			input: `
Q: First question
C: First context

Q: Second question
`,
			expectedCards: 2,
		},
		{
			name:          "Separator ends a card",
			input:         "Q: one\n---\nstray text\n---\nQ: two",
			expectedCards: 2,
		},
		{
			name:          "No cards, just text",
			input:         "This is a file with no questions.\nT: ignored",
			expectedCards: 0,
		},
		{
			name:          "Prefixes with no space",
			input:         "Q:Question\nC:Context\nT:a,,a, b ",
			expectedCards: 1,
			expectedFront: "Question",
			expectedCtx:   "Context",
			expectedTags:  []string{"a", "b"},
		},
		{
			name:          "Text after tags is dropped",
			input:         "Q: q\nT: x\nnot part of anything",
			expectedCards: 1,
			expectedFront: "q",
			expectedTags:  []string{"x"},
		},
		{
			name:          "Windows line endings",
			input:         "Q: q\r\nC: c\r\n",
			expectedCards: 1,
			expectedFront: "q",
			expectedCtx:   "c",
			expectedTags:  []string{},
		},
		{
			name:          "Empty question is skipped",
			input:         "Q:   \nC: orphan context\n---\nQ: real",
			expectedCards: 1,
			expectedFront: "real",
			expectedTags:  []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			drafts, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(drafts) != tc.expectedCards {
				t.Fatalf("Expected %d cards, but got %d", tc.expectedCards, len(drafts))
			}

			if tc.expectedCards == 1 {
				d := drafts[0]
				if d.Front != tc.expectedFront {
					t.Errorf("Expected Front to be '%s', but got '%s'", tc.expectedFront, d.Front)
				}
				gotCtx := ""
				if d.Context != nil {
					gotCtx = *d.Context
				}
				if gotCtx != tc.expectedCtx {
					t.Errorf("Expected Context to be '%s', but got '%s'", tc.expectedCtx, gotCtx)
				}
				if !reflect.DeepEqual(d.Tags, tc.expectedTags) {
					t.Errorf("Expected Tags to be %v, but got %v", tc.expectedTags, d.Tags)
				}
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\n\nQ: a\n---\nQ: b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	drafts, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("Expected 2 cards, but got %d", len(drafts))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
