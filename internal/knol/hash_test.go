package knol

import (
	"testing"

	"github.com/conorfennell/dailyreview/internal/domain"
)

func ptr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	d := domain.Draft{
		Front:   "  What is HTMX? \r\n",
		Context: ptr("Web Development\r\nwith HTML"),
	}
	expected := "what is htmx?\nweb development\nwith html"
	normalized := Normalize(d)

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		d := domain.Draft{Front: "Q", Context: ptr("C")}
		// Hash for "q\nc"
		expectedHash := "84ca9a54ac01a3041f9c708743ec4c14fbaaf28e9d2f7ddac72537209e633326"
		hash := Hash(d)

		if hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		d1 := domain.Draft{Front: "  what is go? ", Context: ptr("A language")}
		d2 := domain.Draft{Front: "What Is Go?", Context: ptr("a language ")}
		if Hash(d1) != Hash(d2) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("missing context equals empty context", func(t *testing.T) {
		if Hash(domain.Draft{Front: "x"}) != Hash(domain.Draft{Front: "x", Context: ptr("  ")}) {
			t.Error("Expected nil and blank context to hash the same")
		}
	})

	t.Run("different cards have different hashes", func(t *testing.T) {
		if Hash(domain.Draft{Front: "Card 1"}) == Hash(domain.Draft{Front: "Card 2"}) {
			t.Error("Expected hashes for different cards to be different")
		}
	})
}

func TestID(t *testing.T) {
	d := domain.Draft{Front: "What is Go?", Context: ptr("A language"), Tags: []string{"go"}}

	const expected = "57955b50-0329-5adc-a698-21c72e377be2"
	if got := ID("ada", d); got != expected {
		t.Errorf("Expected ID '%s', but got '%s'", expected, got)
	}

	retagged := d
	retagged.Tags = []string{"golang", "languages"}
	if ID("ada", retagged) != expected {
		t.Error("Expected tags to leave the ID unchanged")
	}

	if ID("grace", d) == expected {
		t.Error("Expected different owners to get different IDs")
	}
}
