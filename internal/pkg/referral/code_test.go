package referral

import (
	"strings"
	"testing"
)

func TestGenerateCodeLength(t *testing.T) {
	if got := GenerateCode(DefaultCodeLength); len(got) != DefaultCodeLength {
		t.Fatalf("expected length %d, got %d (%q)", DefaultCodeLength, len(got), got)
	}
	if got := GenerateCode(12); len(got) != 12 {
		t.Fatalf("expected length 12, got %d", len(got))
	}
}

func TestGenerateCodeDefaultsOnInvalidLength(t *testing.T) {
	for _, length := range []int{0, -3} {
		if got := GenerateCode(length); len(got) != DefaultCodeLength {
			t.Fatalf("length %d: expected fallback to %d, got %d", length, DefaultCodeLength, len(got))
		}
	}
}

func TestGenerateCodeAlphabet(t *testing.T) {
	if len(codeAlphabet) != 33 {
		t.Fatalf("expected 33-character alphabet, got %d", len(codeAlphabet))
	}
	for _, forbidden := range []string{"0", "1", "I"} {
		if strings.Contains(codeAlphabet, forbidden) {
			t.Fatalf("alphabet must not contain %q", forbidden)
		}
	}

	for i := 0; i < 200; i++ {
		code := GenerateCode(DefaultCodeLength)
		for _, ch := range code {
			if !strings.ContainsRune(codeAlphabet, ch) {
				t.Fatalf("code %q contains character %q outside the alphabet", code, ch)
			}
		}
	}
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[GenerateCode(DefaultCodeLength)] = true
	}
	if len(seen) < 45 {
		t.Fatalf("expected near-unique codes, got %d distinct out of 50", len(seen))
	}
}
