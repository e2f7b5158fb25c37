package codegen

import (
	"strings"
	"testing"
)

func TestGeneratePlainSchemeAlphabetAndLength(t *testing.T) {
	alphabet := "ABCDEF123456"
	gen := New(alphabet, 32, "")

	for i := 0; i < 100; i++ {
		code := gen.Generate()
		if len(code) != 32 {
			t.Fatalf("expected length 32, got %d (%q)", len(code), code)
		}
		for _, r := range code {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}

func TestGeneratePrefixScheme(t *testing.T) {
	gen := New("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", 16, "L")

	code := gen.Generate()
	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		t.Fatalf("expected PREFIX-SEGMENT-SUFFIX, got %q", code)
	}
	if parts[0] != "L" {
		t.Fatalf("expected prefix L, got %q", parts[0])
	}
	if len(parts[1]) != 16 {
		t.Fatalf("expected 16-char segment, got %d (%q)", len(parts[1]), parts[1])
	}
	if len(parts[2]) != 8 {
		t.Fatalf("expected 8-char uuid suffix, got %d (%q)", len(parts[2]), parts[2])
	}
	if code != strings.ToUpper(code) {
		t.Fatalf("prefix-scheme code should be uppercase, got %q", code)
	}
}

func TestGenerateNoDuplicates(t *testing.T) {
	gen := New("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", 16, "L")

	const n = 1000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		seen[gen.Generate()] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct codes, got %d", n, len(seen))
	}
}
