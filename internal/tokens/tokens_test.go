package tokens

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one token", "1.00", 100},
		{"half token", "0.50", 50},
		{"hundred", "100", 10_000},
		{"smallest unit", "0.01", 1},
		{"no frac", "1", 100},
		{"short frac", "1.5", 150},
		{"large amount", "999999.99", 99_999_999},
		{"leading zeros", "007.50", 750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_EmptyString(t *testing.T) {
	got, ok := Parse("")
	if !ok {
		t.Fatal("Parse(\"\") returned ok=false")
	}
	if got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %s, want 0", got.String())
	}
}

func TestParse_TruncationBeyondTwoDecimals(t *testing.T) {
	got, ok := Parse("1.129")
	if !ok {
		t.Fatal("Parse returned ok=false")
	}
	if got.Int64() != 112 {
		t.Errorf("Parse(\"1.129\") = %d, want 112 (truncated to 2 decimals)", got.Int64())
	}
}

func TestParse_InvalidInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"negative", "-1.00"},
		{"alphabetic", "abc"},
		{"multiple dots", "1.2.3"},
		{"has letters", "12abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Parse(tt.input)
			if ok {
				t.Errorf("Parse(%q) should return ok=false", tt.input)
			}
		})
	}
}

func TestParseSigned(t *testing.T) {
	got, ok := ParseSigned("-30.00")
	if !ok {
		t.Fatal("ParseSigned(\"-30.00\") returned ok=false")
	}
	if got.Int64() != -3000 {
		t.Errorf("ParseSigned(\"-30.00\") = %d, want -3000", got.Int64())
	}

	got, ok = ParseSigned("30.00")
	if !ok || got.Int64() != 3000 {
		t.Errorf("ParseSigned(\"30.00\") = %v, %v, want 3000, true", got, ok)
	}

	if _, ok := ParseSigned("--1"); ok {
		t.Error("ParseSigned(\"--1\") should return ok=false")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"nil handled separately", 0, "0.00"},
		{"one unit", 1, "0.01"},
		{"one token", 100, "1.00"},
		{"negative", -3000, "-30.00"},
		{"large", 99_999_999, "999999.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(big.NewInt(tt.input))
			if got != tt.expected {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if got := Format(nil); got != "0.00" {
		t.Errorf("Format(nil) = %q, want \"0.00\"", got)
	}
}

func TestRoundTrip_Canonical(t *testing.T) {
	canonical := []string{"0.00", "0.01", "1.00", "1.50", "100.12", "999999.99"}

	for _, s := range canonical {
		t.Run(s, func(t *testing.T) {
			parsed, ok := Parse(s)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", s)
			}
			if got := Format(parsed); got != s {
				t.Errorf("Format(Parse(%q)) = %q", s, got)
			}
		})
	}
}

func TestRoundTrip_SignedDeltas(t *testing.T) {
	// Debit deltas come back out of history with their sign intact.
	deltas := []string{"-0.01", "-30.00", "100.00"}
	for _, s := range deltas {
		parsed, ok := ParseSigned(s)
		if !ok {
			t.Fatalf("ParseSigned(%q) returned ok=false", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("Format(ParseSigned(%q)) = %q", s, got)
		}
	}
}
