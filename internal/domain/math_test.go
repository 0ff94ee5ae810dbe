package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSafeParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid integer", "100", "100"},
		{"valid decimal", "3.14", "3.14"},
		{"zero", "0", "0"},
		{"negative", "-5.5", "-5.5"},
		{"empty string", "", "0"},
		{"invalid string", "abc", "0"},
		{"whitespace", "  ", "0"},
		{"large number", "999999999999.1234567", "999999999999.1234567"},
		{"small fraction", "0.000000000000000001", "0.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeParse(tt.input)
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("SafeParse(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	_, err := ParseAmount("1.2.3")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("ParseAmount error = %v, want ErrParse", err)
	}

	got, err := ParseAmount(" 2.5 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("ParseAmount = %s, want 2.5", got)
	}
}

func TestPositionValue(t *testing.T) {
	got := PositionValue(decimal.NewFromInt(1850), decimal.NewFromInt(3))
	if !got.Equal(decimal.NewFromInt(5550)) {
		t.Errorf("PositionValue = %s, want 5550", got)
	}
}

func TestPercentOfTotal(t *testing.T) {
	tests := []struct {
		name         string
		value, total int64
		want         string
	}{
		{"quarter", 25, 100, "25"},
		{"whole", 40, 40, "100"},
		{"zero total", 10, 0, "0"},
		{"zero value", 0, 50, "0"},
		{"negative total", 10, -20, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentOfTotal(decimal.NewFromInt(tt.value), decimal.NewFromInt(tt.total))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("PercentOfTotal(%d, %d) = %s, want %s", tt.value, tt.total, got, tt.want)
			}
		})
	}
}

func TestPercentOfTotalSumsToHundred(t *testing.T) {
	tests := []struct {
		name   string
		values []string
	}{
		{"thirds", []string{"1", "1", "1"}},
		{"sevenths", []string{"1", "2", "4"}},
		{"uneven", []string{"0.1", "1234.5678", "0", "99.99"}},
	}
	tolerance := decimal.RequireFromString("0.000000001")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := decimal.Zero
			for _, v := range tt.values {
				total = total.Add(decimal.RequireFromString(v))
			}
			sum := decimal.Zero
			for _, v := range tt.values {
				sum = sum.Add(PercentOfTotal(decimal.RequireFromString(v), total))
			}
			if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(tolerance) {
				t.Errorf("sum of percentages = %s, want ~100", sum)
			}
		})
	}
}

func TestResultEnvelope(t *testing.T) {
	ok := Ok(42)
	if !ok.Success || ok.Data != 42 || ok.Error != "" {
		t.Errorf("Ok(42) = %+v", ok)
	}

	failed := ResultOf(0, ErrNotFound)
	if failed.Success || failed.Error != "not found" {
		t.Errorf("ResultOf(err) = %+v", failed)
	}
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := NewValidationError("sort", "unknown column %q", "bogus")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("errors.Is(ErrValidation) = false")
	}
	if err.Error() != `invalid sort: unknown column "bogus"` {
		t.Errorf("Error() = %q", err.Error())
	}
}
