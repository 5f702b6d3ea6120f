package contract

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want Contract
	}{
		{"CONTRACT_ONE", One},
		{"CONTRACT_TWO", Two},
		{"contract_one", One},
		{"  CONTRACT_TWO ", Two},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "YES", "CONTRACT_THREE", "ONE"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidContract) {
			t.Errorf("Parse(%q): expected ErrInvalidContract, got %v", in, err)
		}
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("buy")
	if err != nil || d != Buy {
		t.Fatalf("expected BUY, got %q (%v)", d, err)
	}
	d, err = ParseDirection("SELL")
	if err != nil || d != Sell {
		t.Fatalf("expected SELL, got %q (%v)", d, err)
	}
	if _, err := ParseDirection("HOLD"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestOther(t *testing.T) {
	if One.Other() != Two {
		t.Errorf("expected CONTRACT_TWO as complement of CONTRACT_ONE")
	}
	if Two.Other() != One {
		t.Errorf("expected CONTRACT_ONE as complement of CONTRACT_TWO")
	}
}

func TestDirectionSign(t *testing.T) {
	if Buy.Sign() != 1 || Sell.Sign() != -1 {
		t.Errorf("unexpected signs: buy=%d sell=%d", Buy.Sign(), Sell.Sign())
	}
}

func TestValid(t *testing.T) {
	if !One.Valid() || !Two.Valid() || Contract("X").Valid() {
		t.Error("contract validity mismatch")
	}
	if !Buy.Valid() || !Sell.Valid() || Direction("").Valid() {
		t.Error("direction validity mismatch")
	}
}
