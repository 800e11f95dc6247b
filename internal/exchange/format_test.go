package exchange

import (
	"math"
	"testing"
)

func TestDecimals(t *testing.T) {
	tests := []struct {
		name string
		tick float64
		want int32
	}{
		{"thousandth", 0.001, 3},
		{"hundredth", 0.01, 2},
		{"tenth", 0.1, 1},
		{"unit", 1, 0},
		{"ten", 10, 0},
		{"zero falls back to default", 0, 3},
		{"negative falls back to default", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decimals(tt.tick); got != tt.want {
				t.Errorf("Decimals(%v) = %d, want %d", tt.tick, got, tt.want)
			}
		})
	}
}

func TestQuantizeSize(t *testing.T) {
	tests := []struct {
		name string
		size float64
		tick float64
		want float64
	}{
		{"rounds down", 0.12345, 0.001, 0.123},
		{"exact multiple unchanged", 0.5, 0.001, 0.5},
		{"coarse tick", 12.7, 1, 12},
		{"below tick becomes zero", 0.0004, 0.001, 0},
		{"negative size becomes zero", -1, 0.001, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuantizeSize(tt.size, tt.tick); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("QuantizeSize(%v, %v) = %v, want %v", tt.size, tt.tick, got, tt.want)
			}
		})
	}
}

func TestQuantizePrice(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		price  float64
		tick   float64
		want   float64
	}{
		{"rounds to nearest down", "ETH-PERP", 2000.1234, 0.001, 2000.123},
		{"rounds to nearest up", "ETH-PERP", 2000.1236, 0.001, 2000.124},
		{"btc truncates to integer", "BTC-PERP", 43250.87, 0.001, 43250},
		{"btc lowercase input", "btc", 99999.99, 0.001, 99999},
		{"price below tick floors at one tick", "SHIB-PERP", 0.4, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuantizePrice(tt.symbol, tt.price, tt.tick); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("QuantizePrice(%s, %v, %v) = %v, want %v", tt.symbol, tt.price, tt.tick, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name string
		size float64
		tick float64
		want string
	}{
		{"trims to tick", 0.123456, 0.001, "0.123"},
		{"whole number", 5.0, 0.001, "5"},
		{"integer tick", 7.9, 1, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSize(tt.size, tt.tick); got != tt.want {
				t.Errorf("FormatSize(%v, %v) = %q, want %q", tt.size, tt.tick, got, tt.want)
			}
		})
	}
}

func TestApplySlippage(t *testing.T) {
	if got := ApplySlippage(100, true, 0.02); math.Abs(got-102) > 1e-9 {
		t.Errorf("buy slippage = %v, want 102", got)
	}
	if got := ApplySlippage(100, false, 0.02); math.Abs(got-98) > 1e-9 {
		t.Errorf("sell slippage = %v, want 98", got)
	}
}
