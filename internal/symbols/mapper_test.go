package symbols

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"okx", "ETH-USDT-SWAP", "ETHUSDT"},
		{"binance", "ETHUSDT", "ETHUSDT"},
		{"binance", "btcusdt", "BTCUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000BONKUSDT", "BONKUSDT"},
		{"bybit", "1000PEPEUSDT", "PEPEUSDT"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Canonical(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestNative(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"okx", "BTCUSDT", "BTC-USDT-SWAP"},
		{"okx", "ETHUSDC", "ETH-USDC-SWAP"},
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"binance", "BONKUSDT", "1000BONKUSDT"},
		{"binance", "pepeusdt", "1000PEPEUSDT"},
		{"binance", "SHIBUSDT", "1000SHIBUSDT"},
		{"bybit", "ethusdt", "ETHUSDT"},
		{"bybit", "BONKUSDT", "1000BONKUSDT"},
		{"bybit", "PEPEUSDT", "1000PEPEUSDT"},
		{"bybit", "SHIBUSDT", "SHIB1000USDT"},
	}
	for _, tt := range tests {
		if got := Native(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Native(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BONKUSDT", "PEPEUSDT", "SHIBUSDT"} {
		for _, ex := range []string{"binance", "okx", "bybit"} {
			if got := Canonical(ex, Native(ex, sym)); got != sym {
				t.Errorf("%s round trip via %s = %s", sym, ex, got)
			}
		}
	}
}
