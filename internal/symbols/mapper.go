// Package symbols converts between the canonical symbol form used throughout
// the pipeline (Binance style, e.g. BTCUSDT) and each exchange's native
// representation.
package symbols

import "strings"

// Canonical converts an exchange-native symbol to the canonical form:
// uppercase, no separators, no contract suffixes.
// Currently supported exchanges: binance, okx, bybit.
func Canonical(exchange, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// others already use the desired format
	}
	return sym
}

// Native converts a canonical symbol to the form the exchange expects in
// subscription requests. For OKX the perpetual swap instrument is assumed;
// symbols traded as 1000-multiplied contracts get their prefix back.
func Native(exchange, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "BONKUSDT":
			sym = "1000BONKUSDT"
		case "PEPEUSDT":
			sym = "1000PEPEUSDT"
		case "SHIBUSDT":
			sym = "1000SHIBUSDT"
		}
		return sym
	case "bybit":
		switch sym {
		case "BONKUSDT":
			sym = "1000BONKUSDT"
		case "PEPEUSDT":
			sym = "1000PEPEUSDT"
		case "SHIBUSDT":
			sym = "SHIB1000USDT"
		}
		return sym
	case "okx":
		for _, quote := range []string{"USDT", "USDC", "USD"} {
			if base, ok := strings.CutSuffix(sym, quote); ok && base != "" {
				return base + "-" + quote + "-SWAP"
			}
		}
		return sym
	default:
		return sym
	}
}
