// Package config provides the currency table and the daemon configuration file.
package config

import (
	"sort"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
)

// Currency is a coin the trading daemon can swap.
type Currency struct {
	Symbol   string // e.g., "RES", "BTC"
	Name     string // e.g., "Resistance", "Bitcoin"
	Decimals uint8  // Decimal places

	// Electrum servers enabled by default.
	Electrum []marketmaker.ElectrumServer
}

// Currencies defines all supported currencies.
var Currencies = map[string]Currency{
	"RES": {
		Symbol:   "RES",
		Name:     "Resistance",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.resistance.io", Port: 50001},
			{Host: "electrum2.resistance.io", Port: 50001},
		},
	},
	"BTC": {
		Symbol:   "BTC",
		Name:     "Bitcoin",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.cipig.net", Port: 10000},
			{Host: "electrum2.cipig.net", Port: 10000},
			{Host: "electrum3.cipig.net", Port: 10000},
		},
	},
	"LTC": {
		Symbol:   "LTC",
		Name:     "Litecoin",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.cipig.net", Port: 10063},
			{Host: "electrum2.cipig.net", Port: 10063},
		},
	},
	"DOGE": {
		Symbol:   "DOGE",
		Name:     "Dogecoin",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.cipig.net", Port: 10060},
			{Host: "electrum2.cipig.net", Port: 10060},
		},
	},
	"DASH": {
		Symbol:   "DASH",
		Name:     "Dash",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.cipig.net", Port: 10061},
			{Host: "electrum2.cipig.net", Port: 10061},
		},
	},
	"KMD": {
		Symbol:   "KMD",
		Name:     "Komodo",
		Decimals: 8,
		Electrum: []marketmaker.ElectrumServer{
			{Host: "electrum1.cipig.net", Port: 10001},
			{Host: "electrum2.cipig.net", Port: 10001},
		},
	},
}

// GetCurrency returns the currency for a symbol.
func GetCurrency(symbol string) (Currency, bool) {
	c, ok := Currencies[symbol]
	return c, ok
}

// IsCurrencySupported returns true if the currency is supported.
func IsCurrencySupported(symbol string) bool {
	_, ok := Currencies[symbol]
	return ok
}

// ListCurrencies returns all supported symbols in sorted order.
func ListCurrencies() []string {
	symbols := make([]string, 0, len(Currencies))
	for symbol := range Currencies {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
