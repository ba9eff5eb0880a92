package market

import "strings"

// Category buckets instruments for the admin UI.
type Category string

const (
	CategoryForex  Category = "Forex"
	CategoryMetals Category = "Metals"
	CategoryEnergy Category = "Energy"
	CategoryCrypto Category = "Crypto"
	CategoryStocks Category = "Stocks"
	CategoryOther  Category = "Other"
)

// Catalog is the instrument universe the feed works through.
type Catalog struct {
	Forex  []string `yaml:"forex"`
	Crypto []string `yaml:"crypto"`
	Metals []string `yaml:"metals"`
	Energy []string `yaml:"energy"`
	Stocks []string `yaml:"stocks"`

	// Priority symbols are fetched/subscribed first.
	Priority []string `yaml:"priority"`

	// BasePrices seed the simulator.
	BasePrices map[string]float64 `yaml:"base_prices"`

	// Names maps symbols to display names.
	Names map[string]string `yaml:"names"`
}

// DefaultCatalog returns the compiled-in instrument universe.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Forex: []string{
			"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "NZDUSD", "USDCAD",
			"EURGBP", "EURJPY", "GBPJPY", "EURCHF", "EURAUD", "EURCAD", "AUDCAD",
			"AUDJPY", "CADJPY", "CHFJPY", "NZDJPY", "AUDNZD", "CADCHF", "GBPCHF",
			"GBPNZD", "EURNZD", "NZDCAD", "NZDCHF", "AUDCHF", "GBPAUD", "GBPCAD",
		},
		Crypto: []string{
			"BTCUSD", "ETHUSD", "BNBUSD", "SOLUSD", "XRPUSD", "ADAUSD", "DOGEUSD",
			"TRXUSD", "LINKUSD", "MATICUSD", "DOTUSD", "SHIBUSD", "LTCUSD", "BCHUSD",
			"AVAXUSD", "XLMUSD", "UNIUSD", "ATOMUSD", "ETCUSD", "FILUSD",
		},
		Metals: []string{"XAUUSD", "XAGUSD", "XPTUSD", "XPDUSD"},
		Energy: []string{"USOIL", "UKOIL", "NGAS"},
		Stocks: []string{
			"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA",
			"JPM", "V", "JNJ", "WMT", "PG", "MA", "UNH", "HD",
		},
		Priority: []string{
			"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "XAGUSD", "BTCUSD", "ETHUSD",
			"USDCHF", "AUDUSD", "USDCAD", "EURGBP", "EURJPY", "GBPJPY", "USOIL",
		},
		BasePrices: map[string]float64{
			"EURUSD": 1.0850, "GBPUSD": 1.2650, "USDJPY": 149.50, "USDCHF": 0.8850,
			"AUDUSD": 0.6550, "NZDUSD": 0.6150, "USDCAD": 1.3550, "EURGBP": 0.8580,
			"EURJPY": 162.20, "GBPJPY": 189.10, "XAUUSD": 2025.50, "XAGUSD": 23.15,
			"BTCUSD": 43500, "ETHUSD": 2280, "USOIL": 78.50, "UKOIL": 82.30,
			"XRPUSD": 0.62, "SOLUSD": 98.50, "BNBUSD": 310, "ADAUSD": 0.55,
			"DOGEUSD": 0.085, "NGAS": 2.85,
		},
		Names: map[string]string{
			"EURUSD": "EUR/USD", "GBPUSD": "GBP/USD", "USDJPY": "USD/JPY", "USDCHF": "USD/CHF",
			"AUDUSD": "AUD/USD", "NZDUSD": "NZD/USD", "USDCAD": "USD/CAD", "EURGBP": "EUR/GBP",
			"EURJPY": "EUR/JPY", "GBPJPY": "GBP/JPY", "XAUUSD": "Gold", "XAGUSD": "Silver",
			"XPTUSD": "Platinum", "XPDUSD": "Palladium",
			"BTCUSD": "Bitcoin", "ETHUSD": "Ethereum", "USOIL": "US Oil", "UKOIL": "UK Oil",
			"NGAS": "Natural Gas",
		},
	}
}

// All returns the full symbol universe in rotation order.
func (c *Catalog) All() []string {
	out := make([]string, 0, len(c.Forex)+len(c.Crypto)+len(c.Metals)+len(c.Energy)+len(c.Stocks))
	out = append(out, c.Forex...)
	out = append(out, c.Crypto...)
	out = append(out, c.Metals...)
	out = append(out, c.Energy...)
	out = append(out, c.Stocks...)
	return out
}

// Categorize classifies a symbol by exact list membership first, then by
// pattern fallback for symbols outside the catalog.
func (c *Catalog) Categorize(symbol string) Category {
	switch {
	case contains(c.Forex, symbol):
		return CategoryForex
	case contains(c.Metals, symbol):
		return CategoryMetals
	case contains(c.Energy, symbol):
		return CategoryEnergy
	case contains(c.Crypto, symbol):
		return CategoryCrypto
	case contains(c.Stocks, symbol):
		return CategoryStocks
	}

	// Pattern fallback.
	switch {
	case strings.HasPrefix(symbol, "XAU"), strings.HasPrefix(symbol, "XAG"),
		strings.HasPrefix(symbol, "XPT"), strings.HasPrefix(symbol, "XPD"):
		return CategoryMetals
	case strings.Contains(symbol, "OIL"), symbol == "NGAS":
		return CategoryEnergy
	case strings.HasSuffix(symbol, "USD") && len(symbol) <= 6:
		return CategoryForex
	case strings.HasSuffix(symbol, "USD") && len(symbol) > 6:
		return CategoryCrypto
	}
	return CategoryOther
}

// DisplayName returns a human name for a symbol, falling back to the symbol.
func (c *Catalog) DisplayName(symbol string) string {
	if name, ok := c.Names[symbol]; ok {
		return name
	}
	return symbol
}

// spreadFor picks a synthetic spread for a simulated quote. JPY-quoted pairs,
// metals and thinly-quoted crypto get wider spreads than major forex pairs.
func (c *Catalog) spreadFor(symbol string, base float64) float64 {
	switch c.Categorize(symbol) {
	case CategoryMetals:
		if symbol == "XAUUSD" {
			return 0.50
		}
		return 0.05
	case CategoryEnergy:
		return 0.05
	case CategoryCrypto:
		return base * 0.0005 // relative, so SHIB-sized tickers stay sane
	case CategoryStocks:
		return 0.02
	default:
		if strings.Contains(symbol, "JPY") {
			return 0.03
		}
		return 0.0003
	}
}

func contains(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}
