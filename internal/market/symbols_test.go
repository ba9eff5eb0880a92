package market

import "testing"

func TestCategorize(t *testing.T) {
	catalog := DefaultCatalog()

	tests := []struct {
		symbol string
		want   Category
	}{
		// Exact list membership
		{"EURUSD", CategoryForex},
		{"XAUUSD", CategoryMetals},
		{"USOIL", CategoryEnergy},
		{"BTCUSD", CategoryCrypto},
		{"AAPL", CategoryStocks},
		// Pattern fallback for symbols outside the catalog
		{"XAUEUR", CategoryMetals},
		{"XPDJPY", CategoryMetals},
		{"HEATOIL", CategoryEnergy},
		{"NGAS", CategoryEnergy},
		{"SEKUSD", CategoryForex},  // 6 chars ending in USD
		{"AVAX2USD", CategoryCrypto}, // >6 chars ending in USD
		{"DE40", CategoryOther},
	}

	for _, tt := range tests {
		if got := catalog.Categorize(tt.symbol); got != tt.want {
			t.Errorf("Categorize(%s)=%s, expected %s", tt.symbol, got, tt.want)
		}
	}
}

func TestAllCoversEveryList(t *testing.T) {
	catalog := DefaultCatalog()
	all := catalog.All()

	want := len(catalog.Forex) + len(catalog.Crypto) + len(catalog.Metals) +
		len(catalog.Energy) + len(catalog.Stocks)
	if len(all) != want {
		t.Fatalf("All()=%d symbols, expected %d", len(all), want)
	}

	seen := make(map[string]bool, len(all))
	for _, sym := range all {
		if seen[sym] {
			t.Fatalf("duplicate symbol %s in universe", sym)
		}
		seen[sym] = true
	}
}

func TestPrioritySymbolsAreInUniverse(t *testing.T) {
	catalog := DefaultCatalog()
	universe := make(map[string]bool)
	for _, sym := range catalog.All() {
		universe[sym] = true
	}
	for _, sym := range catalog.Priority {
		if !universe[sym] {
			t.Errorf("priority symbol %s missing from universe", sym)
		}
	}
}

func TestDisplayName(t *testing.T) {
	catalog := DefaultCatalog()
	if got := catalog.DisplayName("XAUUSD"); got != "Gold" {
		t.Fatalf("DisplayName(XAUUSD)=%q", got)
	}
	if got := catalog.DisplayName("UNKNOWN"); got != "UNKNOWN" {
		t.Fatalf("DisplayName fallback=%q", got)
	}
}
