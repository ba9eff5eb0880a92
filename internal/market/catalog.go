package market

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCatalog reads a YAML catalog override. Sections left empty in the file
// keep the compiled-in defaults, so a deployment can extend just the stock
// list or just the base prices.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	catalog := DefaultCatalog()
	if len(override.Forex) > 0 {
		catalog.Forex = override.Forex
	}
	if len(override.Crypto) > 0 {
		catalog.Crypto = override.Crypto
	}
	if len(override.Metals) > 0 {
		catalog.Metals = override.Metals
	}
	if len(override.Energy) > 0 {
		catalog.Energy = override.Energy
	}
	if len(override.Stocks) > 0 {
		catalog.Stocks = override.Stocks
	}
	if len(override.Priority) > 0 {
		catalog.Priority = override.Priority
	}
	for sym, price := range override.BasePrices {
		catalog.BasePrices[sym] = price
	}
	for sym, name := range override.Names {
		catalog.Names[sym] = name
	}
	return catalog, nil
}
