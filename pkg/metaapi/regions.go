package metaapi

import "fmt"

// Regions is the fixed set of MetaApi client-API datacenters.
var Regions = []string{
	"new-york",
	"london",
	"singapore",
	"tokyo",
	"frankfurt",
	"sydney",
}

// DefaultRegion is used when settings carry no region.
const DefaultRegion = "new-york"

// ValidRegion reports whether region names a known datacenter.
func ValidRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}

// BaseURL builds the region-specific REST base URL.
func BaseURL(region string) string {
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://mt-client-api-v1.%s.agiliumtrade.ai", region)
}

// StreamURL builds the region-specific websocket URL for price streaming.
func StreamURL(region string) string {
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("wss://mt-client-api-v1.%s.agiliumtrade.ai/ws", region)
}
