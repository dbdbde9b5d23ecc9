package provider

import (
	"strings"

	"github.com/roofmanager/ms-go-payments/app/types"
)

// Countries served by the regional mobile-money/card processor.
var regionalCountries = map[string]struct{}{
	"GH": {},
	"NG": {},
	"ZA": {},
	"KE": {},
}

// SelectProvider picks the processor for a customer country. Unknown or empty
// input falls through to the global card provider.
func SelectProvider(countryCode string) types.ProviderID {
	if _, ok := regionalCountries[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return types.ProviderRegional
	}
	return types.ProviderCard
}
