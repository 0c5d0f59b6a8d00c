package cache

import (
	"strings"

	"github.com/promo-copilot/promoplan/internal/api"
)

// ForecastKey fingerprints a baseline request. Two requests with the same
// window, channel, and department set share a cache entry.
func ForecastKey(rng api.DateRange, channel api.Channel, departments []string) string {
	var b strings.Builder
	b.WriteString(rng.Start.Format("2006-01-02"))
	b.WriteByte(':')
	b.WriteString(rng.End.Format("2006-01-02"))
	b.WriteByte(':')
	b.WriteString(string(channel))
	for _, d := range departments {
		b.WriteByte(':')
		b.WriteString(d)
	}
	return b.String()
}
