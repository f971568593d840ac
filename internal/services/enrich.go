package services

import (
	"net"
	"strings"

	"github.com/mssola/user_agent"
)

const maskedIPv6 = "IPv6 (Masked)"

// enrichment is derived server side and never trusted from the client.
type enrichment struct {
	UABrowser string
	IsBot     bool
	Country   string
	Region    string
	City      string
	MaskedIP  string
}

func (s *VisitorService) enrich(userAgent, ip string) enrichment {
	ua := user_agent.New(userAgent)
	name, version := ua.Browser()

	e := enrichment{
		UABrowser: strings.TrimSpace(name + " " + version),
		IsBot:     ua.Bot(),
		Country:   "Unknown",
	}
	if s.geoIP != nil {
		e.Country, e.Region, e.City = s.geoIP.GetLocation(ip)
	}
	e.MaskedIP = maskIP(ip)
	return e
}

// maskIP zeroes the last IPv4 octet and replaces IPv6 addresses with a fixed
// label. Anything that does not parse is returned unchanged.
func maskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		v4[3] = 0
		return v4.String()
	}
	return maskedIPv6
}
