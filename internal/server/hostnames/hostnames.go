// Package hostnames derives the set of desired DNS names from Traefik
// routing rules.
package hostnames

import (
	"regexp"

	"github.com/fatalmerlin/dnssync/internal/server/traefik"
)

// Hostname is one desired DNS name together with the router that advertised
// it.
type Hostname struct {
	Hostname string
	Router   string
}

// hostRegex matches backtick-quoted hostnames inside Host(...) predicates.
// The body excludes backticks so adjacent predicates in one rule each yield
// their own match.
var hostRegex = regexp.MustCompile("Host\\(`([^`]+)`\\)")

// Filter keeps only routers whose entry-point list intersects the allowed
// set.
func Filter(routers []traefik.Router, allowed []string) []traefik.Router {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, ep := range allowed {
		allowedSet[ep] = struct{}{}
	}

	kept := make([]traefik.Router, 0, len(routers))
	for _, router := range routers {
		for _, ep := range router.EntryPoints {
			if _, ok := allowedSet[ep]; ok {
				kept = append(kept, router)
				break
			}
		}
	}
	return kept
}

// Extract returns every hostname matched in the routers' rule expressions,
// in route order then match order. A rule may yield zero, one, or multiple
// hostnames; duplicates across routers are not deduplicated here.
func Extract(routers []traefik.Router) []Hostname {
	var hostnames []Hostname
	for _, router := range routers {
		for _, match := range hostRegex.FindAllStringSubmatch(router.Rule, -1) {
			hostnames = append(hostnames, Hostname{Hostname: match[1], Router: router.Name})
		}
	}
	return hostnames
}

// Distinct returns the set of unique hostnames in order of first appearance.
func Distinct(hostnames []Hostname) []string {
	seen := make(map[string]struct{}, len(hostnames))
	var out []string
	for _, h := range hostnames {
		if _, ok := seen[h.Hostname]; ok {
			continue
		}
		seen[h.Hostname] = struct{}{}
		out = append(out, h.Hostname)
	}
	return out
}
