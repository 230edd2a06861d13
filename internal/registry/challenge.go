package registry

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	challengeParamPattern = regexp.MustCompile(`([a-zA-Z]+)="([^"]*)"`)
	nextLinkPattern       = regexp.MustCompile(`(?i)<([^>]+)>\s*;\s*rel="?next"?`)
)

// challenge is a parsed WWW-Authenticate header.
type challenge struct {
	Scheme string            // lower-cased, ex: "bearer"
	Params map[string]string // lower-cased keys: realm, service, scope
}

// parseChallenge reads `Bearer realm="...",service="...",scope="..."`.
// ok is false when the header carries no scheme.
func parseChallenge(header string) (challenge, bool) {
	header = strings.TrimSpace(header)
	space := strings.IndexByte(header, ' ')
	if space <= 0 {
		return challenge{}, false
	}

	ch := challenge{
		Scheme: strings.ToLower(header[:space]),
		Params: make(map[string]string, 3),
	}
	for _, m := range challengeParamPattern.FindAllStringSubmatch(header[space+1:], -1) {
		ch.Params[strings.ToLower(m[1])] = m[2]
	}
	return ch, true
}

// nextLink extracts the rel="next" target of a Link header, resolved against base.
// It returns "" when there is no further page.
func nextLink(header string, base *url.URL) string {
	m := nextLinkPattern.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	ref, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
