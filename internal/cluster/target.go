package cluster

import (
	"net/url"
	"regexp"
	"strings"
)

var serviceHostPattern = regexp.MustCompile(`^([a-z0-9-]+)\.([a-z0-9-]+)\.svc(?:\.cluster\.local)?$`)

// Target is an in-cluster Service addressed by its DNS name.
type Target struct {
	Namespace string
	Service   string
}

func (t Target) String() string {
	return t.Namespace + "/" + t.Service
}

// ParseTarget recognizes <service>.<namespace>.svc[.cluster.local] hosts.
// ok is false for any other URL, which marks the service as external.
func ParseTarget(rawURL string) (Target, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, false
	}
	m := serviceHostPattern.FindStringSubmatch(strings.ToLower(u.Hostname()))
	if m == nil {
		return Target{}, false
	}
	return Target{Service: m[1], Namespace: m[2]}, true
}
