package index

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/domain"
)

// HostScheme builds the public host of a service: <Prefix><id>.<Domain>.
type HostScheme struct {
	Prefix string // ex: "share-"
	Domain string // ex: "example.com"
}

// PublicHost returns the lower-cased public host name of id.
func (h HostScheme) PublicHost(id string) string {
	return strings.ToLower(h.Prefix + id + "." + h.Domain)
}

// PublicURL returns the https URL of id's public host.
func (h HostScheme) PublicURL(id string) string {
	return "https://" + h.PublicHost(id)
}

// MemoryIndex holds the configured services in file order and resolves
// them by id or by public host.
type MemoryIndex struct {
	mu         sync.RWMutex
	hosts      HostScheme
	ordered    []domain.Service
	byID       map[string]int // ID -> position in ordered
	byHost     map[string]int // public host -> position in ordered
	lastReload time.Time
}

// NewMemoryIndex creates an empty index using hosts for public names.
func NewMemoryIndex(hosts HostScheme) *MemoryIndex {
	return &MemoryIndex{
		hosts:  hosts,
		byID:   make(map[string]int),
		byHost: make(map[string]int),
	}
}

// UpdateServices replaces all services in the index, keeping their order.
func (idx *MemoryIndex) UpdateServices(services []domain.Service) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.ordered = append([]domain.Service(nil), services...)
	idx.byID = make(map[string]int, len(services))
	idx.byHost = make(map[string]int, len(services))
	for i, svc := range idx.ordered {
		idx.byID[svc.ID] = i
		idx.byHost[idx.hosts.PublicHost(svc.ID)] = i
	}
	idx.lastReload = time.Now()
}

// GetService retrieves a service by ID.
func (idx *MemoryIndex) GetService(id string) (domain.Service, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, ok := idx.byID[id]
	if !ok {
		return domain.Service{}, false
	}
	return idx.ordered[i], true
}

// GetByHost resolves a request Host header. The port is ignored and the
// comparison is case-insensitive.
func (idx *MemoryIndex) GetByHost(host string) (domain.Service, bool) {
	host = NormalizeHost(host)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, ok := idx.byHost[host]
	if !ok {
		return domain.Service{}, false
	}
	return idx.ordered[i], true
}

// GetAllServices returns a copy of all services in file order.
func (idx *MemoryIndex) GetAllServices() []domain.Service {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return append([]domain.Service(nil), idx.ordered...)
}

// Count returns the number of services in the index.
func (idx *MemoryIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.ordered)
}

// Hosts returns the public host scheme of the index.
func (idx *MemoryIndex) Hosts() HostScheme {
	return idx.hosts
}

// GetLastReload returns the timestamp of the last UpdateServices call.
func (idx *MemoryIndex) GetLastReload() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastReload
}

// NormalizeHost strips the port and lower-cases a Host header value.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
