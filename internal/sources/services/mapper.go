package services

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/MrSnakeDoc/exposure/internal/domain"
)

var serviceIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Mapper validates services file entries and converts them to domain.Service values.
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices validates every entry and keeps the file order.
// Any invalid entry fails the whole file.
func (m *Mapper) MapServices(config ServicesConfig) ([]domain.Service, error) {
	if len(config) == 0 {
		return nil, fmt.Errorf("no services defined")
	}

	seen := make(map[string]struct{}, len(config))
	services := make([]domain.Service, 0, len(config))

	for i, props := range config {
		if props.ID == "" || props.Target == "" {
			return nil, fmt.Errorf("service #%d: id and target are required", i)
		}
		if !serviceIDPattern.MatchString(props.ID) {
			return nil, fmt.Errorf("service %q: id must match %s", props.ID, serviceIDPattern)
		}
		if _, dup := seen[props.ID]; dup {
			return nil, fmt.Errorf("service %q: duplicate id", props.ID)
		}
		seen[props.ID] = struct{}{}

		u, err := url.Parse(props.Target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("service %q: target %q must be an absolute http(s) URL", props.ID, props.Target)
		}

		mode, err := domain.ParseAuthMode(props.AuthMode)
		if err != nil {
			return nil, fmt.Errorf("invalid authMode for service %s: %w", props.ID, err)
		}

		name := props.Name
		if name == "" {
			name = props.ID
		}

		services = append(services, domain.Service{
			ID:          props.ID,
			Name:        name,
			Description: props.Description,
			Target:      props.Target,
			AuthMode:    mode,
		})
	}

	return services, nil
}

// LoadFile is the Loader + Mapper pipeline used at startup.
func LoadFile(path string) ([]domain.Service, error) {
	config, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}
	return NewMapper().MapServices(config)
}
