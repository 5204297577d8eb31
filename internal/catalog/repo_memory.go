package catalog

import (
	"context"
	"sync"
	"time"
)

// MemoryCatalog is an in-memory Availability useful for tests and local runs.
type MemoryCatalog struct {
	mu       sync.RWMutex
	services map[string]Service
}

func NewMemoryCatalog(services ...Service) *MemoryCatalog {
	if len(services) == 0 {
		services = Defaults()
	}
	c := &MemoryCatalog{services: make(map[string]Service, len(services))}
	for _, s := range services {
		c.services[s.Type] = s
	}
	return c
}

func (c *MemoryCatalog) Lookup(ctx context.Context, serviceType string) (Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.services[serviceType]
	if !ok {
		return Service{}, ErrUnknownService
	}
	return s, nil
}

// SetEnabled toggles a service; reason is shown to buyers while disabled.
func (c *MemoryCatalog) SetEnabled(serviceType string, enabled bool, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[serviceType]
	if !ok {
		return ErrUnknownService
	}
	s.Enabled = enabled
	s.DisabledReason = ""
	if !enabled {
		s.DisabledReason = reason
	}
	s.UpdatedAt = time.Now().UTC()
	c.services[serviceType] = s
	return nil
}
