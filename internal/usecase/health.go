package usecase

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// Pinger probes a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	names  []string
	probes map[string]Pinger
}

func NewHealthService(probes map[string]Pinger) (*HealthService, error) {
	if len(probes) == 0 {
		return nil, errors.New("usecase: at least one health probe is required")
	}
	for name, p := range probes {
		if p == nil {
			return nil, errors.New("usecase: health probe " + name + " must not be nil")
		}
	}
	return &HealthService{names: slices.Sorted(maps.Keys(probes)), probes: probes}, nil
}

// Check pings the probes in name order and reports the first failure.
func (s *HealthService) Check(ctx context.Context) error {
	for _, name := range s.names {
		if err := s.probes[name].Ping(ctx); err != nil {
			return newError(ErrorStoreUnavailable, name+"_unreachable", err)
		}
	}
	return nil
}
