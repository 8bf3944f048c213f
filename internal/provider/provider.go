package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Provider discovers candidate videos from a platform. Implementations
// return at most limit videos published after since.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, since time.Time, limit int) ([]models.DiscoveredVideo, error)
}

// Registry holds the configured providers in registration order.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds a provider. Registering the same name twice is a
// programming error.
func (r *Registry) Register(p Provider) error {
	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
	return nil
}

// Get returns the provider with the given name, or nil.
func (r *Registry) Get(name string) Provider {
	return r.byName[name]
}

// All returns the providers in registration order.
func (r *Registry) All() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}
