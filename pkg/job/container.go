package job

import (
	"fmt"
	"sync"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Provider describes how a Container builds the value registered under Token.
// Build receives the resolved values of DependsOn, in order.
type Provider struct {
	Token     Token
	DependsOn []Token
	Build     func(deps ...any) (any, error)
}

// Container is an explicit registry of providers. Each value is built at most
// once, on first resolve, and cached until Close.
//
// Register every provider before the first Resolve: the first resolve seals the container.
type Container struct {
	mu        sync.Mutex
	providers map[Token]Provider
	instances map[Token]any
	resolving map[Token]bool
	sealed    bool
}

// NewContainer creates a container with engine registered under EngineToken
func NewContainer(engine queue.Engine) (*Container, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	return &Container{
		providers: make(map[Token]Provider),
		instances: map[Token]any{EngineToken: engine},
		resolving: make(map[Token]bool),
	}, nil
}

// Register adds providers. Nothing is built until resolved.
func (c *Container) Register(providers ...Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return ErrContainerSealed
	}

	for _, p := range providers {
		if p.Build == nil {
			return fmt.Errorf("%s: %w", p.Token, ErrNilBuild)
		}
		if _, exists := c.providers[p.Token]; exists {
			return fmt.Errorf("%s: %w", p.Token, ErrDuplicateProvider)
		}
		if _, exists := c.instances[p.Token]; exists {
			return fmt.Errorf("%s: %w", p.Token, ErrDuplicateProvider)
		}
	}
	for _, p := range providers {
		c.providers[p.Token] = p
	}
	return nil
}

// Resolve returns the value registered under token, building it and its
// dependencies on first use.
func (c *Container) Resolve(token Token) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sealed = true
	return c.resolveLocked(token)
}

// Close drops every cached value and provider
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.instances)
	clear(c.providers)
}

func (c *Container) resolveLocked(token Token) (any, error) {
	if v, ok := c.instances[token]; ok {
		return v, nil
	}

	p, ok := c.providers[token]
	if !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrProviderNotFound)
	}
	if c.resolving[token] {
		return nil, fmt.Errorf("%s: %w", token, ErrCircularDependency)
	}
	c.resolving[token] = true
	defer delete(c.resolving, token)

	deps := make([]any, len(p.DependsOn))
	for i, dep := range p.DependsOn {
		v, err := c.resolveLocked(dep)
		if err != nil {
			return nil, err
		}
		deps[i] = v
	}

	v, err := p.Build(deps...)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", token, err)
	}
	c.instances[token] = v
	return v, nil
}

// ResolveAs resolves token and asserts the value to T
func ResolveAs[T any](c *Container, token Token) (T, error) {
	var zero T

	v, err := c.Resolve(token)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T, want %T: %w", token, v, zero, ErrUnexpectedType)
	}
	return t, nil
}
