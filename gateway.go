package aggregator

import (
	"context"
	"fmt"
)

// Names of the shopping backends.
const (
	DependencyCatalog  = "catalog"
	DependencyBasket   = "basket"
	DependencyOrdering = "ordering"
)

// Gateway routes calls to dependency clients by name.
type Gateway struct {
	clients map[string]*DependencyClient
	names   []string
}

// NewGateway registers clients under their dependency names.
func NewGateway(clients ...*DependencyClient) (*Gateway, error) {
	g := &Gateway{clients: make(map[string]*DependencyClient, len(clients))}
	for i, c := range clients {
		if c == nil {
			return nil, fmt.Errorf("dependency client %d is nil", i)
		}
		if _, exists := g.clients[c.Name()]; exists {
			return nil, fmt.Errorf("duplicate dependency %q", c.Name())
		}
		g.clients[c.Name()] = c
		g.names = append(g.names, c.Name())
	}
	return g, nil
}

// ShoppingURLs holds the base addresses of the three shopping backends.
type ShoppingURLs struct {
	Catalog  string
	Basket   string
	Ordering string
}

// NewShoppingGateway builds the catalog, basket and ordering clients over one
// shared transport. Each client gets its own circuit breaker.
func NewShoppingGateway(urls ShoppingURLs, transport Transport, opts ...ClientOption) (*Gateway, error) {
	bindings := []struct {
		name string
		url  string
	}{
		{DependencyCatalog, urls.Catalog},
		{DependencyBasket, urls.Basket},
		{DependencyOrdering, urls.Ordering},
	}

	clients := make([]*DependencyClient, 0, len(bindings))
	for _, b := range bindings {
		endpoint, err := NewEndpoint(b.name, b.url)
		if err != nil {
			return nil, err
		}
		clients = append(clients, NewDependencyClient(endpoint, transport, opts...))
	}
	return NewGateway(clients...)
}

// Invoke sends req to the named dependency.
func (g *Gateway) Invoke(ctx context.Context, dependency string, req *Request) (*Response, error) {
	c, ok := g.clients[dependency]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDependency, dependency)
	}
	return c.Invoke(ctx, req)
}

// Client returns the client registered for name.
func (g *Gateway) Client(name string) (*DependencyClient, bool) {
	c, ok := g.clients[name]
	return c, ok
}

// Dependencies returns the registered names in registration order.
func (g *Gateway) Dependencies() []string {
	return append([]string(nil), g.names...)
}

// Health returns the health of every dependency in registration order.
func (g *Gateway) Health() []HealthStatus {
	statuses := make([]HealthStatus, 0, len(g.names))
	for _, name := range g.names {
		statuses = append(statuses, g.clients[name].Health())
	}
	return statuses
}
