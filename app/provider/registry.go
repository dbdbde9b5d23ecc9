package provider

import "github.com/roofmanager/ms-go-payments/app/types"

type Registry struct {
	gateways map[types.ProviderID]Gateway
	order    []Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	items := make(map[types.ProviderID]Gateway, len(gateways))
	for _, g := range gateways {
		items[g.ID()] = g
	}
	return &Registry{gateways: items, order: gateways}
}

func (r *Registry) Get(id types.ProviderID) (Gateway, error) {
	gateway, ok := r.gateways[id]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return gateway, nil
}

func (r *Registry) All() []Gateway {
	return r.order
}
