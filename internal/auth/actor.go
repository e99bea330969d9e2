// Package auth resolves the caller of a request into an Actor with a fixed set
// of capabilities derived from its role.
package auth

import (
	"context"
	"strings"

	"github.com/corpmeals/ordering/internal/apperr"
	"github.com/corpmeals/ordering/internal/repository"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type Capability string

const (
	CapPlaceOrder     Capability = "place_order"
	CapViewOwnOrders  Capability = "view_own_orders"
	CapCancelOwnOrder Capability = "cancel_own_order"
	CapCancelAnyOrder Capability = "cancel_any_order"
)

var roleCapabilities = map[Role][]Capability{
	RoleCustomer: {CapPlaceOrder, CapViewOwnOrders, CapCancelOwnOrder},
	RoleAdmin:    {CapPlaceOrder, CapViewOwnOrders, CapCancelOwnOrder, CapCancelAnyOrder},
}

type Actor struct {
	ID        string
	Name      string
	Email     string
	CompanyID string
	Role      Role

	capabilities map[Capability]struct{}
}

func NewActor(customer *repository.Customer) *Actor {
	role := Role(strings.ToUpper(strings.TrimSpace(customer.Role)))
	caps := make(map[Capability]struct{})
	for _, c := range roleCapabilities[role] {
		caps[c] = struct{}{}
	}
	return &Actor{
		ID:           customer.ID,
		Name:         customer.Name,
		Email:        customer.Email,
		CompanyID:    customer.CompanyID,
		Role:         role,
		capabilities: caps,
	}
}

func (a *Actor) Can(c Capability) bool {
	if a == nil {
		return false
	}
	_, ok := a.capabilities[c]
	return ok
}

// Require returns a Forbidden error when the actor lacks c.
func (a *Actor) Require(c Capability) error {
	if a == nil {
		return apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	if !a.Can(c) {
		return apperr.Forbidden("role %s is not allowed to %s", a.Role, c)
	}
	return nil
}

type actorKey struct{}

func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func FromContext(ctx context.Context) (*Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(*Actor)
	return actor, ok && actor != nil
}
