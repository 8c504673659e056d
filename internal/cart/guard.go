// Package cart keeps every cart bound to a single checkout source: the
// platform store or exactly one partner.
package cart

import (
	"errors"

	"github.com/example/order-engine/internal/models"
)

var ErrInvalidItem = errors.New("invalid cart item")

type ConflictType string

const (
	StoreVsPartner   ConflictType = "store_vs_partner"
	PartnerVsStore   ConflictType = "partner_vs_store"
	PartnerVsPartner ConflictType = "partner_vs_partner"
)

// Conflict is returned instead of mutating the cart when an item's origin does
// not match the cart's source. It is a decision for the caller, not a failure:
// resolving it means calling ClearAndSwitch with the same item.
type Conflict struct {
	ConflictType    ConflictType      `json:"conflictType"`
	CurrentSource   models.CartSource `json:"currentSource"`
	CurrentPartner  string            `json:"currentPartner,omitempty"`
	IncomingSource  models.CartSource `json:"incomingSource"`
	IncomingPartner string            `json:"incomingPartner,omitempty"`
}

// ValidateItem checks the fields AddItem and ClearAndSwitch rely on.
func ValidateItem(item models.CartItem) error {
	switch {
	case item.ProductID == "":
		return errors.Join(ErrInvalidItem, errors.New("product id is required"))
	case item.Quantity <= 0:
		return errors.Join(ErrInvalidItem, errors.New("quantity must be positive"))
	case item.UnitPrice < 0:
		return errors.Join(ErrInvalidItem, errors.New("unit price must not be negative"))
	}
	switch item.Origin.Source {
	case models.SourceStore:
		if item.Origin.PartnerID != "" {
			return errors.Join(ErrInvalidItem, errors.New("store items carry no partner id"))
		}
	case models.SourcePartner:
		if item.Origin.PartnerID == "" {
			return errors.Join(ErrInvalidItem, errors.New("partner items need a partner id"))
		}
	default:
		return errors.Join(ErrInvalidItem, errors.New("unknown item origin"))
	}
	return nil
}

// AddItem adds item to state when its origin matches the cart's source, binding
// an empty cart to the item's origin. Adding a product already in the cart
// increases its quantity. On conflict the state is returned unchanged together
// with the conflict descriptor.
func AddItem(state models.CartState, item models.CartItem) (models.CartState, *Conflict, error) {
	if err := ValidateItem(item); err != nil {
		return state, nil, err
	}
	if state.Empty() {
		return bind(state.CustomerID, item), nil, nil
	}
	if !state.Origin().Equal(item.Origin) {
		return state, conflictBetween(state, item), nil
	}

	next := clone(state)
	for i := range next.Items {
		if next.Items[i].ProductID == item.ProductID {
			next.Items[i].Quantity += item.Quantity
			next.Items[i].UnitPrice = item.UnitPrice
			if item.Name != "" {
				next.Items[i].Name = item.Name
			}
			return next, nil, nil
		}
	}
	next.Items = append(next.Items, item)
	return next, nil, nil
}

// ClearAndSwitch empties the cart and rebinds it to item's origin with item as
// the only line.
func ClearAndSwitch(state models.CartState, item models.CartItem) (models.CartState, error) {
	if err := ValidateItem(item); err != nil {
		return state, err
	}
	return bind(state.CustomerID, item), nil
}

// RemoveItem drops a product from the cart. Removing the last line unbinds it.
func RemoveItem(state models.CartState, productID string) models.CartState {
	next := clone(state)
	out := next.Items[:0]
	for _, it := range next.Items {
		if it.ProductID != productID {
			out = append(out, it)
		}
	}
	next.Items = out
	if len(next.Items) == 0 {
		return emptyCart(state.CustomerID)
	}
	return next
}

func conflictBetween(state models.CartState, item models.CartItem) *Conflict {
	c := &Conflict{
		CurrentSource:   state.Source,
		CurrentPartner:  state.PartnerID,
		IncomingSource:  item.Origin.Source,
		IncomingPartner: item.Origin.PartnerID,
	}
	switch {
	case state.Source == models.SourceStore:
		c.ConflictType = StoreVsPartner
	case item.Origin.Source == models.SourceStore:
		c.ConflictType = PartnerVsStore
	default:
		c.ConflictType = PartnerVsPartner
	}
	return c
}

func bind(customerID string, item models.CartItem) models.CartState {
	return models.CartState{
		CustomerID: customerID,
		Source:     item.Origin.Source,
		PartnerID:  item.Origin.PartnerID,
		Items:      []models.CartItem{item},
	}
}

func emptyCart(customerID string) models.CartState {
	return models.CartState{CustomerID: customerID, Source: models.SourceNone, Items: []models.CartItem{}}
}

func clone(state models.CartState) models.CartState {
	out := state
	out.Items = append([]models.CartItem(nil), state.Items...)
	return out
}
