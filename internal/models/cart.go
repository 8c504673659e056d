package models

// CartSource is the single origin a cart is bound to.
type CartSource string

const (
	SourceNone    CartSource = "none"
	SourceStore   CartSource = "store"
	SourcePartner CartSource = "partner"
)

// ItemOrigin identifies where a product is sold from.
type ItemOrigin struct {
	Source    CartSource `json:"source"`
	PartnerID string     `json:"partner_id,omitempty"`
}

func (o ItemOrigin) Equal(other ItemOrigin) bool {
	return o.Source == other.Source && o.PartnerID == other.PartnerID
}

type CartItem struct {
	ProductID string     `json:"product_id"`
	Name      string     `json:"name,omitempty"`
	Quantity  int        `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	Origin    ItemOrigin `json:"origin"`
}

type CartState struct {
	CustomerID string     `json:"customer_id"`
	Source     CartSource `json:"source"`
	PartnerID  string     `json:"partner_id,omitempty"` // set iff Source == SourcePartner
	Items      []CartItem `json:"items"`
}

// Origin returns the cart's binding expressed as an item origin.
func (c CartState) Origin() ItemOrigin {
	return ItemOrigin{Source: c.Source, PartnerID: c.PartnerID}
}

// Empty reports whether the cart is unbound. A cart without items is unbound
// whatever its recorded source.
func (c CartState) Empty() bool {
	return len(c.Items) == 0 || c.Source == "" || c.Source == SourceNone
}

func (c CartState) Total() float64 {
	var total float64
	for _, it := range c.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}
