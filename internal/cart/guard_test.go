package cart

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-engine/internal/models"
)

var (
	store    = models.ItemOrigin{Source: models.SourceStore}
	partnerA = models.ItemOrigin{Source: models.SourcePartner, PartnerID: "A"}
	partnerB = models.ItemOrigin{Source: models.SourcePartner, PartnerID: "B"}
)

func item(id string, origin models.ItemOrigin) models.CartItem {
	return models.CartItem{ProductID: id, Quantity: 1, UnitPrice: 25, Origin: origin}
}

func TestAddItem_BindsEmptyCart(t *testing.T) {
	c, conflict, err := AddItem(models.CartState{CustomerID: "c1", Source: models.SourceNone}, item("p1", partnerA))
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.Equal(t, models.SourcePartner, c.Source)
	require.Equal(t, "A", c.PartnerID)
	require.Len(t, c.Items, 1)
}

func TestAddItem_SameSourceAppendsAndMerges(t *testing.T) {
	c, _, _ := AddItem(models.CartState{CustomerID: "c1"}, item("p1", store))
	c, conflict, err := AddItem(c, item("p2", store))
	require.NoError(t, err)
	require.Nil(t, conflict)
	c, _, _ = AddItem(c, item("p1", store))
	require.Len(t, c.Items, 2)
	require.Equal(t, 2, c.Items[0].Quantity)
	require.InDelta(t, 75.0, c.Total(), 1e-9)
}

func TestAddItem_ConflictRoundTrip(t *testing.T) {
	c, _, _ := AddItem(models.CartState{CustomerID: "c1"}, item("a1", partnerA))
	c, _, _ = AddItem(c, item("a2", partnerA))
	before := clone(c)

	got, conflict, err := AddItem(c, item("b1", partnerB))
	require.NoError(t, err)
	require.NotNil(t, conflict)
	require.Equal(t, PartnerVsPartner, conflict.ConflictType)
	require.Equal(t, models.SourcePartner, conflict.CurrentSource)
	require.Equal(t, "A", conflict.CurrentPartner)
	require.Equal(t, "B", conflict.IncomingPartner)
	require.Equal(t, before, got, "a conflict never mutates the cart")
	require.Equal(t, before, c)

	switched, err := ClearAndSwitch(got, item("b1", partnerB))
	require.NoError(t, err)
	require.Equal(t, models.SourcePartner, switched.Source)
	require.Equal(t, "B", switched.PartnerID)
	require.Len(t, switched.Items, 1)
	require.Equal(t, "b1", switched.Items[0].ProductID)
}

func TestAddItem_ConflictTypes(t *testing.T) {
	storeCart, _, _ := AddItem(models.CartState{}, item("s1", store))
	partnerCart, _, _ := AddItem(models.CartState{}, item("a1", partnerA))

	_, c, _ := AddItem(storeCart, item("a2", partnerA))
	assert.Equal(t, StoreVsPartner, c.ConflictType)
	_, c, _ = AddItem(partnerCart, item("s2", store))
	assert.Equal(t, PartnerVsStore, c.ConflictType)
	assert.Empty(t, c.IncomingPartner)
}

func TestAddItem_InvalidItems(t *testing.T) {
	for name, it := range map[string]models.CartItem{
		"no product":         {Quantity: 1, Origin: store},
		"zero quantity":      {ProductID: "p", Origin: store},
		"negative price":     {ProductID: "p", Quantity: 1, UnitPrice: -1, Origin: store},
		"partner without id": {ProductID: "p", Quantity: 1, Origin: models.ItemOrigin{Source: models.SourcePartner}},
		"store with partner": {ProductID: "p", Quantity: 1, Origin: models.ItemOrigin{Source: models.SourceStore, PartnerID: "A"}},
		"no origin":          {ProductID: "p", Quantity: 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := AddItem(models.CartState{}, it)
			require.ErrorIs(t, err, ErrInvalidItem)
			_, err = ClearAndSwitch(models.CartState{}, it)
			require.ErrorIs(t, err, ErrInvalidItem)
		})
	}
}

func TestRemoveItem_LastLineUnbinds(t *testing.T) {
	c, _, _ := AddItem(models.CartState{CustomerID: "c1"}, item("a1", partnerA))
	c = RemoveItem(c, "a1")
	require.True(t, c.Empty())
	require.Empty(t, c.PartnerID)

	c, conflict, _ := AddItem(c, item("s1", store))
	require.Nil(t, conflict)
	require.Equal(t, models.SourceStore, c.Source)
}

func TestService_ConflictLeavesStoredCart(t *testing.T) {
	s := NewService()
	_, _, err := s.AddItem("c1", item("a1", partnerA))
	require.NoError(t, err)

	_, conflict, err := s.AddItem("c1", item("s1", store))
	require.NoError(t, err)
	require.NotNil(t, conflict)
	require.Equal(t, "A", s.Get("c1").PartnerID)

	c, err := s.ClearAndSwitch("c1", item("s1", store))
	require.NoError(t, err)
	require.Equal(t, models.SourceStore, s.Get("c1").Source)
	require.Len(t, c.Items, 1)

	cleared := s.Clear("c1")
	require.Len(t, cleared.Items, 1)
	require.True(t, s.Get("c1").Empty())
}

func TestService_ConcurrentAddsKeepSingleSource(t *testing.T) {
	s := NewService()
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			origin := partnerA
			if i%2 == 0 {
				origin = partnerB
			}
			_, _, _ = s.AddItem("c1", item(fmt.Sprintf("p%d", i), origin))
		}(i)
	}
	wg.Wait()

	c := s.Get("c1")
	require.NotEmpty(t, c.Items)
	for _, it := range c.Items {
		require.True(t, c.Origin().Equal(it.Origin), "item %s from %v in cart bound to %v", it.ProductID, it.Origin, c.Origin())
	}
	require.Len(t, c.Items, 20)
}

func TestService_RestoreOnlyIntoEmptyCart(t *testing.T) {
	s := NewService()
	_, _, err := s.AddItem("c1", item("a1", partnerA))
	require.NoError(t, err)
	taken := s.Clear("c1")

	_, _, err = s.AddItem("c1", item("s1", store))
	require.NoError(t, err)
	assert.False(t, s.Restore(taken), "newer cart wins")
	assert.Equal(t, models.SourceStore, s.Get("c1").Source)

	s.Clear("c1")
	assert.True(t, s.Restore(taken))
	assert.Equal(t, "A", s.Get("c1").PartnerID)
	assert.False(t, s.Restore(models.CartState{CustomerID: "c1"}))
}

func TestEmpty_ItemlessCartIsUnbound(t *testing.T) {
	c := models.CartState{CustomerID: "c1", Source: models.SourceStore, Items: []models.CartItem{}}
	assert.True(t, c.Empty())

	next, conflict, err := AddItem(c, item("a1", partnerA))
	require.NoError(t, err)
	require.Nil(t, conflict)
	assert.Equal(t, partnerA, next.Origin())
}
