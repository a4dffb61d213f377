package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusProcessing, OrderStatusDelivered, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDiscountAmount(t *testing.T) {
	subtotal := decimal.NewFromInt(200)

	pct := Discount{Type: DiscountPercent, Value: decimal.NewFromInt(15)}
	assert.True(t, decimal.NewFromInt(30).Equal(pct.Amount(subtotal)))

	fixed := Discount{Type: DiscountFixed, Value: decimal.NewFromInt(25)}
	assert.True(t, decimal.NewFromInt(25).Equal(fixed.Amount(subtotal)))

	capped := Discount{Type: DiscountFixed, Value: decimal.NewFromInt(500)}
	assert.True(t, subtotal.Equal(capped.Amount(subtotal)))
}

func TestSessionUnreadFor(t *testing.T) {
	s := ChatSession{UnreadCount: 3, UserUnreadCount: 1}

	assert.Equal(t, 3, s.UnreadFor(SenderAgent))
	assert.Equal(t, 1, s.UnreadFor(SenderUser))
}

func TestProductVariationLookup(t *testing.T) {
	p := Product{Variations: []Variation{{ID: "v1", Stock: 2}, {ID: "v2", Stock: 4}}}

	v, ok := p.Variation("v2")
	assert.True(t, ok)
	v.Stock = 1
	assert.Equal(t, 1, p.Variations[1].Stock)

	_, ok = p.Variation("missing")
	assert.False(t, ok)
}
