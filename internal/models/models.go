package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names in the persistent store.
const (
	CollectionProducts        = "products"
	CollectionOrders          = "orders"
	CollectionUsers           = "users"
	CollectionChatSessions    = "chat-sessions"
	CollectionChatMessages    = "chat-messages"
	CollectionReviews         = "reviews"
	CollectionDiscounts       = "discounts"
	CollectionMarketingEvents = "marketing-events"
)

// Product represents a product in the catalog
type Product struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Category    string             `json:"category,omitempty"`
	Price       decimal.Decimal    `json:"price"`
	Stock       int                `json:"stock"`
	Variations  []Variation        `json:"variations,omitempty"`
	Plans       []SubscriptionPlan `json:"plans,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (p Product) RecordID() string { return p.ID }

// Variation returns the variation with the given id.
func (p *Product) Variation(id string) (*Variation, bool) {
	for i := range p.Variations {
		if p.Variations[i].ID == id {
			return &p.Variations[i], true
		}
	}
	return nil, false
}

// Variation is a sellable variant of a product with its own stock.
// A nil Price means the product price applies.
type Variation struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock int              `json:"stock"`
}

// SubscriptionPlan is a recurring purchase option offered for a product.
type SubscriptionPlan struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Interval string          `json:"interval"`
	Price    decimal.Decimal `json:"price"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// CanTransitionTo reports whether an order may move from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusProcessing || next == OrderStatusCancelled
	case OrderStatusProcessing:
		return next == OrderStatusDelivered || next == OrderStatusCancelled
	default:
		return false
	}
}

// Order represents a customer order. Items are a snapshot taken at
// checkout and never follow later catalog edits.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountCode    string          `json:"discount_code,omitempty"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	Date            time.Time       `json:"date"`
	ShippingAddress string          `json:"shipping_address"`
}

func (o Order) RecordID() string { return o.ID }

// OrderItem is a product snapshot copied into the cart.
type OrderItem struct {
	ProductID         string            `json:"product_id"`
	Name              string            `json:"name"`
	Price             decimal.Decimal   `json:"price"`
	Quantity          int               `json:"quantity"`
	SelectedPlan      *SubscriptionPlan `json:"selected_plan,omitempty"`
	SelectedVariation *VariationRef     `json:"selected_variation,omitempty"`
}

// LineTotal returns price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// VariationRef identifies the variation chosen for an order item.
type VariationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents a registered customer or staff member
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	NewsletterOptIn bool      `json:"newsletter_opt_in"`
	CreatedAt       time.Time `json:"created_at"`
}

func (u User) RecordID() string { return u.ID }

// Review is a customer rating of a product
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Review) RecordID() string { return r.ID }

// DiscountType selects how a discount value is applied
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Discount is a redeemable code. MaxUses of zero means unlimited.
type Discount struct {
	Code    string          `json:"code"`
	Type    DiscountType    `json:"type"`
	Value   decimal.Decimal `json:"value"`
	Active  bool            `json:"active"`
	MaxUses int             `json:"max_uses"`
	Uses    int             `json:"uses"`
	// Held counts uses claimed by checkouts that have not committed yet.
	Held int `json:"held"`
}

func (d Discount) RecordID() string { return d.Code }

// Amount returns the discount applied to subtotal, never more than subtotal.
func (d Discount) Amount(subtotal decimal.Decimal) decimal.Decimal {
	var amt decimal.Decimal
	switch d.Type {
	case DiscountPercent:
		amt = subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		amt = d.Value
	}
	if amt.GreaterThan(subtotal) {
		return subtotal
	}
	if amt.IsNegative() {
		return decimal.Zero
	}
	return amt
}

// MarketingEvent is a tracked customer interaction.
type MarketingEvent struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (e MarketingEvent) RecordID() string { return e.ID }

// Marketing event kinds
const (
	MarketingKindPurchase   = "purchase"
	MarketingKindNewsletter = "newsletter_subscribe"
)

// SessionStatus is the lifecycle state of a chat session
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Sender identifies which party wrote a chat message
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Valid reports whether s is a known party.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAgent
}

// ChatSession is one support conversation. UnreadCount is what the agent
// inbox shows (user messages not yet read by an agent); UserUnreadCount is
// what the customer widget shows.
type ChatSession struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	UserName        string        `json:"user_name"`
	Status          SessionStatus `json:"status"`
	LastMessage     string        `json:"last_message"`
	LastActive      time.Time     `json:"last_active"`
	UnreadCount     int           `json:"unread_count"`
	UserUnreadCount int           `json:"user_unread_count"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (s ChatSession) RecordID() string { return s.ID }

// UnreadFor returns the unread count as seen by reader.
func (s ChatSession) UnreadFor(reader Sender) int {
	if reader == SenderAgent {
		return s.UnreadCount
	}
	return s.UserUnreadCount
}

// ChatMessage is an append-only chat entry
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (m ChatMessage) RecordID() string { return m.ID }
