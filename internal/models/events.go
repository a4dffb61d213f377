package models

// Bus topics. The names are stable for the lifetime of the process.
const (
	TopicOrderCreated       = "ORDER_CREATED"
	TopicProductUpdated     = "PRODUCT_UPDATED"
	TopicUserRegistered     = "USER_REGISTERED"
	TopicSagaFailed         = "SAGA_FAILED"
	TopicChatSessionUpdate  = "CHAT_SESSION_UPDATE"
	TopicOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// AllTopics lists every topic published in the process.
var AllTopics = []string{
	TopicOrderCreated,
	TopicProductUpdated,
	TopicUserRegistered,
	TopicSagaFailed,
	TopicChatSessionUpdate,
	TopicOrderStatusChanged,
}

// SagaStep names a state in the checkout saga
type SagaStep string

const (
	SagaInitiated     SagaStep = "initiated"
	SagaStockReserved SagaStep = "stock_reserved"
	SagaOrderRecorded SagaStep = "order_recorded"
	SagaCompleted     SagaStep = "completed"
	SagaFailedStep    SagaStep = "failed"
)

// SagaFailedEvent is the SAGA_FAILED payload. Committed is true when the
// order was already recorded and the failure is advisory only.
type SagaFailedEvent struct {
	CheckoutID string   `json:"checkout_id"`
	PayerID    string   `json:"payer_id"`
	Step       SagaStep `json:"step"`
	Reason     string   `json:"reason"`
	Committed  bool     `json:"committed"`
	OrderID    string   `json:"order_id,omitempty"`
}

// OrderStatusChangedEvent is the ORDER_STATUS_CHANGED payload
type OrderStatusChangedEvent struct {
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}
