package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCart       = errors.New("invalid cart")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidDiscount   = errors.New("invalid discount code")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateUser     = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidReview     = errors.New("invalid review")
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrSessionClosed     = errors.New("chat session closed")
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrInvalidSender     = errors.New("invalid message sender")
	ErrMissingUserID     = errors.New("user id is required")
	ErrMissingPayerID    = errors.New("payer id is required")
	ErrInvalidStock      = errors.New("invalid stock adjustment")
	ErrPriceChanged      = errors.New("cart price no longer matches catalog")
)

// CheckoutFailedMessage is the only failure text shown to shoppers.
const CheckoutFailedMessage = "transaction failed, please retry"

// InsufficientStockError reports the first line that could not be reserved.
type InsufficientStockError struct {
	ProductID   string
	VariationID string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	if e.VariationID != "" {
		return fmt.Sprintf("insufficient stock for product %s variation %s: available=%d, requested=%d",
			e.ProductID, e.VariationID, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
