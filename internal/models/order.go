package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// OrderResult is the broker's acknowledgement of an executed decision.
type OrderResult struct {
	OrderID      string
	Symbol       string
	Status       string
	Quantity     int64
	AveragePrice decimal.Decimal
	Message      string
	Timestamp    time.Time
}

// Signal is a directional view on an underlying.
// Score is in [-1, 1]; Confidence is in [0, 1].
type Signal struct {
	Underlying string
	Score      float64
	Confidence float64
	Source     string
	Reason     string
	Timestamp  time.Time
}
