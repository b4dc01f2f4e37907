// Package store provides persistence for the daily ledger and the decision
// journal.
package store

import (
	"context"
	"time"

	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	budget.Persister

	// Ledger
	LoadLedger(ctx context.Context, day string) (models.DailyLedger, error)
	LedgerHistory(ctx context.Context, limit int) ([]models.DailyLedger, error)

	// Decisions
	SaveDecision(ctx context.Context, d *models.SizingDecision, outcome models.DecisionOutcome) error
	UpdateDecisionOutcome(ctx context.Context, id string, outcome models.DecisionOutcome, orderID string) error
	GetDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)

	// Closes
	SaveClose(ctx context.Context, rec models.CloseRecord) error
	GetCloses(ctx context.Context, day string) ([]models.CloseRecord, error)

	// Lifecycle
	Close() error
}

// DecisionRecord is a journaled decision with its later outcome.
type DecisionRecord struct {
	Decision models.SizingDecision
	Day      string
	Outcome  models.DecisionOutcome
	OrderID  string
}

// DecisionFilter represents filters for querying journaled decisions.
type DecisionFilter struct {
	Day        string
	Underlying string
	Outcome    models.DecisionOutcome
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// Persisters fans a ledger snapshot out to several stores. Every store is
// attempted; the errors are joined.
type Persisters []budget.Persister

// SaveLedger implements budget.Persister.
func (p Persisters) SaveLedger(ledger models.DailyLedger) error {
	var errs []error
	for _, each := range p {
		if each == nil {
			continue
		}
		if err := each.SaveLedger(ledger); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
