// Package events fans executed trades out to interested consumers after the
// trade transaction has committed.
package events

import (
	"context"
	"errors"

	"github.com/user/vitrader/backend/internal/models"
)

type Publisher interface {
	PublishTrade(ctx context.Context, trade *models.Trade) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishTrade(context.Context, *models.Trade) error { return nil }

// Multi publishes to every publisher, joining their errors.
type Multi []Publisher

func (m Multi) PublishTrade(ctx context.Context, trade *models.Trade) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTrade(ctx, trade); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
