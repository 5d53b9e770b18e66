package store

import (
	"context"
	"maps"

	"library-client/library"
)

// FinesData collects the results of the fine and payment endpoints.
type FinesData struct {
	// Calculations is keyed by borrow id.
	Calculations map[string]library.FineCalculation
	Summary      *library.FineSummary
	Analytics    *library.FineAnalytics
	Order        *library.PaymentOrder
	LastPayment  *library.Payment
}

type FinesSlice struct {
	*Slice[FinesData]
}

// Calculate fetches the current fine of one borrow. Like Summary and
// Analytics it is a read: it cancels the fines read still in flight.
func (f *FinesSlice) Calculate(ctx context.Context, borrowID string) (*library.FineCalculation, error) {
	return Fetch(ctx, f.Slice, func(ctx context.Context) (*library.FineCalculation, error) {
		return f.env.client.CalculateFine(ctx, borrowID)
	}, func(d FinesData, c *library.FineCalculation) FinesData {
		if c == nil {
			return d
		}
		calcs := maps.Clone(d.Calculations)
		if calcs == nil {
			calcs = make(map[string]library.FineCalculation)
		}
		calcs[c.BorrowID] = *c
		d.Calculations = calcs
		return d
	})
}

func (f *FinesSlice) Summary(ctx context.Context, userID string) (*library.FineSummary, error) {
	return Fetch(ctx, f.Slice, func(ctx context.Context) (*library.FineSummary, error) {
		return f.env.client.FineSummary(ctx, userID)
	}, func(d FinesData, s *library.FineSummary) FinesData {
		d.Summary = s
		return d
	})
}

// Analytics loads the collection report. Admin only.
func (f *FinesSlice) Analytics(ctx context.Context) (*library.FineAnalytics, error) {
	return Fetch(ctx, f.Slice, f.env.client.FineAnalytics, func(d FinesData, a *library.FineAnalytics) FinesData {
		d.Analytics = a
		return d
	})
}

func (f *FinesSlice) CreateOrder(ctx context.Context, borrowID string) (*library.PaymentOrder, error) {
	return Mutate(ctx, f.Slice, func(ctx context.Context) (*library.PaymentOrder, string, error) {
		o, err := f.env.client.CreateOrder(ctx, borrowID)
		return o, "", err
	}, func(d FinesData, o *library.PaymentOrder) FinesData {
		d.Order = o
		return d
	})
}

// VerifyPayment posts the gateway triple. On success the pending order is
// cleared and the cached calculation for the borrow is marked paid.
func (f *FinesSlice) VerifyPayment(ctx context.Context, in library.PaymentVerification) (*library.Payment, error) {
	return Mutate(ctx, f.Slice, func(ctx context.Context) (*library.Payment, string, error) {
		return f.env.client.VerifyPayment(ctx, in)
	}, func(d FinesData, p *library.Payment) FinesData {
		d.LastPayment = p
		if d.Order != nil && d.Order.ID == in.OrderID {
			d.Order = nil
		}
		if c, ok := d.Calculations[in.BorrowID]; ok {
			calcs := maps.Clone(d.Calculations)
			c.Status = library.PaymentCompleted
			calcs[in.BorrowID] = c
			d.Calculations = calcs
		}
		return d
	})
}
