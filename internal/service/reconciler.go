package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

// Quantity policies for rows that exist both remotely and locally.
const (
	QuantityPolicyRemote = "remote"
	QuantityPolicyLocal  = "local"
)

// MergedRow is a reconciled (deal, product) row ready for the cache.
type MergedRow struct {
	ProductID   int64
	ProductName string
	GivenAmount float64
	FactAmount  *float64
	Price       float64
}

// Reconciler merges a deal's remote product rows with the cached local
// rows into the authoritative set the cache upsert persists.
type Reconciler struct {
	resolver *VariantResolver
	policy   string
	log      zerolog.Logger
}

func NewReconciler(resolver *VariantResolver, policy string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		resolver: resolver,
		policy:   policy,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile canonicalizes remote rows, drops zero-quantity lines,
// collapses duplicates onto one canonical product id, and merges the
// survivors with the local rows under the configured quantity policy.
// Remote-only rows start with a zero fact amount; local-only rows are
// absent from the result, which is how stale rows get deleted
// downstream. The degraded flag reports offer lookups that failed and
// fell back to the raw id.
func (r *Reconciler) Reconcile(ctx context.Context, dealID int64, remote []crm.ProductRow, local []model.DealProduct) ([]MergedRow, bool, error) {
	localByProduct := make(map[int64]model.DealProduct, len(local))
	for _, row := range local {
		localByProduct[row.ProductID] = row
	}

	degraded := false
	index := make(map[int64]int, len(remote))
	merged := make([]MergedRow, 0, len(remote))

	for _, row := range remote {
		if row.Quantity == 0 {
			continue
		}
		if row.ProductID == 0 {
			return nil, false, fmt.Errorf("deal %d: %w", dealID, ErrMissingProductID)
		}

		resolution, err := r.resolver.Resolve(ctx, row.ProductID)
		if err != nil {
			degraded = true
		}
		if resolution.Resolved {
			r.log.Debug().
				Int64("deal_id", dealID).
				Int64("offer_id", row.ProductID).
				Int64("product_id", resolution.ProductID).
				Msg("offer mapped to parent product")
		}

		next := r.merge(resolution.ProductID, row, localByProduct)
		if pos, seen := index[resolution.ProductID]; seen {
			// Duplicate canonical id on one deal: last row wins, order
			// of first appearance is kept.
			merged[pos] = next
			continue
		}
		index[resolution.ProductID] = len(merged)
		merged = append(merged, next)
	}

	return merged, degraded, nil
}

func (r *Reconciler) merge(productID int64, remote crm.ProductRow, local map[int64]model.DealProduct) MergedRow {
	row := MergedRow{
		ProductID:   productID,
		ProductName: remote.ProductName,
		GivenAmount: remote.Quantity,
		Price:       remote.Price,
	}

	existing, known := local[productID]
	if !known {
		zero := 0.0
		row.FactAmount = &zero
		return row
	}

	row.FactAmount = existing.FactAmount
	if r.policy == QuantityPolicyLocal {
		row.GivenAmount = existing.GivenAmount
	}
	return row
}
