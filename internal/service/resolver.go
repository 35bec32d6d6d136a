package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// CatalogAPI is the slice of the CRM client the resolver needs.
type CatalogAPI interface {
	ResolveOfferParent(ctx context.Context, offerID int64) (int64, error)
}

// Resolution is the outcome of canonicalizing one product id.
type Resolution struct {
	ProductID int64
	// Resolved is true when the id was an offer and got replaced by its
	// parent product id.
	Resolved bool
}

// VariantResolver maps offer (variant) ids from deal product rows onto
// their parent catalog product ids, so that quantities aggregate under
// one canonical key per product.
type VariantResolver struct {
	catalog CatalogAPI
	log     zerolog.Logger
}

func NewVariantResolver(catalog CatalogAPI, log zerolog.Logger) *VariantResolver {
	return &VariantResolver{catalog: catalog, log: log.With().Str("component", "resolver").Logger()}
}

// Resolve canonicalizes one id. Non-offer ids and offers without a
// parent pass through unchanged. A catalog lookup failure also passes
// the id through, but returns the error so the caller can mark the run
// degraded instead of dropping the row.
func (r *VariantResolver) Resolve(ctx context.Context, productID int64) (Resolution, error) {
	parentID, err := r.catalog.ResolveOfferParent(ctx, productID)
	if err != nil {
		r.log.Warn().Err(err).Int64("product_id", productID).Msg("offer lookup failed, keeping raw id")
		return Resolution{ProductID: productID}, fmt.Errorf("resolve offer %d: %w", productID, err)
	}
	if parentID == 0 || parentID == productID {
		return Resolution{ProductID: productID}, nil
	}
	return Resolution{ProductID: parentID, Resolved: true}, nil
}
