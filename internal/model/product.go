package model

// Product is a canonical catalog product. Offer/variant identifiers are
// resolved to their parent before anything is stored, so the id here is
// never an offer id.
type Product struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
