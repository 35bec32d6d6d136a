package crm

import "strconv"

// DealRecord is one deal as the CRM reports it, custom fields already
// mapped through the configured field codes.
type DealRecord struct {
	ID           int64
	Title        string
	CategoryID   int
	DateCreate   string
	AssignedID   *int64
	CityCode     string
	ServicePrice *float64
}

// ProductRow is one catalog line item on a deal. ProductID may be an
// offer/variant id; callers canonicalize it before using it as a key.
type ProductRow struct {
	ProductID   int64
	ProductName string
	Quantity    float64
	Price       float64
}

// ProductRowUpdate is the outbound shape for crm.deal.productrows.set.
type ProductRowUpdate struct {
	ProductID int64   `json:"PRODUCT_ID"`
	Quantity  float64 `json:"QUANTITY"`
	Price     float64 `json:"PRICE"`
}

type ProductRecord struct {
	ID   int64
	Name string
}

// TaskRecord is one CRM task bound to a deal.
type TaskRecord struct {
	ID    int64
	Title string
}

type UserRecord struct {
	ID          int64
	Name        string
	LastName    string
	Departments []int64
}

// DealFilter is the typed subset of deal list filters the sync needs.
type DealFilter struct {
	IDGreaterThan int64
	CategoryID    *int
}

func (f DealFilter) toParams() map[string]any {
	params := make(map[string]any)
	if f.IDGreaterThan > 0 {
		params[">ID"] = strconv.FormatInt(f.IDGreaterThan, 10)
	}
	if f.CategoryID != nil {
		params["CATEGORY_ID"] = *f.CategoryID
	}
	return params
}

type UserFilter struct {
	Name     string
	LastName string
}

func (f UserFilter) toParams() map[string]any {
	params := make(map[string]any)
	if f.Name != "" {
		params["NAME"] = f.Name
	}
	if f.LastName != "" {
		params["LAST_NAME"] = f.LastName
	}
	return params
}
