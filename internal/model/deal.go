package model

import "time"

// Deal mirrors one CRM deal record in the local cache. The five workflow
// flags are independent booleans, not an enforced state machine: any
// combination the CRM or a webhook produces stays representable. The
// lifecycle stages the panels care about are derived read-time by the
// predicates below, and only here.
type Deal struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	DateCreate     *time.Time `json:"date_create"`
	AssignedID     *int64     `json:"assigned_id"`
	Conducted      bool       `json:"is_conducted" gorm:"column:is_conducted"`
	Approved       bool       `json:"is_approved" gorm:"column:is_approved"`
	Moved          bool       `json:"is_moved" gorm:"column:is_moved"`
	Failed         bool       `json:"is_failed" gorm:"column:is_failed"`
	AmountMismatch bool       `json:"is_amount_mismatch" gorm:"column:is_amount_mismatch"`
	ServicePrice   *float64   `json:"service_price"`
	City           string     `json:"city"`
}

// AwaitingPickup reports whether the deal still waits for the warehouse
// manager to issue materials and hand it to an installation team.
func (d Deal) AwaitingPickup() bool {
	return !d.Moved && !d.Approved && !d.AmountMismatch
}

// AwaitingInstallation reports whether materials were issued but the
// work has not been accepted yet.
func (d Deal) AwaitingInstallation() bool {
	return d.Moved && !d.Approved && !d.AmountMismatch && !d.Failed
}

// ActionableByInstaller reports whether a field team member can still
// report fact amounts or fail the deal.
func (d Deal) ActionableByInstaller() bool {
	return d.Moved && !d.Approved && !d.Failed && !d.Conducted
}

// DealPatch is a partial update for a cached deal. Nil fields stay
// untouched.
type DealPatch struct {
	Title          *string
	DateCreate     *time.Time
	AssignedID     *int64
	Conducted      *bool
	Approved       *bool
	Moved          *bool
	Failed         *bool
	AmountMismatch *bool
	ServicePrice   *float64
	City           *string
}

// Empty reports whether the patch would change nothing.
func (p DealPatch) Empty() bool {
	return p.Title == nil && p.DateCreate == nil && p.AssignedID == nil &&
		p.Conducted == nil && p.Approved == nil && p.Moved == nil &&
		p.Failed == nil && p.AmountMismatch == nil && p.ServicePrice == nil &&
		p.City == nil
}

// DealProduct is one (deal, product) association row. Total is a stored
// generated column (given_amount - fact_amount); it is never written,
// only read back.
type DealProduct struct {
	ID          int64    `json:"id"`
	DealID      int64    `json:"deal_id"`
	ProductID   int64    `json:"product_id"`
	GivenAmount float64  `json:"given_amount"`
	FactAmount  *float64 `json:"fact_amount"`
	Price       float64  `json:"price"`
	Total       *float64 `json:"total" gorm:"->"`
}

// DealProductView is a product row joined with its product name, the
// shape the panels render.
type DealProductView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	GivenAmount float64  `json:"given_amount"`
	FactAmount  *float64 `json:"fact_amount"`
	Total       *float64 `json:"total"`
	Price       float64  `json:"price"`
}

type DealWithProducts struct {
	Deal
	Products []DealProductView `json:"products"`
}
