package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

// Installation tasks carry this fixed title on the portal.
const workTaskTitle = "Произведение работ"

// PushMode selects which cached quantity is written back to the CRM
// product rows.
type PushMode int

const (
	PushNone PushMode = iota
	PushGiven
	PushFact
)

// QuantityInput is one product quantity submitted from a panel.
type QuantityInput struct {
	ProductID int64   `json:"product_id"`
	Amount    float64 `json:"amount"`
}

// WorkflowService implements the warehouse and installer panel
// operations: each one is a local cache patch, a CRM custom-field push,
// and where quantities changed, a product-row push-back.
type WorkflowService struct {
	gateway   CRMGateway
	deals     DealStore
	products  ProductStore
	lostStage string
	log       zerolog.Logger
}

func NewWorkflowService(gateway CRMGateway, deals DealStore, products ProductStore, lostStage string, log zerolog.Logger) *WorkflowService {
	return &WorkflowService{
		gateway:   gateway,
		deals:     deals,
		products:  products,
		lostStage: lostStage,
		log:       log.With().Str("component", "workflow").Logger(),
	}
}

// InstallerDeals lists the caller's deals that still need field work.
func (s *WorkflowService) InstallerDeals(ctx context.Context, principal model.Principal) ([]model.DealWithProducts, error) {
	if !principal.IsInstaller() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	userID := principal.UserID
	deals, err := s.deals.ListDealsWithProducts(ctx, &userID)
	if err != nil {
		return nil, err
	}
	actionable := make([]model.DealWithProducts, 0, len(deals))
	for _, deal := range deals {
		if deal.ActionableByInstaller() {
			actionable = append(actionable, deal)
		}
	}
	return actionable, nil
}

// WarehouseFillPanel lists deals still waiting for material issue, in
// the caller's city. Admins and city-less accounts see every city.
func (s *WorkflowService) WarehouseFillPanel(ctx context.Context, principal model.Principal) ([]model.DealWithProducts, error) {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.filterDeals(ctx, func(d model.Deal) bool {
		return d.AwaitingPickup() && cityVisible(principal, d)
	})
}

// WarehouseWatchPanel lists deals already issued but not yet accepted.
func (s *WorkflowService) WarehouseWatchPanel(ctx context.Context, principal model.Principal) ([]model.DealWithProducts, error) {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return s.filterDeals(ctx, func(d model.Deal) bool {
		return d.AwaitingInstallation() && cityVisible(principal, d)
	})
}

// Cities are typed by admins on one side and translated from CRM codes
// on the other; compare them loosely.
func cityVisible(principal model.Principal, deal model.Deal) bool {
	if principal.IsAdmin() {
		return true
	}
	want := strings.TrimSpace(principal.City)
	if want == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(deal.City), want)
}

func (s *WorkflowService) filterDeals(ctx context.Context, keep func(model.Deal) bool) ([]model.DealWithProducts, error) {
	deals, err := s.deals.ListDealsWithProducts(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.DealWithProducts, 0, len(deals))
	for _, deal := range deals {
		if keep(deal.Deal) {
			out = append(out, deal)
		}
	}
	return out, nil
}

// SetGivenAmounts records the issued quantities and hands the deal to
// an installation crew: rows are updated locally, pushed back to the
// CRM, and the deal is flagged moved with its new assignee.
func (s *WorkflowService) SetGivenAmounts(ctx context.Context, principal model.Principal, dealID, installerID int64, amounts []QuantityInput) error {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if !deal.AwaitingPickup() {
		return fmt.Errorf("deal %d already issued: %w", dealID, ErrInvalidInput)
	}

	rows, err := s.deals.DealProducts(ctx, dealID)
	if err != nil {
		return err
	}
	byProduct := make(map[int64]model.DealProduct, len(rows))
	for _, row := range rows {
		byProduct[row.ProductID] = row
	}
	for _, input := range amounts {
		row, ok := byProduct[input.ProductID]
		if !ok {
			return fmt.Errorf("deal %d has no product %d: %w", dealID, input.ProductID, ErrInvalidInput)
		}
		if err := s.deals.UpdateDealProductQuantities(ctx, dealID, input.ProductID, input.Amount, row.FactAmount); err != nil {
			return err
		}
	}

	moved := true
	if err := s.deals.UpdateDeal(ctx, dealID, model.DealPatch{Moved: &moved, AssignedID: &installerID}); err != nil {
		return err
	}
	if err := s.gateway.UpdateDealFields(ctx, dealID, crm.DealFieldValues{Moved: &moved, AssignedID: &installerID}); err != nil {
		return fmt.Errorf("push issue to crm: %w", err)
	}
	return s.pushRows(ctx, dealID, PushGiven)
}

// SetFactAmounts records what the crew actually used and conducts the
// deal; whether a shortfall is acceptable stays a warehouse decision
// (ApproveDeal / DenyDeal). Rows go back to the CRM with fact
// quantities, the service price alongside when the crew reports one.
func (s *WorkflowService) SetFactAmounts(ctx context.Context, principal model.Principal, dealID int64, amounts []QuantityInput, servicePrice *float64) error {
	deal, err := s.authorizeInstaller(ctx, principal, dealID)
	if err != nil {
		return err
	}
	if !deal.ActionableByInstaller() {
		return fmt.Errorf("deal %d not awaiting fact report: %w", dealID, ErrInvalidInput)
	}

	rows, err := s.deals.DealProducts(ctx, dealID)
	if err != nil {
		return err
	}
	facts := make(map[int64]float64, len(amounts))
	for _, input := range amounts {
		facts[input.ProductID] = input.Amount
	}

	for _, row := range rows {
		fact, reported := facts[row.ProductID]
		if !reported {
			if row.FactAmount != nil {
				fact = *row.FactAmount
			}
		}
		if err := s.deals.UpdateDealProductQuantities(ctx, dealID, row.ProductID, row.GivenAmount, &fact); err != nil {
			return err
		}
	}

	conducted := true
	patch := model.DealPatch{Conducted: &conducted, ServicePrice: servicePrice}
	fields := crm.DealFieldValues{ServicePrice: servicePrice}
	if deal.AmountMismatch {
		// Re-reporting after a deny resets the dispute.
		cleared := false
		patch.AmountMismatch = &cleared
		fields.AmountMismatch = &cleared
	}
	if err := s.deals.UpdateDeal(ctx, dealID, patch); err != nil {
		return err
	}
	if servicePrice != nil || deal.AmountMismatch {
		if err := s.gateway.UpdateDealFields(ctx, dealID, fields); err != nil {
			return fmt.Errorf("push fact report to crm: %w", err)
		}
	}
	return s.pushRows(ctx, dealID, PushFact)
}

// FailDeal marks the work as failed with the crew's comment and returns
// the issued quantities to the CRM rows.
func (s *WorkflowService) FailDeal(ctx context.Context, principal model.Principal, dealID int64, comment string) error {
	if _, err := s.authorizeInstaller(ctx, principal, dealID); err != nil {
		return err
	}
	failed := true
	if err := s.deals.UpdateDeal(ctx, dealID, model.DealPatch{Failed: &failed}); err != nil {
		return err
	}
	fields := crm.DealFieldValues{Failed: &failed}
	if comment != "" {
		fields.Comment = &comment
	}
	if err := s.gateway.UpdateDealFields(ctx, dealID, fields); err != nil {
		return fmt.Errorf("push failure to crm: %w", err)
	}
	return s.pushRows(ctx, dealID, PushGiven)
}

// CommentDeal stores the crew's comment on the deal and mirrors it into
// the discussion of every task bound to the deal, so the office sees it
// without opening the deal card.
func (s *WorkflowService) CommentDeal(ctx context.Context, principal model.Principal, dealID int64, comment string) error {
	if strings.TrimSpace(comment) == "" {
		return fmt.Errorf("comment is empty: %w", ErrInvalidInput)
	}
	if _, err := s.authorizeInstaller(ctx, principal, dealID); err != nil {
		return err
	}
	if err := s.gateway.UpdateDealFields(ctx, dealID, crm.DealFieldValues{Comment: &comment}); err != nil {
		return fmt.Errorf("push comment to crm: %w", err)
	}
	tasks, err := s.gateway.DealTasks(ctx, dealID)
	if err != nil {
		return fmt.Errorf("list tasks for deal %d: %w", dealID, err)
	}
	for _, task := range tasks {
		if err := s.gateway.AddTaskComment(ctx, task.ID, comment); err != nil {
			return fmt.Errorf("mirror comment to task %d: %w", task.ID, err)
		}
	}
	return nil
}

// CompleteWorkTask closes the deal's installation task on the portal.
func (s *WorkflowService) CompleteWorkTask(ctx context.Context, principal model.Principal, dealID int64) error {
	if _, err := s.authorizeInstaller(ctx, principal, dealID); err != nil {
		return err
	}
	tasks, err := s.gateway.DealTasks(ctx, dealID)
	if err != nil {
		return fmt.Errorf("list tasks for deal %d: %w", dealID, err)
	}
	for _, task := range tasks {
		if task.Title != workTaskTitle {
			continue
		}
		if err := s.gateway.CompleteTask(ctx, task.ID); err != nil {
			return fmt.Errorf("complete task %d: %w", task.ID, err)
		}
		s.log.Info().Int64("deal_id", dealID).Int64("task_id", task.ID).Msg("installation task completed")
		return nil
	}
	return fmt.Errorf("deal %d has no installation task: %w", dealID, ErrNotFound)
}

// AssignDeal reassigns a deal to another installation crew member.
func (s *WorkflowService) AssignDeal(ctx context.Context, principal model.Principal, dealID, installerID int64) error {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return err
	}
	if err := s.deals.UpdateDeal(ctx, dealID, model.DealPatch{AssignedID: &installerID}); err != nil {
		return err
	}
	if err := s.gateway.UpdateDealFields(ctx, dealID, crm.DealFieldValues{AssignedID: &installerID}); err != nil {
		return fmt.Errorf("push assignee to crm: %w", err)
	}
	return nil
}

// ApproveDeal accepts the crew's report after warehouse review. A pure
// local transition: the CRM learned everything it needs from the fact
// push already.
func (s *WorkflowService) ApproveDeal(ctx context.Context, principal model.Principal, dealID int64) error {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return err
	}
	approved := true
	return s.deals.UpdateDeal(ctx, dealID, model.DealPatch{Approved: &approved})
}

// DenyDeal disputes the crew's report: the deal is flagged as a
// material mismatch, locally and upstream, with the reviewer's comment.
func (s *WorkflowService) DenyDeal(ctx context.Context, principal model.Principal, dealID int64, comment string) error {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return err
	}
	mismatch := true
	cleared := false
	if err := s.deals.UpdateDeal(ctx, dealID, model.DealPatch{AmountMismatch: &mismatch, Conducted: &cleared}); err != nil {
		return err
	}
	fields := crm.DealFieldValues{AmountMismatch: &mismatch}
	if comment != "" {
		fields.Comment = &comment
	}
	if err := s.gateway.UpdateDealFields(ctx, dealID, fields); err != nil {
		return fmt.Errorf("push denial to crm: %w", err)
	}
	return nil
}

// LoseDeal writes the deal off: failed locally, lost stage upstream.
// The mirror row stays for reporting.
func (s *WorkflowService) LoseDeal(ctx context.Context, principal model.Principal, dealID int64) error {
	if !principal.IsWarehouse() && !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	if _, err := s.getDeal(ctx, dealID); err != nil {
		return err
	}
	failed := true
	cleared := false
	if err := s.deals.UpdateDeal(ctx, dealID, model.DealPatch{Failed: &failed, Conducted: &cleared}); err != nil {
		return err
	}
	stage := s.lostStage
	if err := s.gateway.UpdateDealFields(ctx, dealID, crm.DealFieldValues{StageID: &stage}); err != nil {
		return fmt.Errorf("push lost stage to crm: %w", err)
	}
	return nil
}

// DeleteDeal drops a deal from the cache only; the CRM copy stays.
func (s *WorkflowService) DeleteDeal(ctx context.Context, principal model.Principal, dealID int64) error {
	if !principal.IsAdmin() {
		return ErrPermissionDenied
	}
	return s.deals.DeleteDeal(ctx, dealID)
}

func (s *WorkflowService) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.products.ListProducts(ctx)
}

func (s *WorkflowService) authorizeInstaller(ctx context.Context, principal model.Principal, dealID int64) (*model.Deal, error) {
	if !principal.IsInstaller() && !principal.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() {
		if deal.AssignedID == nil || *deal.AssignedID != principal.UserID {
			return nil, ErrPermissionDenied
		}
	}
	return deal, nil
}

// getDeal keeps a missing row and a store failure apart: only the
// former maps to a 404 upstream.
func (s *WorkflowService) getDeal(ctx context.Context, dealID int64) (*model.Deal, error) {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("deal %d: %w", dealID, ErrNotFound)
		}
		return nil, err
	}
	return deal, nil
}

// pushRows mirrors the cached rows back onto the CRM deal with the
// selected quantity. Rows without a fact amount fall back to the given
// amount so the CRM never sees an empty quantity.
func (s *WorkflowService) pushRows(ctx context.Context, dealID int64, mode PushMode) error {
	if mode == PushNone {
		return nil
	}
	rows, err := s.deals.DealProducts(ctx, dealID)
	if err != nil {
		return err
	}
	updates := make([]crm.ProductRowUpdate, 0, len(rows))
	for _, row := range rows {
		quantity := row.GivenAmount
		if mode == PushFact && row.FactAmount != nil {
			quantity = *row.FactAmount
		}
		updates = append(updates, crm.ProductRowUpdate{
			ProductID: row.ProductID,
			Quantity:  quantity,
			Price:     row.Price,
		})
	}
	if err := s.gateway.SetDealProductRows(ctx, dealID, updates); err != nil {
		return fmt.Errorf("push product rows to crm: %w", err)
	}
	return nil
}
