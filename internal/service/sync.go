package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

// CRMGateway is the slice of the CRM client the orchestrator consumes.
type CRMGateway interface {
	ListDealsByFilter(ctx context.Context, filter crm.DealFilter) ([]crm.DealRecord, error)
	GetDealByID(ctx context.Context, dealID int64) (*crm.DealRecord, error)
	DealProductRows(ctx context.Context, dealID int64) ([]crm.ProductRow, error)
	SetDealProductRows(ctx context.Context, dealID int64, rows []crm.ProductRowUpdate) error
	UpdateDealFields(ctx context.Context, dealID int64, values crm.DealFieldValues) error
	ListProducts(ctx context.Context) ([]crm.ProductRecord, error)
	GetProductByID(ctx context.Context, productID int64) (*crm.ProductRecord, error)
	ListUsersByFilter(ctx context.Context, filter crm.UserFilter) ([]crm.UserRecord, error)
	DealTasks(ctx context.Context, dealID int64) ([]crm.TaskRecord, error)
	AddTaskComment(ctx context.Context, taskID int64, message string) error
	CompleteTask(ctx context.Context, taskID int64) error
}

type DealStore interface {
	UpsertDeals(ctx context.Context, deals []model.Deal) error
	MaxDealID(ctx context.Context) (int64, error)
	GetDeal(ctx context.Context, dealID int64) (*model.Deal, error)
	UpdateDeal(ctx context.Context, dealID int64, patch model.DealPatch) error
	ListDealsWithProducts(ctx context.Context, assignedID *int64) ([]model.DealWithProducts, error)
	DeleteDeal(ctx context.Context, dealID int64) error
	DealProducts(ctx context.Context, dealID int64) ([]model.DealProduct, error)
	ReplaceDealProducts(ctx context.Context, dealID int64, rows []model.DealProduct) error
	UpsertDealProducts(ctx context.Context, rows []model.DealProduct) error
	UpdateDealProductQuantities(ctx context.Context, dealID, productID int64, given float64, fact *float64) error
}

type ProductStore interface {
	UpsertProducts(ctx context.Context, products []model.Product) error
	ListProducts(ctx context.Context) ([]model.Product, error)
	DeleteProduct(ctx context.Context, productID int64) error
}

// Outcome is the per-deal sync verdict.
type Outcome int

const (
	// OutcomeFailed means the sync stopped before the product rows
	// were replaced; the deal record itself may already be upserted.
	OutcomeFailed Outcome = iota
	// OutcomeDegraded means the deal was persisted but at least one
	// offer lookup fell back to the raw row id.
	OutcomeDegraded
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDegraded:
		return "degraded"
	case OutcomeSuccess:
		return "success"
	default:
		return "failed"
	}
}

// BatchResult summarizes one watermark sweep.
type BatchResult struct {
	Watermark int64 `json:"watermark"`
	Fetched   int   `json:"fetched"`
	Synced    int   `json:"synced"`
	Degraded  int   `json:"degraded"`
	Skipped   int   `json:"skipped"`
}

// SyncService keeps the local cache mirroring the CRM.
type SyncService struct {
	gateway         CRMGateway
	deals           DealStore
	products        ProductStore
	users           UserStore
	reconciler      *Reconciler
	primaryCategory int
	log             zerolog.Logger
}

func NewSyncService(gateway CRMGateway, deals DealStore, products ProductStore, users UserStore, reconciler *Reconciler, primaryCategory int, log zerolog.Logger) *SyncService {
	return &SyncService{
		gateway:         gateway,
		deals:           deals,
		products:        products,
		users:           users,
		reconciler:      reconciler,
		primaryCategory: primaryCategory,
		log:             log.With().Str("component", "sync").Logger(),
	}
}

// SyncDeal refreshes one deal from the CRM: record fields, then product
// rows reconciled against the cached rows. Deals outside the mirrored
// category are left alone.
func (s *SyncService) SyncDeal(ctx context.Context, dealID int64) (Outcome, error) {
	record, err := s.gateway.GetDealByID(ctx, dealID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch deal %d: %w", dealID, err)
	}
	if record == nil {
		return OutcomeFailed, fmt.Errorf("deal %d: %w", dealID, ErrNotFound)
	}
	if record.CategoryID != s.primaryCategory {
		s.log.Info().Int64("deal_id", dealID).Int("category", record.CategoryID).Msg("deal outside mirrored category, skipping")
		return OutcomeSuccess, nil
	}
	return s.syncRecord(ctx, *record)
}

// SyncNewDeals sweeps every CRM deal above the cache watermark, in the
// mirrored category only. One bad deal is logged and skipped; the sweep
// continues.
func (s *SyncService) SyncNewDeals(ctx context.Context) (BatchResult, error) {
	watermark, err := s.deals.MaxDealID(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("read watermark: %w", err)
	}

	category := s.primaryCategory
	records, err := s.gateway.ListDealsByFilter(ctx, crm.DealFilter{
		IDGreaterThan: watermark,
		CategoryID:    &category,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("list deals above %d: %w", watermark, err)
	}

	result := BatchResult{Watermark: watermark, Fetched: len(records)}
	for _, record := range records {
		outcome, err := s.syncRecord(ctx, record)
		if err != nil {
			result.Skipped++
			s.log.Error().Err(err).Int64("deal_id", record.ID).Msg("deal sync failed, continuing sweep")
			continue
		}
		result.Synced++
		if outcome == OutcomeDegraded {
			result.Degraded++
		}
	}

	s.log.Info().
		Int64("watermark", result.Watermark).
		Int("fetched", result.Fetched).
		Int("synced", result.Synced).
		Int("degraded", result.Degraded).
		Int("skipped", result.Skipped).
		Msg("sweep finished")
	return result, nil
}

func (s *SyncService) syncRecord(ctx context.Context, record crm.DealRecord) (Outcome, error) {
	deal := dealFromRecord(record)
	if err := s.deals.UpsertDeals(ctx, []model.Deal{deal}); err != nil {
		return OutcomeFailed, fmt.Errorf("persist deal %d: %w", record.ID, err)
	}

	remote, err := s.gateway.DealProductRows(ctx, record.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch product rows for deal %d: %w", record.ID, err)
	}
	local, err := s.deals.DealProducts(ctx, record.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read cached rows for deal %d: %w", record.ID, err)
	}

	merged, degraded, err := s.reconciler.Reconcile(ctx, record.ID, remote, local)
	if err != nil {
		return OutcomeFailed, err
	}

	products := make([]model.Product, 0, len(merged))
	rows := make([]model.DealProduct, 0, len(merged))
	for _, row := range merged {
		products = append(products, model.Product{ID: row.ProductID, Name: row.ProductName})
		rows = append(rows, model.DealProduct{
			DealID:      record.ID,
			ProductID:   row.ProductID,
			GivenAmount: row.GivenAmount,
			FactAmount:  row.FactAmount,
			Price:       row.Price,
		})
	}

	// Products first so the association rows have their FK targets.
	if err := s.products.UpsertProducts(ctx, products); err != nil {
		return OutcomeFailed, fmt.Errorf("persist products for deal %d: %w", record.ID, err)
	}
	if err := s.deals.ReplaceDealProducts(ctx, record.ID, rows); err != nil {
		return OutcomeFailed, fmt.Errorf("persist rows for deal %d: %w", record.ID, err)
	}

	if degraded {
		return OutcomeDegraded, nil
	}
	return OutcomeSuccess, nil
}

// ImportProducts mirrors the whole CRM catalog.
func (s *SyncService) ImportProducts(ctx context.Context) (int, error) {
	records, err := s.gateway.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	products := make([]model.Product, 0, len(records))
	for _, record := range records {
		products = append(products, model.Product{ID: record.ID, Name: record.Name})
	}
	if err := s.products.UpsertProducts(ctx, products); err != nil {
		return 0, fmt.Errorf("persist catalog: %w", err)
	}
	return len(products), nil
}

// ImportUsers mirrors the whole CRM staff directory. Credentials and
// city bindings of already registered accounts stay as they are.
func (s *SyncService) ImportUsers(ctx context.Context) (int, error) {
	records, err := s.gateway.ListUsersByFilter(ctx, crm.UserFilter{})
	if err != nil {
		return 0, fmt.Errorf("list staff directory: %w", err)
	}
	users := make([]model.User, 0, len(records))
	for _, record := range records {
		users = append(users, model.User{
			ID:            record.ID,
			Name:          record.Name,
			LastName:      record.LastName,
			DepartmentIDs: model.JoinDepartments(record.Departments),
		})
	}
	if err := s.users.UpsertStaff(ctx, users); err != nil {
		return 0, fmt.Errorf("persist staff directory: %w", err)
	}
	s.log.Info().Int("users", len(users)).Msg("staff directory imported")
	return len(users), nil
}

// ImportAllDealProducts re-reconciles product rows for every cached
// deal. Used after catalog or policy changes; per-deal failures are
// skipped like in the sweep.
func (s *SyncService) ImportAllDealProducts(ctx context.Context) (BatchResult, error) {
	deals, err := s.deals.ListDealsWithProducts(ctx, nil)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list cached deals: %w", err)
	}

	result := BatchResult{Fetched: len(deals)}
	for _, deal := range deals {
		outcome, err := s.SyncDeal(ctx, deal.ID)
		if err != nil {
			result.Skipped++
			s.log.Error().Err(err).Int64("deal_id", deal.ID).Msg("row refresh failed, continuing")
			continue
		}
		result.Synced++
		if outcome == OutcomeDegraded {
			result.Degraded++
		}
	}
	return result, nil
}

// HandleDealCreated mirrors a webhook-announced deal if it belongs to
// the mirrored category.
func (s *SyncService) HandleDealCreated(ctx context.Context, dealID int64) (Outcome, error) {
	return s.SyncDeal(ctx, dealID)
}

// HandleDealDeleted drops the local mirror of a deleted deal. The row
// cascade removes its product associations.
func (s *SyncService) HandleDealDeleted(ctx context.Context, dealID int64) error {
	if err := s.deals.DeleteDeal(ctx, dealID); err != nil {
		return fmt.Errorf("delete deal %d: %w", dealID, err)
	}
	s.log.Info().Int64("deal_id", dealID).Msg("deal removed from cache")
	return nil
}

// SyncProduct mirrors one catalog product, typically on a webhook.
func (s *SyncService) SyncProduct(ctx context.Context, productID int64) error {
	record, err := s.gateway.GetProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("fetch product %d: %w", productID, err)
	}
	if record == nil {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return s.products.UpsertProducts(ctx, []model.Product{{ID: record.ID, Name: record.Name}})
}

func dealFromRecord(record crm.DealRecord) model.Deal {
	deal := model.Deal{
		ID:           record.ID,
		Title:        record.Title,
		AssignedID:   record.AssignedID,
		ServicePrice: record.ServicePrice,
		City:         record.CityCode,
	}
	if ts := parseCRMTime(record.DateCreate); ts != nil {
		deal.DateCreate = ts
	}
	return deal
}

// The portal sends RFC 3339 timestamps; older records carry bare dates.
func parseCRMTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return &ts
	}
	return nil
}
