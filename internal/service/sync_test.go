package service

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

type fieldUpdate struct {
	dealID int64
	values crm.DealFieldValues
}

type fakeGateway struct {
	deals      map[int64]crm.DealRecord
	rows       map[int64][]crm.ProductRow
	rowsBroken map[int64]bool
	products   map[int64]crm.ProductRecord
	users      []crm.UserRecord
	tasks      map[int64][]crm.TaskRecord

	lastFilter     crm.DealFilter
	fieldUpdates   []fieldUpdate
	rowPushes      map[int64][]crm.ProductRowUpdate
	taskComments   map[int64][]string
	completedTasks []int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		deals:        make(map[int64]crm.DealRecord),
		rows:         make(map[int64][]crm.ProductRow),
		rowsBroken:   make(map[int64]bool),
		products:     make(map[int64]crm.ProductRecord),
		tasks:        make(map[int64][]crm.TaskRecord),
		rowPushes:    make(map[int64][]crm.ProductRowUpdate),
		taskComments: make(map[int64][]string),
	}
}

func (g *fakeGateway) ListDealsByFilter(_ context.Context, filter crm.DealFilter) ([]crm.DealRecord, error) {
	g.lastFilter = filter
	var out []crm.DealRecord
	for _, deal := range g.deals {
		if deal.ID <= filter.IDGreaterThan {
			continue
		}
		if filter.CategoryID != nil && deal.CategoryID != *filter.CategoryID {
			continue
		}
		out = append(out, deal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGateway) GetDealByID(_ context.Context, dealID int64) (*crm.DealRecord, error) {
	deal, ok := g.deals[dealID]
	if !ok {
		return nil, fmt.Errorf("%w: deal %d missing", crm.ErrTransport, dealID)
	}
	return &deal, nil
}

func (g *fakeGateway) DealProductRows(_ context.Context, dealID int64) ([]crm.ProductRow, error) {
	if g.rowsBroken[dealID] {
		return nil, fmt.Errorf("%w: rows for deal %d", crm.ErrTransport, dealID)
	}
	return g.rows[dealID], nil
}

func (g *fakeGateway) SetDealProductRows(_ context.Context, dealID int64, rows []crm.ProductRowUpdate) error {
	g.rowPushes[dealID] = rows
	return nil
}

func (g *fakeGateway) UpdateDealFields(_ context.Context, dealID int64, values crm.DealFieldValues) error {
	g.fieldUpdates = append(g.fieldUpdates, fieldUpdate{dealID: dealID, values: values})
	return nil
}

func (g *fakeGateway) ListProducts(_ context.Context) ([]crm.ProductRecord, error) {
	var out []crm.ProductRecord
	for _, product := range g.products {
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGateway) GetProductByID(_ context.Context, productID int64) (*crm.ProductRecord, error) {
	product, ok := g.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %d missing", crm.ErrTransport, productID)
	}
	return &product, nil
}

func (g *fakeGateway) ListUsersByFilter(_ context.Context, _ crm.UserFilter) ([]crm.UserRecord, error) {
	return g.users, nil
}

func (g *fakeGateway) DealTasks(_ context.Context, dealID int64) ([]crm.TaskRecord, error) {
	return g.tasks[dealID], nil
}

func (g *fakeGateway) AddTaskComment(_ context.Context, taskID int64, message string) error {
	g.taskComments[taskID] = append(g.taskComments[taskID], message)
	return nil
}

func (g *fakeGateway) CompleteTask(_ context.Context, taskID int64) error {
	g.completedTasks = append(g.completedTasks, taskID)
	return nil
}

type fakeDealStore struct {
	deals      map[int64]model.Deal
	rows       map[int64][]model.DealProduct
	getDealErr error
}

func newFakeDealStore() *fakeDealStore {
	return &fakeDealStore{
		deals: make(map[int64]model.Deal),
		rows:  make(map[int64][]model.DealProduct),
	}
}

func (s *fakeDealStore) UpsertDeals(_ context.Context, deals []model.Deal) error {
	for _, deal := range deals {
		deal.City = model.CityName(deal.City)
		if existing, ok := s.deals[deal.ID]; ok {
			deal.Conducted = existing.Conducted
			deal.Approved = existing.Approved
			deal.Moved = existing.Moved
			deal.Failed = existing.Failed
			deal.AmountMismatch = existing.AmountMismatch
		}
		s.deals[deal.ID] = deal
	}
	return nil
}

func (s *fakeDealStore) MaxDealID(_ context.Context) (int64, error) {
	var max int64
	for id := range s.deals {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *fakeDealStore) GetDeal(_ context.Context, dealID int64) (*model.Deal, error) {
	if s.getDealErr != nil {
		return nil, s.getDealErr
	}
	deal, ok := s.deals[dealID]
	if !ok {
		return nil, fmt.Errorf("deal %d: %w", dealID, gorm.ErrRecordNotFound)
	}
	return &deal, nil
}

func (s *fakeDealStore) UpdateDeal(_ context.Context, dealID int64, patch model.DealPatch) error {
	deal, ok := s.deals[dealID]
	if !ok {
		return fmt.Errorf("deal %d not found", dealID)
	}
	if patch.AssignedID != nil {
		deal.AssignedID = patch.AssignedID
	}
	if patch.Conducted != nil {
		deal.Conducted = *patch.Conducted
	}
	if patch.Approved != nil {
		deal.Approved = *patch.Approved
	}
	if patch.Moved != nil {
		deal.Moved = *patch.Moved
	}
	if patch.Failed != nil {
		deal.Failed = *patch.Failed
	}
	if patch.AmountMismatch != nil {
		deal.AmountMismatch = *patch.AmountMismatch
	}
	if patch.ServicePrice != nil {
		deal.ServicePrice = patch.ServicePrice
	}
	s.deals[dealID] = deal
	return nil
}

func (s *fakeDealStore) ListDealsWithProducts(_ context.Context, assignedID *int64) ([]model.DealWithProducts, error) {
	var out []model.DealWithProducts
	for _, deal := range s.deals {
		if assignedID != nil && (deal.AssignedID == nil || *deal.AssignedID != *assignedID) {
			continue
		}
		item := model.DealWithProducts{Deal: deal, Products: []model.DealProductView{}}
		for _, row := range s.rows[deal.ID] {
			item.Products = append(item.Products, model.DealProductView{
				ID:          row.ProductID,
				GivenAmount: row.GivenAmount,
				FactAmount:  row.FactAmount,
				Price:       row.Price,
			})
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeDealStore) DeleteDeal(_ context.Context, dealID int64) error {
	delete(s.deals, dealID)
	delete(s.rows, dealID)
	return nil
}

func (s *fakeDealStore) DealProducts(_ context.Context, dealID int64) ([]model.DealProduct, error) {
	return s.rows[dealID], nil
}

func (s *fakeDealStore) ReplaceDealProducts(_ context.Context, dealID int64, rows []model.DealProduct) error {
	s.rows[dealID] = rows
	return nil
}

func (s *fakeDealStore) UpsertDealProducts(_ context.Context, rows []model.DealProduct) error {
	for _, row := range rows {
		replaced := false
		for i, existing := range s.rows[row.DealID] {
			if existing.ProductID == row.ProductID {
				s.rows[row.DealID][i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			s.rows[row.DealID] = append(s.rows[row.DealID], row)
		}
	}
	return nil
}

func (s *fakeDealStore) UpdateDealProductQuantities(_ context.Context, dealID, productID int64, given float64, fact *float64) error {
	for i, row := range s.rows[dealID] {
		if row.ProductID == productID {
			s.rows[dealID][i].GivenAmount = given
			s.rows[dealID][i].FactAmount = fact
			return nil
		}
	}
	return fmt.Errorf("row (%d, %d) not found", dealID, productID)
}

type fakeProductStore struct {
	products map[int64]string
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{products: make(map[int64]string)}
}

func (s *fakeProductStore) UpsertProducts(_ context.Context, products []model.Product) error {
	for _, product := range products {
		s.products[product.ID] = product.Name
	}
	return nil
}

func (s *fakeProductStore) ListProducts(_ context.Context) ([]model.Product, error) {
	var out []model.Product
	for id, name := range s.products {
		out = append(out, model.Product{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeProductStore) DeleteProduct(_ context.Context, productID int64) error {
	delete(s.products, productID)
	return nil
}

func newTestSync(gateway *fakeGateway, deals *fakeDealStore, products *fakeProductStore, catalog *fakeCatalog) *SyncService {
	return newTestSyncWithUsers(gateway, deals, products, newFakeUserStore(), catalog)
}

func newTestSyncWithUsers(gateway *fakeGateway, deals *fakeDealStore, products *fakeProductStore, users *fakeUserStore, catalog *fakeCatalog) *SyncService {
	resolver := NewVariantResolver(catalog, zerolog.Nop())
	reconciler := NewReconciler(resolver, QuantityPolicyRemote, zerolog.Nop())
	return NewSyncService(gateway, deals, products, users, reconciler, 0, zerolog.Nop())
}

func TestSyncNewDealsSweepsAboveWatermark(t *testing.T) {
	gateway := newFakeGateway()
	gateway.deals[11] = crm.DealRecord{ID: 11, Title: "Монтаж 11", CityCode: "257"}
	gateway.deals[12] = crm.DealRecord{ID: 12, Title: "Монтаж 12"}
	gateway.rows[11] = []crm.ProductRow{{ProductID: 7, ProductName: "Кабель", Quantity: 4, Price: 100}}
	gateway.rowsBroken[12] = true

	deals := newFakeDealStore()
	deals.deals[10] = model.Deal{ID: 10, Title: "старый"}

	products := newFakeProductStore()
	sync := newTestSync(gateway, deals, products, &fakeCatalog{})

	result, err := sync.SyncNewDeals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), gateway.lastFilter.IDGreaterThan)
	require.NotNil(t, gateway.lastFilter.CategoryID)
	assert.Equal(t, 0, *gateway.lastFilter.CategoryID)

	assert.Equal(t, int64(10), result.Watermark)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Degraded)

	synced, ok := deals.deals[11]
	require.True(t, ok)
	assert.Equal(t, "Караганда", synced.City)
	require.Len(t, deals.rows[11], 1)
	assert.Equal(t, int64(7), deals.rows[11][0].ProductID)
	assert.Equal(t, "Кабель", products.products[7])
}

func TestSyncDealDeletesStaleRows(t *testing.T) {
	gateway := newFakeGateway()
	gateway.deals[5] = crm.DealRecord{ID: 5, Title: "Монтаж"}
	gateway.rows[5] = []crm.ProductRow{{ProductID: 7, ProductName: "Кабель", Quantity: 6, Price: 100}}

	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 4, FactAmount: ptr(3)},
		{DealID: 5, ProductID: 9, GivenAmount: 2},
	}

	sync := newTestSync(gateway, deals, newFakeProductStore(), &fakeCatalog{})

	outcome, err := sync.SyncDeal(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	// Product 9 fell off the deal remotely; product 7 keeps its local
	// fact while taking the remote quantity.
	require.Len(t, deals.rows[5], 1)
	row := deals.rows[5][0]
	assert.Equal(t, int64(7), row.ProductID)
	assert.Equal(t, 6.0, row.GivenAmount)
	require.NotNil(t, row.FactAmount)
	assert.Equal(t, 3.0, *row.FactAmount)
}

func TestSyncDealSkipsForeignCategory(t *testing.T) {
	gateway := newFakeGateway()
	gateway.deals[5] = crm.DealRecord{ID: 5, CategoryID: 4}

	deals := newFakeDealStore()
	sync := newTestSync(gateway, deals, newFakeProductStore(), &fakeCatalog{})

	outcome, err := sync.SyncDeal(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Empty(t, deals.deals)
}

func TestSyncDealReportsDegradedOutcome(t *testing.T) {
	gateway := newFakeGateway()
	gateway.deals[5] = crm.DealRecord{ID: 5}
	gateway.rows[5] = []crm.ProductRow{{ProductID: 101, ProductName: "Кабель", Quantity: 2, Price: 50}}

	deals := newFakeDealStore()
	catalog := &fakeCatalog{broken: map[int64]bool{101: true}}
	sync := newTestSync(gateway, deals, newFakeProductStore(), catalog)

	outcome, err := sync.SyncDeal(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, outcome)

	// Persisted anyway, under the raw id.
	require.Len(t, deals.rows[5], 1)
	assert.Equal(t, int64(101), deals.rows[5][0].ProductID)
}

func TestSyncDealFailsOnRowFetch(t *testing.T) {
	gateway := newFakeGateway()
	gateway.deals[5] = crm.DealRecord{ID: 5}
	gateway.rowsBroken[5] = true

	deals := newFakeDealStore()
	sync := newTestSync(gateway, deals, newFakeProductStore(), &fakeCatalog{})

	outcome, err := sync.SyncDeal(context.Background(), 5)
	assert.ErrorIs(t, err, crm.ErrTransport)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestImportProducts(t *testing.T) {
	gateway := newFakeGateway()
	gateway.products[7] = crm.ProductRecord{ID: 7, Name: "Кабель"}
	gateway.products[9] = crm.ProductRecord{ID: 9, Name: "Розетка"}

	products := newFakeProductStore()
	sync := newTestSync(gateway, newFakeDealStore(), products, &fakeCatalog{})

	count, err := sync.ImportProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "Кабель", products.products[7])
	assert.Equal(t, "Розетка", products.products[9])
}

func TestImportUsersKeepsLocalAccountState(t *testing.T) {
	gateway := newFakeGateway()
	gateway.users = []crm.UserRecord{
		{ID: 42, Name: "Арман", LastName: "Серик", Departments: []int64{27}},
		{ID: 43, Name: "Дана", LastName: "Ким", Departments: []int64{45, 53}},
	}

	users := newFakeUserStore()
	users.users[42] = model.User{ID: 42, Name: "Арман", LastName: "Серик", Password: "hash", City: "Караганда"}

	sync := newTestSyncWithUsers(gateway, newFakeDealStore(), newFakeProductStore(), users, &fakeCatalog{})

	count, err := sync.ImportUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	imported := users.users[43]
	assert.Equal(t, "45,53", imported.DepartmentIDs)
	assert.True(t, imported.IsWarehouse())

	// The registered account keeps its credential and city binding.
	existing := users.users[42]
	assert.Equal(t, "hash", existing.Password)
	assert.Equal(t, "Караганда", existing.City)
}

func TestHandleDealDeleted(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5}
	deals.rows[5] = []model.DealProduct{{DealID: 5, ProductID: 7, GivenAmount: 1}}

	sync := newTestSync(newFakeGateway(), deals, newFakeProductStore(), &fakeCatalog{})

	require.NoError(t, sync.HandleDealDeleted(context.Background(), 5))
	assert.Empty(t, deals.deals)
	assert.Empty(t, deals.rows)
}

func TestSyncProduct(t *testing.T) {
	gateway := newFakeGateway()
	gateway.products[7] = crm.ProductRecord{ID: 7, Name: "Кабель"}

	products := newFakeProductStore()
	sync := newTestSync(gateway, newFakeDealStore(), products, &fakeCatalog{})

	require.NoError(t, sync.SyncProduct(context.Background(), 7))
	assert.Equal(t, "Кабель", products.products[7])

	assert.Error(t, sync.SyncProduct(context.Background(), 8))
}
