package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/model"
)

func newTestWorkflow(gateway *fakeGateway, deals *fakeDealStore) *WorkflowService {
	return NewWorkflowService(gateway, deals, newFakeProductStore(), "LOSE", zerolog.Nop())
}

func installerPrincipal(userID int64) model.Principal {
	return model.Principal{UserID: userID, Permissions: []string{model.PermissionInstaller}}
}

func warehousePrincipal() model.Principal {
	return model.Principal{UserID: 900, Permissions: []string{model.PermissionWarehouse}}
}

func TestInstallerDealsFiltersByAssigneeAndStage(t *testing.T) {
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[1] = model.Deal{ID: 1, AssignedID: &userID, Moved: true}
	deals.deals[2] = model.Deal{ID: 2, AssignedID: &userID, Moved: true, Conducted: true}
	deals.deals[3] = model.Deal{ID: 3, Moved: true}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	out, err := workflow.InstallerDeals(context.Background(), installerPrincipal(42))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)
}

func TestInstallerDealsRequiresRole(t *testing.T) {
	workflow := newTestWorkflow(newFakeGateway(), newFakeDealStore())

	_, err := workflow.InstallerDeals(context.Background(), warehousePrincipal())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSetGivenAmountsIssuesDeal(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 0, Price: 100},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.SetGivenAmounts(context.Background(), warehousePrincipal(), 5, 42,
		[]QuantityInput{{ProductID: 7, Amount: 6}})
	require.NoError(t, err)

	deal := deals.deals[5]
	assert.True(t, deal.Moved)
	require.NotNil(t, deal.AssignedID)
	assert.Equal(t, int64(42), *deal.AssignedID)
	assert.Equal(t, 6.0, deals.rows[5][0].GivenAmount)

	require.Len(t, gateway.fieldUpdates, 1)
	update := gateway.fieldUpdates[0]
	assert.Equal(t, int64(5), update.dealID)
	require.NotNil(t, update.values.Moved)
	assert.True(t, *update.values.Moved)

	require.Len(t, gateway.rowPushes[5], 1)
	assert.Equal(t, 6.0, gateway.rowPushes[5][0].Quantity)
}

func TestSetGivenAmountsRejectsIssuedDeal(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5, Moved: true}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	err := workflow.SetGivenAmounts(context.Background(), warehousePrincipal(), 5, 42, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetGivenAmountsRejectsUnknownProduct(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	err := workflow.SetGivenAmounts(context.Background(), warehousePrincipal(), 5, 42,
		[]QuantityInput{{ProductID: 7, Amount: 6}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetFactAmountsConductsDeal(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 6, Price: 100},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.SetFactAmounts(context.Background(), installerPrincipal(42), 5,
		[]QuantityInput{{ProductID: 7, Amount: 4}}, ptr(15000))
	require.NoError(t, err)

	deal := deals.deals[5]
	assert.True(t, deal.Conducted)
	// A shortfall against the issued amount is the warehouse's call.
	assert.False(t, deal.AmountMismatch)

	require.NotNil(t, deals.rows[5][0].FactAmount)
	assert.Equal(t, 4.0, *deals.rows[5][0].FactAmount)

	require.Len(t, gateway.fieldUpdates, 1)
	require.NotNil(t, gateway.fieldUpdates[0].values.ServicePrice)
	assert.Equal(t, 15000.0, *gateway.fieldUpdates[0].values.ServicePrice)

	// Rows go back with fact quantities.
	require.Len(t, gateway.rowPushes[5], 1)
	assert.Equal(t, 4.0, gateway.rowPushes[5][0].Quantity)
}

func TestSetFactAmountsWithoutServicePriceSkipsFieldPush(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 6, Price: 100},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.SetFactAmounts(context.Background(), installerPrincipal(42), 5,
		[]QuantityInput{{ProductID: 7, Amount: 6}}, nil)
	require.NoError(t, err)

	assert.True(t, deals.deals[5].Conducted)
	assert.Empty(t, gateway.fieldUpdates)
	require.Len(t, gateway.rowPushes[5], 1)
	assert.Equal(t, 6.0, gateway.rowPushes[5][0].Quantity)
}

func TestSetFactAmountsReReportClearsMismatch(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true, AmountMismatch: true}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 6, FactAmount: ptr(4), Price: 100},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.SetFactAmounts(context.Background(), installerPrincipal(42), 5,
		[]QuantityInput{{ProductID: 7, Amount: 6}}, nil)
	require.NoError(t, err)

	deal := deals.deals[5]
	assert.True(t, deal.Conducted)
	assert.False(t, deal.AmountMismatch)

	require.Len(t, gateway.fieldUpdates, 1)
	require.NotNil(t, gateway.fieldUpdates[0].values.AmountMismatch)
	assert.False(t, *gateway.fieldUpdates[0].values.AmountMismatch)
}

func TestSetFactAmountsRejectsForeignAssignee(t *testing.T) {
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	err := workflow.SetFactAmounts(context.Background(), installerPrincipal(43), 5, nil, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestFailDealPushesFlagCommentAndRows(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
	deals.rows[5] = []model.DealProduct{
		{DealID: 5, ProductID: 7, GivenAmount: 6, FactAmount: ptr(2), Price: 100},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.FailDeal(context.Background(), installerPrincipal(42), 5, "клиент отказался")
	require.NoError(t, err)

	assert.True(t, deals.deals[5].Failed)
	require.Len(t, gateway.fieldUpdates, 1)
	values := gateway.fieldUpdates[0].values
	require.NotNil(t, values.Failed)
	assert.True(t, *values.Failed)
	require.NotNil(t, values.Comment)
	assert.Equal(t, "клиент отказался", *values.Comment)

	// The issued quantities go back to the CRM, not the partial facts.
	require.Len(t, gateway.rowPushes[5], 1)
	assert.Equal(t, 6.0, gateway.rowPushes[5][0].Quantity)
}

func TestApproveDealIsLocalOnly(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5, Moved: true, Conducted: true}

	workflow := newTestWorkflow(gateway, deals)

	require.NoError(t, workflow.ApproveDeal(context.Background(), warehousePrincipal(), 5))

	assert.True(t, deals.deals[5].Approved)
	assert.Empty(t, gateway.fieldUpdates)
}

func TestDenyDealFlagsMismatch(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5, Moved: true, Conducted: true}

	workflow := newTestWorkflow(gateway, deals)

	require.NoError(t, workflow.DenyDeal(context.Background(), warehousePrincipal(), 5, "не хватает кабеля"))

	deal := deals.deals[5]
	assert.True(t, deal.AmountMismatch)
	assert.False(t, deal.Conducted)

	require.Len(t, gateway.fieldUpdates, 1)
	values := gateway.fieldUpdates[0].values
	require.NotNil(t, values.AmountMismatch)
	assert.True(t, *values.AmountMismatch)
	require.NotNil(t, values.Comment)
	assert.Equal(t, "не хватает кабеля", *values.Comment)
}

func TestLoseDealPushesStageAndKeepsMirror(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5, Conducted: true}

	workflow := newTestWorkflow(gateway, deals)

	require.NoError(t, workflow.LoseDeal(context.Background(), warehousePrincipal(), 5))

	deal := deals.deals[5]
	assert.True(t, deal.Failed)
	assert.False(t, deal.Conducted)

	require.Len(t, gateway.fieldUpdates, 1)
	require.NotNil(t, gateway.fieldUpdates[0].values.StageID)
	assert.Equal(t, "LOSE", *gateway.fieldUpdates[0].values.StageID)
}

func TestWarehousePanelsFilterByCity(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[1] = model.Deal{ID: 1, City: "Караганда"}
	deals.deals[2] = model.Deal{ID: 2, City: "Темиртау"}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	manager := warehousePrincipal()
	manager.City = "Караганда"

	out, err := workflow.WarehouseFillPanel(context.Background(), manager)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)

	// No city binding means no narrowing.
	all, err := workflow.WarehouseFillPanel(context.Background(), warehousePrincipal())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCommentDealMirrorsOntoTasks(t *testing.T) {
	gateway := newFakeGateway()
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
	gateway.tasks[5] = []crm.TaskRecord{
		{ID: 310, Title: "Произведение работ"},
		{ID: 311, Title: "Замер"},
	}

	workflow := newTestWorkflow(gateway, deals)

	err := workflow.CommentDeal(context.Background(), installerPrincipal(42), 5, "нужен удлинитель")
	require.NoError(t, err)

	require.Len(t, gateway.fieldUpdates, 1)
	require.NotNil(t, gateway.fieldUpdates[0].values.Comment)
	assert.Equal(t, "нужен удлинитель", *gateway.fieldUpdates[0].values.Comment)

	assert.Equal(t, []string{"нужен удлинитель"}, gateway.taskComments[310])
	assert.Equal(t, []string{"нужен удлинитель"}, gateway.taskComments[311])
}

func TestCommentDealRejectsBlankComment(t *testing.T) {
	deals := newFakeDealStore()
	userID := int64(42)
	deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	err := workflow.CommentDeal(context.Background(), installerPrincipal(42), 5, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompleteWorkTask(t *testing.T) {
	userID := int64(42)

	t.Run("closes the installation task only", func(t *testing.T) {
		gateway := newFakeGateway()
		deals := newFakeDealStore()
		deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
		gateway.tasks[5] = []crm.TaskRecord{
			{ID: 309, Title: "Замер"},
			{ID: 310, Title: "Произведение работ"},
		}

		workflow := newTestWorkflow(gateway, deals)

		require.NoError(t, workflow.CompleteWorkTask(context.Background(), installerPrincipal(42), 5))
		assert.Equal(t, []int64{310}, gateway.completedTasks)
	})

	t.Run("no installation task", func(t *testing.T) {
		gateway := newFakeGateway()
		deals := newFakeDealStore()
		deals.deals[5] = model.Deal{ID: 5, AssignedID: &userID, Moved: true}
		gateway.tasks[5] = []crm.TaskRecord{{ID: 309, Title: "Замер"}}

		workflow := newTestWorkflow(gateway, deals)

		err := workflow.CompleteWorkTask(context.Background(), installerPrincipal(42), 5)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetDealKeepsStoreFailureApartFromMissingRow(t *testing.T) {
	deals := newFakeDealStore()
	workflow := newTestWorkflow(newFakeGateway(), deals)

	admin := model.Principal{UserID: 1, Permissions: []string{model.PermissionAdmin}}

	err := workflow.ApproveDeal(context.Background(), admin, 5)
	assert.ErrorIs(t, err, ErrNotFound)

	deals.getDealErr = errors.New("connection reset")
	err = workflow.ApproveDeal(context.Background(), admin, 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestWarehousePanelsNormalizeCity(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[1] = model.Deal{ID: 1, City: "Караганда"}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	manager := warehousePrincipal()
	manager.City = " караганда "

	out, err := workflow.WarehouseFillPanel(context.Background(), manager)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)
}

func TestDeleteDealRequiresAdmin(t *testing.T) {
	deals := newFakeDealStore()
	deals.deals[5] = model.Deal{ID: 5}

	workflow := newTestWorkflow(newFakeGateway(), deals)

	err := workflow.DeleteDeal(context.Background(), warehousePrincipal(), 5)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	admin := model.Principal{UserID: 1, Permissions: []string{model.PermissionAdmin}}
	require.NoError(t, workflow.DeleteDeal(context.Background(), admin, 5))
	assert.Empty(t, deals.deals)
}
