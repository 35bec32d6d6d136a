// Package crm is the webhook client for the external CRM. It exposes
// the capability set the sync engine consumes: paged deal/user/product
// listing, product rows get/set, offer-parent resolution and typed deal
// field updates. Retries are the portal's concern; an exhausted call
// surfaces as ErrTransport.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultPageSize = 50

// ErrTransport marks any failure to reach the CRM or a call the CRM
// rejected.
var ErrTransport = fmt.Errorf("crm transport error")

type Client struct {
	webhook  string
	codes    FieldCodes
	http     *http.Client
	pageSize int
	log      zerolog.Logger
}

func NewClient(webhook string, codes FieldCodes, log zerolog.Logger) *Client {
	return &Client{
		webhook:  strings.TrimRight(webhook, "/"),
		codes:    codes,
		http:     &http.Client{Timeout: 90 * time.Second},
		pageSize: defaultPageSize,
		log:      log.With().Str("component", "crm").Logger(),
	}
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) (int, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("%w: encode %s: %v", ErrTransport, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook+"/"+method, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: read body: %v", ErrTransport, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s: status %d", ErrTransport, method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("%w: %s: decode: %v", ErrTransport, method, err)
	}
	if env.Error != "" {
		return 0, fmt.Errorf("%w: %s: %s (%s)", ErrTransport, method, env.Error, env.ErrorDescription)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return 0, fmt.Errorf("%w: %s: decode result: %v", ErrTransport, method, err)
		}
	}
	return env.Total, nil
}

// listPages drives the CRM's offset pagination: continue while the page
// came back full and fewer records than the reported total were seen.
func (c *Client) listPages(ctx context.Context, method string, params map[string]any) ([]map[string]any, error) {
	var all []map[string]any
	start := 0
	for {
		params["start"] = start
		var page []map[string]any
		total, err := c.call(ctx, method, params, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		start += c.pageSize
		if len(page) < c.pageSize || len(all) >= total {
			return all, nil
		}
	}
}

func (c *Client) ListDealsByFilter(ctx context.Context, filter DealFilter) ([]DealRecord, error) {
	params := map[string]any{
		"select": []string{
			"ID", "TITLE", "CATEGORY_ID",
			c.codes.DateCreate, c.codes.AssignedID, c.codes.City, c.codes.ServicePrice,
		},
		"filter": filter.toParams(),
	}
	rows, err := c.listPages(ctx, "crm.deal.list", params)
	if err != nil {
		return nil, err
	}
	deals := make([]DealRecord, 0, len(rows))
	for _, row := range rows {
		deals = append(deals, c.mapDeal(row))
	}
	return deals, nil
}

func (c *Client) GetDealByID(ctx context.Context, dealID int64) (*DealRecord, error) {
	var row map[string]any
	if _, err := c.call(ctx, "crm.deal.get", map[string]any{"id": dealID}, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: crm.deal.get: empty result for deal %d", ErrTransport, dealID)
	}
	deal := c.mapDeal(row)
	return &deal, nil
}

func (c *Client) DealProductRows(ctx context.Context, dealID int64) ([]ProductRow, error) {
	var raw []map[string]any
	if _, err := c.call(ctx, "crm.deal.productrows.get", map[string]any{"id": dealID}, &raw); err != nil {
		return nil, err
	}
	rows := make([]ProductRow, 0, len(raw))
	for _, item := range raw {
		rows = append(rows, ProductRow{
			ProductID:   asInt64(item["PRODUCT_ID"]),
			ProductName: asString(item["PRODUCT_NAME"]),
			Quantity:    asFloat(item["QUANTITY"]),
			Price:       asFloat(item["PRICE"]),
		})
	}
	return rows, nil
}

func (c *Client) SetDealProductRows(ctx context.Context, dealID int64, rows []ProductRowUpdate) error {
	_, err := c.call(ctx, "crm.deal.productrows.set", map[string]any{"id": dealID, "rows": rows}, nil)
	return err
}

func (c *Client) UpdateDealFields(ctx context.Context, dealID int64, values DealFieldValues) error {
	fields := values.toParams(c.codes)
	if len(fields) == 0 {
		return nil
	}
	_, err := c.call(ctx, "crm.deal.update", map[string]any{"id": dealID, "fields": fields}, nil)
	return err
}

// ResolveOfferParent looks an offer record up in the catalog. A missing
// offer record, or one without a parent reference, returns zero: the
// caller treats the original id as already canonical.
func (c *Client) ResolveOfferParent(ctx context.Context, offerID int64) (int64, error) {
	var result struct {
		Offer json.RawMessage `json:"offer"`
	}
	if _, err := c.call(ctx, "catalog.product.offer.get", map[string]any{"id": offerID}, &result); err != nil {
		return 0, err
	}
	if len(result.Offer) == 0 {
		return 0, nil
	}
	var offer struct {
		ParentID *struct {
			Value json.Number `json:"value"`
		} `json:"parentId"`
	}
	// The catalog answers with an empty array instead of an object when
	// the id is not an offer.
	if err := json.Unmarshal(result.Offer, &offer); err != nil {
		return 0, nil
	}
	if offer.ParentID == nil {
		return 0, nil
	}
	parent, err := offer.ParentID.Value.Int64()
	if err != nil {
		return 0, nil
	}
	return parent, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]ProductRecord, error) {
	params := map[string]any{"select": []string{"ID", "NAME"}}
	rows, err := c.listPages(ctx, "crm.product.list", params)
	if err != nil {
		return nil, err
	}
	products := make([]ProductRecord, 0, len(rows))
	for _, row := range rows {
		products = append(products, ProductRecord{ID: asInt64(row["ID"]), Name: asString(row["NAME"])})
	}
	return products, nil
}

func (c *Client) GetProductByID(ctx context.Context, productID int64) (*ProductRecord, error) {
	var row map[string]any
	if _, err := c.call(ctx, "crm.product.get", map[string]any{"id": productID}, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: crm.product.get: empty result for product %d", ErrTransport, productID)
	}
	return &ProductRecord{ID: asInt64(row["ID"]), Name: asString(row["NAME"])}, nil
}

func (c *Client) ListUsersByFilter(ctx context.Context, filter UserFilter) ([]UserRecord, error) {
	params := map[string]any{
		"select": []string{"ID", "NAME", "LAST_NAME", "UF_DEPARTMENT"},
		"filter": filter.toParams(),
	}
	rows, err := c.listPages(ctx, "user.search", params)
	if err != nil {
		return nil, err
	}
	users := make([]UserRecord, 0, len(rows))
	for _, row := range rows {
		users = append(users, UserRecord{
			ID:          asInt64(row["ID"]),
			Name:        asString(row["NAME"]),
			LastName:    asString(row["LAST_NAME"]),
			Departments: asInt64Slice(row["UF_DEPARTMENT"]),
		})
	}
	return users, nil
}

// DealTasks lists the tasks bound to a deal. The binding lives in the
// task's UF_CRM_TASK field as a "D_<id>" entry.
func (c *Client) DealTasks(ctx context.Context, dealID int64) ([]TaskRecord, error) {
	var result struct {
		Tasks []map[string]any `json:"tasks"`
	}
	params := map[string]any{
		"filter": map[string]any{"UF_CRM_TASK": fmt.Sprintf("D_%d", dealID)},
		"select": []string{"ID", "TITLE"},
	}
	if _, err := c.call(ctx, "tasks.task.list", params, &result); err != nil {
		return nil, err
	}
	tasks := make([]TaskRecord, 0, len(result.Tasks))
	for _, row := range result.Tasks {
		tasks = append(tasks, TaskRecord{ID: asInt64(row["id"]), Title: asString(row["title"])})
	}
	return tasks, nil
}

// AddTaskComment posts a message into the task discussion.
func (c *Client) AddTaskComment(ctx context.Context, taskID int64, message string) error {
	_, err := c.call(ctx, "task.commentitem.add", map[string]any{
		"TASKID": taskID,
		"FIELDS": map[string]any{"POST_MESSAGE": message},
	}, nil)
	return err
}

// CompleteTask closes the task on the portal side.
func (c *Client) CompleteTask(ctx context.Context, taskID int64) error {
	_, err := c.call(ctx, "tasks.task.complete", map[string]any{"taskId": taskID}, nil)
	return err
}

func (c *Client) mapDeal(row map[string]any) DealRecord {
	deal := DealRecord{
		ID:         asInt64(row["ID"]),
		Title:      asString(row["TITLE"]),
		CategoryID: int(asInt64(row["CATEGORY_ID"])),
		DateCreate: asString(row[c.codes.DateCreate]),
		CityCode:   asString(row[c.codes.City]),
	}
	if id := asInt64(row[c.codes.AssignedID]); id != 0 {
		deal.AssignedID = &id
	}
	if raw, ok := row[c.codes.ServicePrice]; ok && raw != nil {
		if price := asFloat(raw); price != 0 {
			deal.ServicePrice = &price
		}
	}
	return deal
}

// The portal serializes numbers as strings more often than not; accept
// either form.
func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0
		}
		return parsed
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func asInt64Slice(v any) []int64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		if id := asInt64(item); id != 0 {
			out = append(out, id)
		}
	}
	return out
}
