package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domorder "github.com/wulinbill/loyverse-api/internal/domain/order"
)

const (
	endpointItems          = "list_items"
	endpointSearchCustomer = "search_customers"
	endpointCreateCustomer = "create_customer"
	endpointCreateReceipt  = "create_receipt"
	headerIdempotencyKey   = "Idempotency-Key"
)

type itemDTO struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	CategoryName string          `json:"category_name"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	Description  string          `json:"description"`
}

type itemsPage struct {
	Items  []itemDTO `json:"items"`
	Cursor string    `json:"cursor"`
}

// ListItems fetches one page of the item catalog.
func (c *Client) ListItems(ctx context.Context, cursor string) ([]domcatalog.RawItem, string, error) {
	q := url.Values{"limit": {strconv.Itoa(c.pageSize)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page itemsPage
	if err := c.do(ctx, call{endpoint: endpointItems, method: http.MethodGet, path: "/items", query: q, out: &page}); err != nil {
		return nil, "", err
	}
	items := make([]domcatalog.RawItem, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, domcatalog.RawItem{
			SKU:         it.SKU,
			Name:        it.Name,
			Category:    it.CategoryName,
			Description: it.Description,
			Price:       it.DefaultPrice,
		})
	}
	return items, page.Cursor, nil
}

type customerDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

func (d customerDTO) domain() domcustomer.Customer {
	return domcustomer.Customer{ID: d.ID, Name: d.Name, Phone: d.PhoneNumber}
}

type customersPage struct {
	Customers []customerDTO `json:"customers"`
}

// Search returns the first customer whose phone matches. Records for other
// numbers are ignored in case the filter is not applied upstream.
func (c *Client) Search(ctx context.Context, phone string) (domcustomer.Customer, bool, error) {
	var page customersPage
	err := c.do(ctx, call{
		endpoint: endpointSearchCustomer,
		method:   http.MethodGet,
		path:     "/customers",
		query:    url.Values{"phone_number": {phone}},
		out:      &page,
	})
	if err != nil {
		return domcustomer.Customer{}, false, err
	}
	want := domcustomer.NormalizePhone(phone)
	for _, cu := range page.Customers {
		if cu.ID != "" && domcustomer.NormalizePhone(cu.PhoneNumber) == want {
			return cu.domain(), true, nil
		}
	}
	return domcustomer.Customer{}, false, nil
}

type createCustomerRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// Create registers a customer. A 409 surfaces as fault.ErrConflict.
func (c *Client) Create(ctx context.Context, name, phone string) (domcustomer.Customer, error) {
	var out customerDTO
	err := c.do(ctx, call{
		endpoint: endpointCreateCustomer,
		method:   http.MethodPost,
		path:     "/customers",
		body:     createCustomerRequest{Name: name, PhoneNumber: phone},
		out:      &out,
	})
	if err != nil {
		return domcustomer.Customer{}, err
	}
	if out.ID == "" {
		return domcustomer.Customer{}, fault.Upstream("loyverse: "+endpointCreateCustomer, errMissingID)
	}
	if out.PhoneNumber == "" {
		out.PhoneNumber = phone
	}
	return out.domain(), nil
}

// Outbound amounts are JSON numbers; decimal.Decimal would marshal as a string.
type lineItemDTO struct {
	SKU      string      `json:"sku"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
}

type paymentDTO struct {
	PaymentTypeID string      `json:"payment_type_id"`
	MoneyAmount   json.Number `json:"money_amount"`
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type createReceiptRequest struct {
	StoreID    string        `json:"store_id,omitempty"`
	CustomerID string        `json:"customer_id,omitempty"`
	LineItems  []lineItemDTO `json:"line_items"`
	Payments   []paymentDTO  `json:"payments"`
}

// createReceiptResponse accepts both the documented receipt_number /
// total_money fields and the receipt_id / total_amount names some accounts return.
type createReceiptResponse struct {
	ReceiptNumber string           `json:"receipt_number"`
	ReceiptID     string           `json:"receipt_id"`
	TotalMoney    *decimal.Decimal `json:"total_money"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
}

// CreateReceipt submits sub. The idempotency key travels as a header so a
// replay of the same submission can be recognized upstream.
func (c *Client) CreateReceipt(ctx context.Context, sub domorder.Submission) (domorder.Receipt, error) {
	req := createReceiptRequest{
		StoreID:    c.storeID,
		CustomerID: sub.CustomerID,
		LineItems:  make([]lineItemDTO, 0, len(sub.Lines)),
		Payments:   []paymentDTO{},
	}
	for _, l := range sub.Lines {
		req.LineItems = append(req.LineItems, lineItemDTO{SKU: l.SKU, Quantity: l.Quantity, Price: amount(l.UnitPrice)})
	}
	if c.paymentTypeID != "" {
		req.Payments = append(req.Payments, paymentDTO{PaymentTypeID: c.paymentTypeID, MoneyAmount: amount(sub.Total)})
	}

	header := http.Header{}
	if sub.IdempotencyKey != "" {
		header.Set(headerIdempotencyKey, sub.IdempotencyKey)
	}

	var out createReceiptResponse
	err := c.do(ctx, call{
		endpoint: endpointCreateReceipt,
		method:   http.MethodPost,
		path:     "/receipts",
		body:     req,
		header:   header,
		out:      &out,
	})
	if err != nil {
		return domorder.Receipt{}, err
	}

	id := strings.TrimSpace(out.ReceiptNumber)
	if id == "" {
		id = strings.TrimSpace(out.ReceiptID)
	}
	if id == "" {
		// The receipt exists upstream; a retry would duplicate it.
		return domorder.Receipt{}, fmt.Errorf("loyverse: %s: %w", endpointCreateReceipt, errMissingID)
	}
	total := sub.Total
	switch {
	case out.TotalMoney != nil:
		total = *out.TotalMoney
	case out.TotalAmount != nil:
		total = *out.TotalAmount
	}
	return domorder.Receipt{ID: id, TotalWithTax: total}, nil
}
