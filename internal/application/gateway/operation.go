package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	domcatalog "github.com/wulinbill/loyverse-api/internal/domain/catalog"
	domcustomer "github.com/wulinbill/loyverse-api/internal/domain/customer"
	"github.com/wulinbill/loyverse-api/internal/domain/fault"
	domorder "github.com/wulinbill/loyverse-api/internal/domain/order"
)

// Operation names as the conversational front-end sends them.
const (
	OpGetMenu        = "get_menu"
	OpGetCustomer    = "get_customer"
	OpCreateCustomer = "create_customer"
	OpPlaceOrder     = "place_order"
)

// Operation is one of GetMenu, GetCustomer, CreateCustomer or PlaceOrder.
type Operation interface {
	Name() string
	operation()
}

type GetMenu struct{}

type GetCustomer struct {
	Phone string
}

type CreateCustomer struct {
	CustomerName string
	Phone        string
}

type PlaceOrder struct {
	Request domorder.Request
}

func (GetMenu) Name() string        { return OpGetMenu }
func (GetCustomer) Name() string    { return OpGetCustomer }
func (CreateCustomer) Name() string { return OpCreateCustomer }
func (PlaceOrder) Name() string     { return OpPlaceOrder }

func (GetMenu) operation()        {}
func (GetCustomer) operation()    {}
func (CreateCustomer) operation() {}
func (PlaceOrder) operation()     {}

// Reply is the typed result of a dispatched operation.
type Reply interface {
	reply()
}

type MenuReply struct {
	Items []domcatalog.MenuItem
}

// CustomerReply carries the zero customer with Found unset when nobody
// matched the phone.
type CustomerReply struct {
	Customer domcustomer.Customer
	Found    bool
}

// CustomerCreatedReply has CustomerID set, or Queued with the pending id.
type CustomerCreatedReply struct {
	CustomerID string
	Queued     bool
	PendingID  string
}

type OrderReply struct {
	Result *domorder.Result
}

func (MenuReply) reply()            {}
func (CustomerReply) reply()        {}
func (CustomerCreatedReply) reply() {}
func (OrderReply) reply()           {}

type getCustomerArgs struct {
	Phone string `json:"phone"`
}

type createCustomerArgs struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type orderItemArgs struct {
	SKU string `json:"sku"`
	// Qty defaults to 1 when omitted.
	Qty *int `json:"qty"`
}

type placeOrderArgs struct {
	CustomerID string          `json:"customer_id"`
	Phone      string          `json:"phone"`
	Name       string          `json:"name"`
	Items      []orderItemArgs `json:"items"`
}

// Decode turns a tool name and its JSON arguments into an Operation. Empty or
// null arguments decode as an empty object.
func Decode(name string, args json.RawMessage) (Operation, error) {
	switch strings.TrimSpace(name) {
	case OpGetMenu:
		return GetMenu{}, nil
	case OpGetCustomer:
		var a getCustomerArgs
		if err := unmarshalArgs(args, &a); err != nil {
			return nil, err
		}
		return GetCustomer{Phone: strings.TrimSpace(a.Phone)}, nil
	case OpCreateCustomer:
		var a createCustomerArgs
		if err := unmarshalArgs(args, &a); err != nil {
			return nil, err
		}
		return CreateCustomer{CustomerName: strings.TrimSpace(a.Name), Phone: strings.TrimSpace(a.Phone)}, nil
	case OpPlaceOrder:
		var a placeOrderArgs
		if err := unmarshalArgs(args, &a); err != nil {
			return nil, err
		}
		req := domorder.Request{
			CustomerID: strings.TrimSpace(a.CustomerID),
			Phone:      strings.TrimSpace(a.Phone),
			Name:       strings.TrimSpace(a.Name),
			Lines:      make([]domorder.LineRequest, 0, len(a.Items)),
		}
		for _, it := range a.Items {
			qty := 1
			if it.Qty != nil {
				qty = *it.Qty
			}
			req.Lines = append(req.Lines, domorder.LineRequest{SKU: strings.TrimSpace(it.SKU), Quantity: qty})
		}
		return PlaceOrder{Request: req}, nil
	default:
		return nil, fault.Validation(fmt.Sprintf("unknown operation %q", name))
	}
}

func unmarshalArgs(args json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fault.Validation("malformed arguments: " + err.Error())
	}
	return nil
}
