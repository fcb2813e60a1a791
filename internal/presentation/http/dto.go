package httppresentation

import (
	"net/http"
	"time"

	"github.com/wulinbill/loyverse-api/internal/application/gateway"
	dompending "github.com/wulinbill/loyverse-api/internal/domain/pending"
)

type menuItemDTO struct {
	SKU       string   `json:"sku"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	PriceBase float64  `json:"price_base"`
	Aliases   []string `json:"aliases"`
}

type menuResponse struct {
	Items []menuItemDTO `json:"items"`
}

// customerResponse renders both fields as null when nobody matched.
type customerResponse struct {
	CustomerID *string `json:"customer_id"`
	Name       *string `json:"name"`
}

type createdCustomerResponse struct {
	CustomerID string `json:"customer_id"`
}

type queuedResponse struct {
	Status    string `json:"status"`
	PendingID string `json:"pending_id"`
}

type orderResponse struct {
	ReceiptID       string   `json:"receipt_id"`
	Total           float64  `json:"total"`
	TotalWithTax    float64  `json:"total_with_tax"`
	PrepTimeMinutes int      `json:"prep_time_minutes"`
	Dropped         []string `json:"dropped_skus,omitempty"`
}

// render maps a reply onto its status and JSON body. Queued writes answer
// 202 so the caller can tell them from confirmed ones.
func render(reply gateway.Reply) (int, any) {
	switch r := reply.(type) {
	case gateway.MenuReply:
		out := menuResponse{Items: make([]menuItemDTO, 0, len(r.Items))}
		for _, it := range r.Items {
			aliases := it.Aliases
			if aliases == nil {
				aliases = []string{}
			}
			out.Items = append(out.Items, menuItemDTO{
				SKU:       it.SKU,
				Name:      it.Name,
				Category:  it.Category,
				PriceBase: it.PriceBase.InexactFloat64(),
				Aliases:   aliases,
			})
		}
		return http.StatusOK, out
	case gateway.CustomerReply:
		if !r.Found {
			return http.StatusOK, customerResponse{}
		}
		id, name := r.Customer.ID, r.Customer.Name
		return http.StatusOK, customerResponse{CustomerID: &id, Name: &name}
	case gateway.CustomerCreatedReply:
		if r.Queued {
			return http.StatusAccepted, queuedResponse{Status: "queued", PendingID: r.PendingID}
		}
		return http.StatusOK, createdCustomerResponse{CustomerID: r.CustomerID}
	case gateway.OrderReply:
		res := r.Result
		if res.Queued {
			return http.StatusAccepted, queuedResponse{Status: "queued", PendingID: res.PendingID}
		}
		out := orderResponse{
			ReceiptID:       res.ReceiptID,
			Total:           res.Total.InexactFloat64(),
			TotalWithTax:    res.TotalWithTax.InexactFloat64(),
			PrepTimeMinutes: res.Prep.Minutes(),
		}
		for _, d := range res.Dropped {
			out.Dropped = append(out.Dropped, d.SKU)
		}
		return http.StatusOK, out
	default:
		return http.StatusInternalServerError, map[string]string{"error": "unsupported reply"}
	}
}

type pendingEntryDTO struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key"`
	Attempts       int       `json:"attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	NextAttemptAt  time.Time `json:"next_attempt_at"`
	LastError      string    `json:"last_error,omitempty"`
}

type pendingResponse struct {
	Count   int               `json:"count"`
	Entries []pendingEntryDTO `json:"entries"`
}

func toPendingDTO(e dompending.Entry) pendingEntryDTO {
	return pendingEntryDTO{
		ID:             e.ID,
		Kind:           string(e.Kind),
		IdempotencyKey: e.IdempotencyKey,
		Attempts:       e.Attempts,
		EnqueuedAt:     e.EnqueuedAt,
		NextAttemptAt:  e.NextAttemptAt,
		LastError:      e.LastError,
	}
}

type tokenHealthDTO struct {
	HasAccessToken bool       `json:"has_access_token"`
	CanRefresh     bool       `json:"can_refresh"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Poisoned       bool       `json:"poisoned"`
	LastError      string     `json:"last_error,omitempty"`
}

type healthResponse struct {
	Status       string         `json:"status"`
	Token        tokenHealthDTO `json:"token"`
	Pending      int            `json:"pending"`
	CatalogItems int            `json:"catalog_items"`
}

func toHealthDTO(h gateway.Health) healthResponse {
	out := healthResponse{
		Status: "ok",
		Token: tokenHealthDTO{
			HasAccessToken: h.Token.HasAccessToken,
			CanRefresh:     h.Token.CanRefresh,
			Poisoned:       h.Token.Poisoned,
			LastError:      h.Token.LastError,
		},
		Pending:      h.PendingCount,
		CatalogItems: h.CatalogItems,
	}
	if !h.Token.ExpiresAt.IsZero() {
		exp := h.Token.ExpiresAt
		out.Token.ExpiresAt = &exp
	}
	if !h.Ready() {
		out.Status = "degraded"
	}
	return out
}
