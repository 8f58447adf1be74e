package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/service"
)

type quoteLineRequest struct {
	ProductID uuid.UUID        `json:"product_id" validate:"required"`
	Quantity  *decimal.Decimal `json:"quantity" validate:"required"`
}

type createQuoteRequest struct {
	CustomerName  string             `json:"customer_name" validate:"required"`
	CustomerEmail string             `json:"customer_email" validate:"required,email"`
	ProjectName   *string            `json:"project_name"`
	LineItems     []quoteLineRequest `json:"line_items" validate:"required,min=1,dive"`
}

type quoteHandler struct {
	svc      *Service
	quoteSvc service.QuoteService
}

func newQuoteHandler(svc *Service, quoteSvc service.QuoteService) *quoteHandler {
	return &quoteHandler{svc: svc, quoteSvc: quoteSvc}
}

func (h *quoteHandler) create(w http.ResponseWriter, r *http.Request) {
	body, err := decode[createQuoteRequest](h.svc, r)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	lines := make([]service.QuoteLineParams, len(body.LineItems))
	for i, line := range body.LineItems {
		lines[i] = service.QuoteLineParams{
			ProductID: line.ProductID,
			Quantity:  *line.Quantity,
		}
	}

	quote, err := h.quoteSvc.CreateQuote(r.Context(), service.CreateQuoteParams{
		CustomerName:  body.CustomerName,
		CustomerEmail: body.CustomerEmail,
		ProjectName:   body.ProjectName,
		Lines:         lines,
	})
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusCreated, quote)
}

func (h *quoteHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "quoteId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	quote, err := h.quoteSvc.GetQuote(r.Context(), id)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, quote)
}

func (h *quoteHandler) list(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.quoteSvc.ListAllQuotes(r.Context())
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, quotes)
}
