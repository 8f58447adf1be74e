package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/service"
)

type createProductRequest struct {
	Name         string           `json:"name" validate:"required"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price" validate:"required"`
	Unit         string           `json:"unit" validate:"required"`
	SupplierName string           `json:"supplier_name"`
	Category     string           `json:"category"`
	Sku          string           `json:"sku" validate:"required"`
}

type updateProductRequest struct {
	Name         *string          `json:"name"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price"`
	Unit         *string          `json:"unit"`
	SupplierName *string          `json:"supplier_name"`
	Category     *string          `json:"category"`
	Sku          *string          `json:"sku"`
}

type productHandler struct {
	svc        *Service
	productSvc service.ProductService
}

func newProductHandler(svc *Service, productSvc service.ProductService) *productHandler {
	return &productHandler{svc: svc, productSvc: productSvc}
}

func (h *productHandler) create(w http.ResponseWriter, r *http.Request) {
	body, err := decode[createProductRequest](h.svc, r)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	product, err := h.productSvc.CreateProduct(r.Context(), service.CreateProductParams{
		Name:         body.Name,
		Description:  body.Description,
		Price:        *body.Price,
		Unit:         body.Unit,
		SupplierName: body.SupplierName,
		Category:     body.Category,
		Sku:          body.Sku,
	})
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusCreated, product)
}

func (h *productHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "productId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	product, err := h.productSvc.GetProduct(r.Context(), id)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, product)
}

func (h *productHandler) list(w http.ResponseWriter, r *http.Request) {
	products, err := h.productSvc.ListAllProducts(r.Context())
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, products)
}

func (h *productHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "productId")
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	body, err := decode[updateProductRequest](h.svc, r)
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	product, err := h.productSvc.UpdateProduct(r.Context(), id, service.UpdateProductParams{
		Name:         body.Name,
		Description:  body.Description,
		Price:        body.Price,
		Unit:         body.Unit,
		SupplierName: body.SupplierName,
		Category:     body.Category,
		Sku:          body.Sku,
	})
	if err != nil {
		h.svc.respondError(w, r, err)
		return
	}

	h.svc.respond(w, r, http.StatusOK, product)
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.UUID{}, apperr.ValidationErr.WrapParent(err)
	}
	return id, nil
}
