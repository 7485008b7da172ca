package postinghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/backoffice/internal/accounting/mappings"
	"github.com/retailops/backoffice/internal/accounting/periods"
	"github.com/retailops/backoffice/internal/accounting/shared"
	"github.com/retailops/backoffice/internal/platform/httpx"
	"github.com/retailops/backoffice/internal/posting"
)

type postingEngine interface {
	ReceivePurchase(ctx context.Context, in posting.ReceiveInput) (posting.Result, error)
	PayPurchase(ctx context.Context, in posting.PaymentInput) (posting.Result, error)
	ReturnPurchase(ctx context.Context, returnID uuid.UUID) (posting.Result, error)
	PostSalesOrder(ctx context.Context, orderID uuid.UUID) (posting.Result, error)
	PostSalesReturn(ctx context.Context, returnID uuid.UUID) (posting.Result, error)
	AdjustStock(ctx context.Context, in posting.StockAdjustmentInput) (posting.Result, error)
	PostOpname(ctx context.Context, opnameID uuid.UUID) (posting.Result, error)
	PostPayout(ctx context.Context, payoutID uuid.UUID) (posting.Result, error)
	PostCustomerPayment(ctx context.Context, paymentID uuid.UUID) (posting.Result, error)
}

type periodChecker interface {
	CheckOpen(ctx context.Context) (periods.Status, error)
}

type mappingAdmin interface {
	List(ctx context.Context, eventType string) ([]mappings.AccountMapping, error)
	Save(ctx context.Context, m mappings.AccountMapping) (mappings.AccountMapping, error)
}

// Handler exposes the posting engine as a JSON API.
type Handler struct {
	logger    *slog.Logger
	engine    postingEngine
	periods   periodChecker
	mappings  mappingAdmin
	validator *validator.Validate
}

// NewHandler constructs the journal API handler.
func NewHandler(logger *slog.Logger, engine postingEngine, periods periodChecker, mappings mappingAdmin) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		engine:    engine,
		periods:   periods,
		mappings:  mappings,
		validator: validator.New(),
	}
}

// MountRoutes registers the journal routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/journal", func(r chi.Router) {
		r.Post("/purchase", h.postPurchase)
		r.Post("/purchase-return", h.postPurchaseReturn)
		r.Post("/sales-order", h.postSalesOrder)
		r.Post("/sales-return", h.postSalesReturn)
		r.Post("/stock-adjustment", h.postStockAdjustment)
		r.Post("/stock-opname", h.postStockOpname)
		r.Post("/marketplace-payout", h.postMarketplacePayout)
		r.Post("/customer-payment", h.postCustomerPayment)
		r.Get("/period/current", h.currentPeriod)
		r.Get("/mappings", h.listMappings)
		r.Post("/mappings", h.saveMapping)
	})
}

type receiptLineRequest struct {
	PurchaseLineID string           `json:"purchaseLineId" validate:"required,uuid"`
	Qty            decimal.Decimal  `json:"qty"`
	UnitCost       *decimal.Decimal `json:"unitCost"`
}

type purchaseRequest struct {
	PurchaseID     string               `json:"purchaseId" validate:"required,uuid"`
	OperationType  string               `json:"operationType" validate:"required,oneof=receive payment"`
	ReceiptLines   []receiptLineRequest `json:"receiptLines" validate:"dive"`
	PaymentAmount  decimal.Decimal      `json:"paymentAmount"`
	PaymentMethod  string               `json:"paymentMethod" validate:"omitempty,oneof=cash bank transfer"`
	BankAccountID  string               `json:"bankAccountId" validate:"omitempty,uuid"`
	IdempotencyKey string               `json:"idempotencyKey" validate:"max=128"`
}

type purchaseReturnRequest struct {
	PurchaseReturnID string `json:"purchaseReturnId" validate:"required,uuid"`
}

type salesOrderRequest struct {
	SalesOrderID string `json:"salesOrderId" validate:"required,uuid"`
}

// salesReturnRequest carries the whole return row; only its id is used and
// the row is read again from the database.
type salesReturnRequest struct {
	Record struct {
		ID string `json:"id" validate:"required,uuid"`
	} `json:"record"`
}

type stockAdjustmentRequest struct {
	VariantID      string          `json:"variantId" validate:"required,uuid"`
	AdjustmentQty  decimal.Decimal `json:"adjustmentQty"`
	Reason         string          `json:"reason" validate:"required,max=255"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"max=128"`
}

type stockOpnameRequest struct {
	OpnameID string `json:"opnameId" validate:"required,uuid"`
}

type payoutRequest struct {
	PayoutID string `json:"payoutId" validate:"required,uuid"`
}

type customerPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required,uuid"`
}

type mappingRequest struct {
	EventType       string `json:"eventType" validate:"required,max=64"`
	EventContext    string `json:"eventContext" validate:"max=64"`
	Side            string `json:"side" validate:"required,oneof=debit credit"`
	AccountID       string `json:"accountId" validate:"required,uuid"`
	ProductType     string `json:"productType" validate:"max=64"`
	MarketplaceCode string `json:"marketplaceCode" validate:"max=64"`
	IsActive        *bool  `json:"isActive"`
	Priority        int    `json:"priority"`
}

type postingResponse struct {
	Success        bool        `json:"success"`
	JournalEntryID *uuid.UUID  `json:"journalEntryId"`
	EntryNo        string      `json:"entryNo,omitempty"`
	AlreadyPosted  bool        `json:"alreadyPosted,omitempty"`
	ReceiptNo      string      `json:"receiptNo,omitempty"`
	PaymentNo      string      `json:"paymentNo,omitempty"`
	AdjustmentNo   string      `json:"adjustmentNo,omitempty"`
	Amount         json.Number `json:"amount,omitempty"`
}

func (h *Handler) postPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	purchaseID := uuid.MustParse(req.PurchaseID)
	switch req.OperationType {
	case "receive":
		in := posting.ReceiveInput{PurchaseID: purchaseID, IdempotencyKey: strings.TrimSpace(req.IdempotencyKey)}
		for _, line := range req.ReceiptLines {
			in.Lines = append(in.Lines, posting.ReceiptLineInput{
				PurchaseLineID: uuid.MustParse(line.PurchaseLineID),
				Qty:            line.Qty,
				UnitCost:       line.UnitCost,
			})
		}
		res, err := h.engine.ReceivePurchase(r.Context(), in)
		h.respond(w, r, res, err, func(body *postingResponse) { body.ReceiptNo = res.DocumentNo })
	case "payment":
		in := posting.PaymentInput{
			PurchaseID:     purchaseID,
			Amount:         req.PaymentAmount,
			Method:         req.PaymentMethod,
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		}
		if req.BankAccountID != "" {
			id := uuid.MustParse(req.BankAccountID)
			in.BankAccountID = &id
		}
		res, err := h.engine.PayPurchase(r.Context(), in)
		h.respond(w, r, res, err, func(body *postingResponse) { body.PaymentNo = res.DocumentNo })
	}
}

func (h *Handler) postPurchaseReturn(w http.ResponseWriter, r *http.Request) {
	var req purchaseReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.ReturnPurchase(r.Context(), uuid.MustParse(req.PurchaseReturnID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) postSalesOrder(w http.ResponseWriter, r *http.Request) {
	var req salesOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.PostSalesOrder(r.Context(), uuid.MustParse(req.SalesOrderID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) postSalesReturn(w http.ResponseWriter, r *http.Request) {
	var req salesReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.PostSalesReturn(r.Context(), uuid.MustParse(req.Record.ID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) postStockAdjustment(w http.ResponseWriter, r *http.Request) {
	var req stockAdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.AdjustStock(r.Context(), posting.StockAdjustmentInput{
		VariantID:      uuid.MustParse(req.VariantID),
		Qty:            req.AdjustmentQty,
		UnitCost:       req.UnitCost,
		Reason:         req.Reason,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	h.respond(w, r, res, err, func(body *postingResponse) { body.AdjustmentNo = res.DocumentNo })
}

func (h *Handler) postStockOpname(w http.ResponseWriter, r *http.Request) {
	var req stockOpnameRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.PostOpname(r.Context(), uuid.MustParse(req.OpnameID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) postMarketplacePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.PostPayout(r.Context(), uuid.MustParse(req.PayoutID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) postCustomerPayment(w http.ResponseWriter, r *http.Request) {
	var req customerPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.PostCustomerPayment(r.Context(), uuid.MustParse(req.PaymentID))
	h.respond(w, r, res, err, nil)
}

func (h *Handler) currentPeriod(w http.ResponseWriter, r *http.Request) {
	st, err := h.periods.CheckOpen(r.Context())
	if err != nil {
		h.logger.Error("check period", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	rows, err := h.mappings.List(r.Context(), r.URL.Query().Get("event_type"))
	if err != nil {
		h.logger.Error("list mappings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []mappings.AccountMapping{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "mappings": rows})
}

func (h *Handler) saveMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !h.decode(w, r, &req) {
		return
	}
	m := mappings.AccountMapping{
		EventType:       req.EventType,
		EventContext:    req.EventContext,
		Side:            mappings.Side(req.Side),
		AccountID:       uuid.MustParse(req.AccountID),
		ProductType:     req.ProductType,
		MarketplaceCode: req.MarketplaceCode,
		IsActive:        req.IsActive == nil || *req.IsActive,
		Priority:        req.Priority,
	}
	saved, err := h.mappings.Save(r.Context(), m)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidMapping) {
			httpx.Fail(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("save mapping", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true, "mapping": saved})
}

// decode reads and validates the request body, answering 400 itself when
// either step fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
			httpx.Fail(w, http.StatusBadRequest, "invalid request: "+strings.Join(fields, ", "))
			return false
		}
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res posting.Result, err error, decorate func(*postingResponse)) {
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("posting failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		} else {
			h.logger.Warn("posting rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, httpx.WithStatus(status, err))
		return
	}
	body := postingResponse{
		Success:        true,
		JournalEntryID: res.JournalEntryID,
		EntryNo:        res.EntryNo,
		AlreadyPosted:  res.AlreadyPosted,
	}
	if !res.AlreadyPosted {
		if res.Amount.IsPositive() {
			body.Amount = json.Number(res.Amount.StringFixed(2))
		}
		if decorate != nil {
			decorate(&body)
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}

func statusOf(err error) int {
	var cfgErr *posting.ConfigError
	switch {
	case errors.Is(err, posting.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrPeriodClosed),
		errors.Is(err, posting.ErrInvalidInput),
		errors.Is(err, shared.ErrUnbalanced),
		errors.Is(err, shared.ErrTooFewLines),
		errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
