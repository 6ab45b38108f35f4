package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tangle_account/internal/account"
	"github.com/congo-pay/tangle_account/internal/deposit"
	"github.com/congo-pay/tangle_account/internal/lease"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/snapshot"
	"github.com/congo-pay/tangle_account/internal/state"
)

// AccountHandler exposes the account lifecycle and its state over HTTP.
type AccountHandler struct {
	acct        *account.Account
	snapshots   *snapshot.Snapshotter
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewAccountHandler builds the handler. snapshots may be nil, in which case
// mutations are not persisted immediately.
func NewAccountHandler(acct *account.Account, snapshots *snapshot.Snapshotter, stopTimeout time.Duration, logger *slog.Logger) *AccountHandler {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &AccountHandler{acct: acct, snapshots: snapshots, stopTimeout: stopTimeout, logger: logger}
}

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *AccountHandler) {
	group := r.Group("/account")
	group.Get("", h.Describe)
	group.Get("/transactions", h.Transactions)
	group.Post("/start", h.Start)
	group.Post("/stop", h.Stop)
	group.Get("/export", h.Export)
	group.Post("/import", h.Import)
	group.Post("/transfers", h.Send)
	group.Get("/deposits", h.Deposits)
	group.Post("/deposits", h.AllocateDeposit)
	group.Post("/deposits/pay", h.PayDeposit)
	group.Get("/balance", h.Balance)
}

// Describe reports the account settings and counters. The seed is never included.
func (h *AccountHandler) Describe(c *fiber.Ctx) error {
	s := h.acct.Settings()
	snap := h.acct.Snapshot()
	body := fiber.Map{
		"account_id":           h.acct.ID(),
		"running":              h.acct.Running(),
		"provider":             s.Provider,
		"depth":                s.Depth,
		"min_weight_magnitude": s.MinWeightMagnitude,
		"delay":                s.Delay.String(),
		"max_depth":            s.MaxDepth,
		"pending":              len(snap.Pending),
		"confirmed":            len(snap.Confirmed),
		"deposits":             len(snap.Deposits),
	}
	if !snap.Cursor.LastRunAt.IsZero() {
		body["last_run_at"] = snap.Cursor.LastRunAt
	}
	return c.JSON(body)
}

// Transactions lists pending and confirmed transactions.
func (h *AccountHandler) Transactions(c *fiber.Ctx) error {
	pending := h.acct.Pending()
	confirmed := h.acct.Confirmed()

	out := struct {
		Pending   []state.PendingRecord   `json:"pending"`
		Confirmed []state.ConfirmedRecord `json:"confirmed"`
	}{
		Pending:   make([]state.PendingRecord, 0, len(pending)),
		Confirmed: make([]state.ConfirmedRecord, 0, len(confirmed)),
	}
	for _, p := range pending {
		out.Pending = append(out.Pending, pendingRecord(p))
	}
	for _, ct := range confirmed {
		out.Confirmed = append(out.Confirmed, state.ConfirmedRecord{ID: ct.ID, ConfirmedAt: ct.ConfirmedAt})
	}
	return c.JSON(out)
}

// Start activates the scheduler.
func (h *AccountHandler) Start(c *fiber.Ctx) error {
	if err := h.acct.Start(c.UserContext()); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return fiber.NewError(http.StatusConflict, "account is running elsewhere")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"running": true})
}

// Stop deactivates the scheduler and waits for the in-flight tick.
func (h *AccountHandler) Stop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.stopTimeout)
	defer cancel()
	if err := h.acct.Stop(ctx); err != nil {
		return fiber.NewError(http.StatusGatewayTimeout, err.Error())
	}
	h.persist(c.UserContext())
	return c.JSON(fiber.Map{"running": false})
}

// Export returns the portable state document. It contains the seed.
func (h *AccountHandler) Export(c *fiber.Ctx) error {
	doc, err := h.acct.ExportState(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	data, err := doc.Marshal()
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

// Import replaces the account state with the request body.
func (h *AccountHandler) Import(c *fiber.Ctx) error {
	doc, err := state.Parse(c.Body())
	if err == nil {
		err = h.acct.ImportState(c.UserContext(), doc)
	}
	if err != nil {
		var ie *state.ImportError
		if !errors.As(err, &ie) {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		switch ie.Reason {
		case state.ReasonConflict, state.ReasonSeedMismatch:
			return fiber.NewError(http.StatusConflict, ie.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, ie.Error())
		}
	}
	h.persist(c.UserContext())
	return c.JSON(fiber.Map{
		"pending":   len(doc.Pending),
		"confirmed": len(doc.Confirmed),
	})
}

type sendRequest struct {
	Transfers []ledger.Transfer `json:"transfers"`
}

// Send submits transfers as a new tracked transaction.
func (h *AccountHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.acct.Send(c.UserContext(), req.Transfers)
	if err != nil {
		return accountError(err)
	}
	h.persist(c.UserContext())
	return c.Status(http.StatusCreated).JSON(pendingRecord(p))
}

// Deposits lists the allocated deposit addresses.
func (h *AccountHandler) Deposits(c *fiber.Ctx) error {
	deposits := h.acct.Deposits()
	out := make([]state.DepositRecord, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, state.DepositRecord{
			Address:        d.Address,
			KeyIndex:       d.KeyIndex,
			TimeoutAt:      d.Conditions.TimeoutAt,
			MultiUse:       d.Conditions.MultiUse,
			ExpectedAmount: d.Conditions.ExpectedAmount,
			AllocatedAt:    d.AllocatedAt,
		})
	}
	return c.JSON(fiber.Map{"deposits": out})
}

// AllocateDeposit allocates a conditional deposit address.
func (h *AccountHandler) AllocateDeposit(c *fiber.Ctx) error {
	var conds deposit.Conditions
	if err := c.BodyParser(&conds); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	cda, err := h.acct.AllocateDepositAddress(c.UserContext(), conds)
	if err != nil {
		return accountError(err)
	}
	h.persist(c.UserContext())
	return c.Status(http.StatusCreated).JSON(cda)
}

// PayDeposit sends a CDA its expected amount once the send oracle accepts it.
func (h *AccountHandler) PayDeposit(c *fiber.Ctx) error {
	var cda deposit.CDA
	if err := c.BodyParser(&cda); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.acct.SendToDeposit(c.UserContext(), cda)
	if err != nil {
		return accountError(err)
	}
	h.persist(c.UserContext())
	return c.Status(http.StatusCreated).JSON(pendingRecord(p))
}

// Balance reports the total and available balance of the deposit addresses.
func (h *AccountHandler) Balance(c *fiber.Ctx) error {
	b, err := h.acct.Balance(c.UserContext())
	if err != nil {
		return accountError(err)
	}
	return c.JSON(b)
}

func accountError(err error) error {
	switch {
	case errors.Is(err, account.ErrNoTransfers),
		errors.Is(err, deposit.ErrTimeoutRequired),
		errors.Is(err, deposit.ErrTimeoutPassed),
		errors.Is(err, deposit.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, deposit.ErrRejected):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrRejected):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, account.ErrTimeUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// persist saves the state after a mutation. Failures are logged; the periodic
// snapshot retries.
func (h *AccountHandler) persist(ctx context.Context) {
	if h.snapshots == nil {
		return
	}
	if err := h.snapshots.Save(ctx); err != nil {
		h.logger.Warn("persist state", slog.Any("error", err))
	}
}

func pendingRecord(p state.PendingTransaction) state.PendingRecord {
	return state.PendingRecord{
		ID:              p.ID,
		Payload:         p.Payload,
		CreatedAt:       p.CreatedAt,
		Attachments:     p.Attachments,
		LastAttemptAt:   p.LastAttemptAt,
		DepthAtCreation: p.DepthAtCreation,
	}
}
