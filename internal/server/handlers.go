package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"payment-reconciliation-service/internal/models"
)

type submitNotificationRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Channel string `json:"channel"`
	Text    string `json:"text" validate:"required"`
}

func (s *Server) handleSubmitNotification(c *fiber.Ctx) error {
	var req submitNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := s.reconciler.Ingest(c.Context(), req.UserID, req.Channel, req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusCreated, "notification processed", record)
}

func (s *Server) handleGetRecord(c *fiber.Ctx) error {
	record, err := s.reconciler.GetRecord(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "record retrieved", record)
}

func (s *Server) handleGetPending(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	pending, err := s.reconciler.GetPending(c.Context(), page, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "pending records retrieved", pending)
}

func (s *Server) handleGetCandidates(c *fiber.Ctx) error {
	results, err := s.reconciler.Candidates(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "candidates scored", results)
}

type forceMatchRequest struct {
	PayerRecordID string `json:"payer_record_id" validate:"required"`
	PayeeRecordID string `json:"payee_record_id" validate:"required"`
	OperatorID    string `json:"operator_id" validate:"required"`
}

func (s *Server) handleForceMatch(c *fiber.Ctx) error {
	var req forceMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := s.reconciler.ForceMatch(c.Context(), req.PayerRecordID, req.PayeeRecordID, req.OperatorID)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "records matched", outcome)
}

type rejectRequest struct {
	OperatorID string `json:"operator_id" validate:"required"`
	Reason     string `json:"reason"`
}

func (s *Server) handleReject(c *fiber.Ctx) error {
	var req rejectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	record, err := s.reconciler.Reject(c.Context(), c.Params("id"), req.OperatorID, req.Reason)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "record rejected", record)
}

type batchApproveRequest struct {
	RecordIDs  []string `json:"record_ids" validate:"required,min=1,dive,required"`
	OperatorID string   `json:"operator_id" validate:"required"`
}

func (s *Server) handleBatchApprove(c *fiber.Ctx) error {
	var req batchApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	results := s.reconciler.BatchApprove(c.Context(), req.RecordIDs, req.OperatorID)
	return respond(c, fiber.StatusOK, "batch processed", results)
}

func (s *Server) handleGetBalance(c *fiber.Ctx) error {
	userID := c.Params("userID")
	balance, err := s.ledger.GetBalance(c.Context(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "balance retrieved", fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *Server) handleGetTransactions(c *fiber.Ctx) error {
	userID := c.Params("userID")
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 10)

	transactions, total, err := s.ledger.History(c.Context(), userID, page, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "transactions retrieved", fiber.Map{
		"transactions": transactions,
		"total":        total,
		"page":         page,
		"limit":        limit,
	})
}

type balanceChangeRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description"`
}

func (r *balanceChangeRequest) parse() (decimal.Decimal, models.TransactionType, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return decimal.Zero, "", err
	}
	return amount, models.TransactionType(r.Type), nil
}

func (s *Server) handleDebit(c *fiber.Ctx) error {
	var req balanceChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	amount, txType, err := req.parse()
	if err != nil {
		return badRequest(c, "invalid amount")
	}

	result, err := s.ledger.Debit(c.Context(), c.Params("userID"), amount, txType, req.Description)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "debit applied", result)
}

func (s *Server) handleCredit(c *fiber.Ctx) error {
	var req balanceChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	amount, txType, err := req.parse()
	if err != nil {
		return badRequest(c, "invalid amount")
	}

	result, err := s.ledger.Credit(c.Context(), c.Params("userID"), amount, txType, req.Description)
	if err != nil {
		return s.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "credit applied", result)
}
