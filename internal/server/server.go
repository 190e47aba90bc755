// Package server exposes the reconciliation engine and the wallet
// ledger over HTTP.
package server

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"payment-reconciliation-service/internal/ledger"
	"payment-reconciliation-service/internal/reconciler"
	apperrors "payment-reconciliation-service/pkg/errors"
	"payment-reconciliation-service/pkg/logger"
)

// Config bounds the HTTP listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP front of the service.
type Server struct {
	app        *fiber.App
	reconciler *reconciler.Service
	ledger     *ledger.Service
	validate   *validator.Validate
	addr       string
	log        logger.Logger
}

// New builds the HTTP server and registers all routes.
func New(cfg Config, rec *reconciler.Service, led *ledger.Service) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "reconcilerd",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(recover.New())

	s := &Server{
		app:        app,
		reconciler: rec,
		ledger:     led,
		validate:   validator.New(),
		addr:       cfg.Addr,
		log:        logger.WithComponent("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api/v1")

	api.Post("/notifications", s.handleSubmitNotification)
	api.Get("/records/:id", s.handleGetRecord)

	operator := api.Group("/operator")
	operator.Get("/pending", s.handleGetPending)
	operator.Get("/records/:id/candidates", s.handleGetCandidates)
	operator.Post("/match", s.handleForceMatch)
	operator.Post("/records/:id/reject", s.handleReject)
	operator.Post("/batch-approve", s.handleBatchApprove)

	wallets := api.Group("/wallets")
	wallets.Get("/:userID/balance", s.handleGetBalance)
	wallets.Get("/:userID/transactions", s.handleGetTransactions)
	wallets.Post("/:userID/debit", s.handleDebit)
	wallets.Post("/:userID/credit", s.handleCredit)
}

// Listen blocks serving HTTP until Shutdown is called.
func (s *Server) Listen() error {
	s.log.WithField("addr", s.addr).Info("http server listening")
	return s.app.Listen(s.addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// respond writes the standard success envelope.
func respond(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// fail maps a typed engine error onto an HTTP status and writes the
// failure envelope.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case apperrors.IsNotFound(err):
		status = fiber.StatusNotFound
	case apperrors.IsInvalidPairing(err), apperrors.IsInvalidAmount(err):
		status = fiber.StatusBadRequest
	case apperrors.IsExtractionFailure(err):
		status = fiber.StatusUnprocessableEntity
	case apperrors.IsInsufficientBalance(err):
		status = fiber.StatusUnprocessableEntity
	case apperrors.IsDuplicateReference(err):
		status = fiber.StatusConflict
	case apperrors.IsWriteConflict(err):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}

// badRequest writes a 400 for malformed or invalid request bodies.
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
