package handlers

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/salesmgr/license-server/internal/dto"
	"github.com/salesmgr/license-server/internal/feed"
	"github.com/salesmgr/license-server/internal/licenses"
	"github.com/salesmgr/license-server/internal/models"
)

type CodeHandler struct {
	service       *licenses.Service
	feed          *feed.Feed
	purchaseToken string
}

func NewCodeHandler(service *licenses.Service, f *feed.Feed, purchaseToken string) *CodeHandler {
	return &CodeHandler{service: service, feed: f, purchaseToken: purchaseToken}
}

// GenerateCode is the automatic issuance channel, called by external purchase
// flows. When PURCHASE_TOKEN is configured the request must carry it in the
// Authorization header.
func (h *CodeHandler) GenerateCode(c *fiber.Ctx) error {
	if h.purchaseToken != "" {
		auth := c.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(h.purchaseToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}
	}

	var req dto.GenerateCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.LicenseType == "" || req.UserEmail == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing 'license_type' or 'user_email' in request body",
		})
	}

	rec, err := h.service.Create(c.Context(), req.LicenseType, models.MethodAutomatic, req.UserEmail)
	if err != nil {
		slog.Error("automatic issuance failed", "license_type", req.LicenseType, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to generate license code",
		})
	}

	return c.JSON(dto.GenerateCodeResponse{Code: rec.Code})
}

// CreateManual is the operator-triggered issuance channel.
func (h *CodeHandler) CreateManual(c *fiber.Ctx) error {
	var req dto.ManualCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.LicenseType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing 'license_type'",
		})
	}

	rec, err := h.service.Create(c.Context(), req.LicenseType, models.MethodManual, "")
	if err != nil {
		slog.Error("manual issuance failed", "license_type", req.LicenseType, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to generate license code",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(rec)
}

// Redeem marks a code as used by a machine. Invoked by the licensed client
// application.
func (h *CodeHandler) Redeem(c *fiber.Ctx) error {
	var req dto.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if req.Code == "" || req.MachineID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing 'code' or 'machine_id'",
		})
	}

	err := h.service.Redeem(c.Context(), req.Code, req.MachineID)
	switch {
	case errors.Is(err, licenses.ErrCodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Unknown license code",
		})
	case errors.Is(err, licenses.ErrAlreadyRedeemed):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: "License code already redeemed",
		})
	case err != nil:
		slog.Error("redemption failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to redeem license code",
		})
	}

	return c.JSON(dto.RedeemResponse{Status: "redeemed"})
}

// ListCodes returns the current feed partitions.
func (h *CodeHandler) ListCodes(c *fiber.Ctx) error {
	snap, err := h.feed.Snapshot(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Feed unavailable",
		})
	}
	return c.JSON(snap)
}

// StreamCodes pushes a snapshot over server-sent events on every collection
// change. This is the service-side replacement for the desktop app's live
// code tables.
func (h *CodeHandler) StreamCodes(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		snaps, stop, err := h.feed.Watch(ctx)
		if err != nil {
			return
		}
		defer stop()

		for snap := range snaps {
			data, err := json.Marshal(snap)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			// Flush failure means the client went away.
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
