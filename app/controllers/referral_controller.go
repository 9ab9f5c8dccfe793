package controllers

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/refloop/refloop/internal/pkg/cache"
	"github.com/refloop/refloop/internal/pkg/referral"
	"github.com/refloop/refloop/internal/pkg/usercontext"
)

const (
	validateCachePrefix = "referral:validate:"
	validateCacheTTL    = 5 * time.Minute
)

type registerReferralRequest struct {
	Code string `json:"code" validate:"required,min=4,max=16"`
}

// ReferralController serves the referral program endpoints.
type ReferralController struct {
	svc      *referral.Service
	validate *validator.Validate
}

// NewReferralController creates a controller from an injected service.
func NewReferralController(svc *referral.Service) *ReferralController {
	return &ReferralController{svc: svc, validate: validator.New()}
}

// HandleRegister records a referral for the authenticated, newly signed-up
// user. Business rejections come back as 200 with success=false; they are
// outcomes, not errors.
func (ctl *ReferralController) HandleRegister(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req registerReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := ctl.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A referral code is required"})
	}

	result, err := ctl.svc.RegisterSignup(userCtx.UserID, req.Code)
	if err != nil {
		log.Printf("referral registration failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Referral registration failed"})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleStats returns the authenticated user's referral dashboard data.
func (ctl *ReferralController) HandleStats(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	stats, err := ctl.svc.GetReferralStats(userCtx.UserID)
	if err != nil {
		log.Printf("referral stats failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not load referral stats"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// HandleValidate checks a referral code for the public invite page. Results
// are cached briefly since invite links get hammered by crawlers.
func (ctl *ReferralController) HandleValidate(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Query("code")))
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A referral code is required"})
	}

	cacheKey := validateCachePrefix + code
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var validation referral.CodeValidation
		if err := json.Unmarshal([]byte(cached), &validation); err == nil {
			return c.Status(fiber.StatusOK).JSON(validation)
		}
	}

	validation, err := ctl.svc.ValidateCode(code)
	if err != nil {
		log.Printf("referral code validation failed for %q: %v", code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not validate referral code"})
	}

	if payload, err := json.Marshal(validation); err == nil {
		if err := cache.Set(cacheKey, string(payload), validateCacheTTL); err != nil {
			log.Printf("caching code validation for %q failed: %v", code, err)
		}
	}
	return c.Status(fiber.StatusOK).JSON(validation)
}
