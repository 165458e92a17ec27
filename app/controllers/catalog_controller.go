package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/internal/pkg/apperror"
	"github.com/ManuelReschke/PropNest/internal/pkg/catalog"
)

// CatalogController serves the public plan catalog.
type CatalogController struct {
	catalog *catalog.Catalog
}

func NewCatalogController(c *catalog.Catalog) *CatalogController {
	return &CatalogController{catalog: c}
}

// HandleListPlans lists published plans, optionally filtered by ?audience=.
func (cc *CatalogController) HandleListPlans(c *fiber.Ctx) error {
	var audience *models.Audience
	if raw := strings.TrimSpace(c.Query("audience")); raw != "" {
		a, err := models.ParseAudience(raw)
		if err != nil {
			return apperror.ErrValidation.WithMessage("audience must be one of [owner tenant]")
		}
		audience = &a
	}

	plans, err := cc.catalog.ListPublished(c.UserContext(), audience)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, plans)
}

// HandleGetPlan returns one published plan by code.
func (cc *CatalogController) HandleGetPlan(c *fiber.Ctx, code string) error {
	plan, err := cc.catalog.FindPublishedPlan(c.UserContext(), code)
	if err != nil {
		return err
	}
	return Respond(c, fiber.StatusOK, plan)
}
