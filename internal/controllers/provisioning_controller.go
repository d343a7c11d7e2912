package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/middlewares"
	"github.com/inboxpilot/provisioner/internal/provisioning"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

type ProvisioningService interface {
	Install(ctx context.Context, userID, templateID string) (provisioning.InstallResult, error)
	Callback(ctx context.Context, p provisioning.CallbackParams) string
	ListTemplates() []provisioning.TemplateSummary
	ListWorkflows(ctx context.Context, userID string) ([]domain.ProvisionedWorkflow, error)
}

type ProvisioningController struct {
	service ProvisioningService
}

type ProvisioningControllerDependencies struct {
	Service ProvisioningService
}

func NewProvisioningController(deps ProvisioningControllerDependencies) *ProvisioningController {
	return &ProvisioningController{
		service: deps.Service,
	}
}

type InstallRequest struct {
	TemplateID string `json:"templateId"`
}

type ProvisionedWorkflowResponse struct {
	ID          string    `json:"id"`
	TemplateID  string    `json:"templateId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	WorkflowID  string    `json:"workflowId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Install handles POST /workflows/install with the template in the body.
func (c *ProvisioningController) Install(ctx fiber.Ctx) error {
	var req InstallRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   string(domain.ErrorKindValidation),
			Message: "Invalid request body",
		})
	}

	return c.install(ctx, req.TemplateID)
}

// InstallFromPath handles POST /workflows/:templateId/install.
func (c *ProvisioningController) InstallFromPath(ctx fiber.Ctx) error {
	return c.install(ctx, ctx.Params("templateId"))
}

func (c *ProvisioningController) install(ctx fiber.Ctx, templateID string) error {
	userID := middlewares.UserID(ctx)

	result, err := c.service.Install(ctx.RequestCtx(), userID, templateID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("template_id", templateID).
			Msg("Install failed")

		return writeError(ctx, err)
	}

	return ctx.JSON(result)
}

// Callback handles the OAuth provider redirect. It always answers with a
// redirect to the frontend.
func (c *ProvisioningController) Callback(ctx fiber.Ctx) error {
	location := c.service.Callback(ctx.RequestCtx(), provisioning.CallbackParams{
		Code:  ctx.Query("code"),
		State: ctx.Query("state"),
		Error: ctx.Query("error"),
	})

	return ctx.Redirect().Status(fiber.StatusFound).To(location)
}

func (c *ProvisioningController) ListTemplates(ctx fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"templates": c.service.ListTemplates(),
	})
}

func (c *ProvisioningController) ListWorkflows(ctx fiber.Ctx) error {
	userID := middlewares.UserID(ctx)

	workflows, err := c.service.ListWorkflows(ctx.RequestCtx(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list workflows")
		return writeError(ctx, err)
	}

	response := make([]ProvisionedWorkflowResponse, 0, len(workflows))
	for _, w := range workflows {
		response = append(response, ProvisionedWorkflowResponse{
			ID:          w.ID,
			TemplateID:  w.TemplateID,
			Name:        w.Name,
			Description: w.Description,
			WorkflowID:  w.ExternalWorkflowID,
			Status:      string(w.Status),
			CreatedAt:   w.CreatedAt,
		})
	}

	return ctx.JSON(fiber.Map{
		"workflows": response,
	})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindValidation, domain.ErrorKindInvalidState:
		return fiber.StatusBadRequest
	case domain.ErrorKindAuth:
		return fiber.StatusUnauthorized
	case domain.ErrorKindUpstreamStore, domain.ErrorKindUpstreamOAuth, domain.ErrorKindUpstreamEngine:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(ctx fiber.Ctx, err error) error {
	kind := domain.KindOf(err)

	message := err.Error()
	if kind == domain.ErrorKindInternal {
		message = "Internal server error"
	}

	if errors.Is(err, domain.ErrTemplateNotFound) {
		return ctx.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   string(kind),
			Message: message,
		})
	}

	return ctx.Status(statusForKind(kind)).JSON(ErrorResponse{
		Error:   string(kind),
		Message: message,
	})
}
