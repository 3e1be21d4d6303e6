package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Assignment     *handlers.AssignmentHandler
	Escalation     *handlers.EscalationHandler
	Directory      *handlers.DirectoryHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireActor())
	leads := auth.RequireRole(domain.RoleLead, domain.RoleAdmin)

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Post("/assign/bulk", leads, cfg.Assignment.BulkAssign)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/workflow", cfg.Tickets.ListWorkflow)
	tickets.Get("/:id/audit", cfg.Tickets.ListAudit)
	tickets.Post("/:id/transition", cfg.Tickets.Transition)
	tickets.Post("/:id/assign/person", cfg.Assignment.AssignPerson)
	tickets.Post("/:id/assign/group", cfg.Assignment.AssignGroup)
	tickets.Post("/:id/assign/auto", cfg.Assignment.AutoAssign)
	tickets.Post("/:id/escalate", cfg.Escalation.Escalate)

	escalations := api.Group("/escalations")
	escalations.Post("/sweep", auth.RequireRole(domain.RoleAdmin), cfg.Escalation.Sweep)
	escalations.Get("/report", leads, cfg.Escalation.Report)
	escalations.Get("/matrix", cfg.Directory.ListMatrix)
	escalations.Put("/matrix", cfg.Directory.ConfigureMatrix)

	api.Post("/findings", cfg.Escalation.Finding)
	api.Post("/people", cfg.Directory.CreatePerson)
	api.Post("/groups", cfg.Directory.CreateGroup)
}
