package router

import (
	"github.com/oksasatya/emailme/internal/application"
	"github.com/oksasatya/emailme/internal/container"
	handlers "github.com/oksasatya/emailme/internal/interface/http"
	"github.com/oksasatya/emailme/internal/router/modules"
)

type EmailModuleDeps struct {
	Service *application.EmailService
	Handler *handlers.EmailHandler
}

func buildEmailDeps() EmailModuleDeps {
	service := application.NewEmailService(container.GetDispatcher(), container.GetLogger())
	handler := handlers.NewEmailHandler(service, container.GetLogger())
	return EmailModuleDeps{Service: service, Handler: handler}
}

// InitModules initializes all application modules and registers them with the router registry
// This function should be called once during application startup to wire up all modules
func InitModules(r *Registry) {
	emailDeps := buildEmailDeps()
	cfg := container.GetConfig()

	r.Add(modules.NewHealthModule(handlers.NewHealthHandler(container.GetDispatcher())))
	r.Add(modules.NewEmailModule(emailDeps.Handler, container.GetRedis(), container.GetLogger(), cfg.RateLimitPerMinute, cfg.RateLimitBypassPrivate))
	r.Add(modules.NewDebugModule(container.GetRedis(), container.GetLogger()))
}
