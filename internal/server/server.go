// Пакет server — маршруты и HTTP-сервер Access Module.
// TLS завершается на API Gateway, внутри кластера обычный HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/memberhub/access-module/internal/api/handlers"
	"github.com/bigkaa/memberhub/access-module/internal/api/middleware"
	"github.com/bigkaa/memberhub/access-module/internal/api/openapi"
	"github.com/bigkaa/memberhub/access-module/internal/config"
	uihandlers "github.com/bigkaa/memberhub/access-module/internal/ui/handlers"
	"github.com/bigkaa/memberhub/access-module/internal/ui/i18n"
	uimiddleware "github.com/bigkaa/memberhub/access-module/internal/ui/middleware"
	"github.com/bigkaa/memberhub/access-module/internal/ui/static"
)

// APIComponents — компоненты JSON API.
type APIComponents struct {
	Handler *handlers.APIHandler
	// Auth — Bearer middleware для /api/v1/*
	Auth *middleware.BearerAuth
	// Validator — проверка запросов по OpenAPI контракту (может быть nil)
	Validator *openapi.Validator
}

// UIComponents — компоненты дашборда.
type UIComponents struct {
	AuthHandler    *uihandlers.AuthHandler
	AuthMiddleware *uimiddleware.UIAuth
	PagesHandler   *uihandlers.PagesHandler
	EventsHandler  *uihandlers.EventsHandler
}

// Server — HTTP-сервер Access Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// ui == nil — сервер без дашборда (только API и health).
func New(cfg *config.Config, logger *slog.Logger, api APIComponents, ui *UIComponents) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, api, ui),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE-поток снимает дедлайн сам
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты сервера.
func NewRouter(logger *slog.Logger, api APIComponents, ui *UIComponents) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Health и metrics проверяются Kubernetes напрямую, без аутентификации.
	router.Get("/health/live", api.Handler.HealthLive)
	router.Get("/health/ready", api.Handler.HealthReady)
	router.Get("/metrics", api.Handler.GetMetrics)

	// JSON API: сначала аутентификация, затем проверка по контракту.
	router.Route("/api/v1/access", func(r chi.Router) {
		r.Use(api.Auth.Middleware())
		if api.Validator != nil {
			r.Use(api.Validator.Middleware())
		}
		r.Get("/me", api.Handler.GetAccessMe)
		r.Get("/check", api.Handler.GetAccessCheck)
		r.Get("/policy", api.Handler.GetAccessPolicy)
	})

	if ui != nil {
		mountUI(router, ui)
	}
	return router
}

// mountUI подключает маршруты дашборда.
func mountUI(router chi.Router, ui *UIComponents) {
	router.Handle("/static/*", http.StripPrefix("/static/", static.Handler()))

	router.Group(func(r chi.Router) {
		r.Use(i18n.Middleware())

		// Публичные маршруты аутентификации
		r.Get("/login", ui.AuthHandler.HandleLoginPage)
		r.Get("/login/start", ui.AuthHandler.HandleLogin)
		r.Get("/callback", ui.AuthHandler.HandleCallback)
		r.Post("/logout", ui.AuthHandler.HandleLogout)
		r.Post("/set-language", uihandlers.HandleSetLanguage)

		// Маршруты с сессией
		r.Group(func(r chi.Router) {
			r.Use(ui.AuthMiddleware.Middleware())

			r.Get("/session/state", ui.EventsHandler.HandleState)
			r.Get("/session/events", ui.EventsHandler.HandleEvents)
			r.Post("/session/tab", ui.EventsHandler.HandleTab)
			r.Post("/session/refresh", ui.EventsHandler.HandleRefresh)

			// Вкладки проходят через шлюз доступа сессии
			r.Group(func(r chi.Router) {
				r.Use(uimiddleware.TabGuard(
					http.HandlerFunc(ui.PagesHandler.HandlePending),
					http.HandlerFunc(ui.PagesHandler.HandleUnavailable),
				))
				r.Get("/", ui.PagesHandler.HandleDashboard)
				r.Get("/dashboard", ui.PagesHandler.HandleDashboard)
				r.Get("/users", ui.PagesHandler.HandleUsers)
				r.Get("/financials", ui.PagesHandler.HandleFinancials)
				r.Get("/system", ui.PagesHandler.HandleSystem)
			})
		})
	})
}

// OnShutdown регистрирует функцию, вызываемую в начале graceful shutdown
// (например, закрытие серверных сессий, чтобы завершились SSE-потоки).
func (s *Server) OnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Run обслуживает запросы до SIGINT/SIGTERM или отмены ctx,
// затем выполняет graceful shutdown в пределах AC_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения", slog.String("cause", context.Cause(ctx).Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}
	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
