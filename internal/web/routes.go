package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/campus-attendance/internal/web/handlers"
	"github.com/kozaktomas/campus-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Store)
	configHandler := handlers.NewConfigHandler(s.config, s.deps.Matching)
	facesHandler := handlers.NewFacesHandler(s.deps.Faces)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Attendance)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Sessions)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/config", configHandler.Get)

		// Check-in kiosk and self-service endpoints
		r.Post("/attendance/mark", attendanceHandler.Mark)
		r.Get("/attendance/status", attendanceHandler.Status)
		r.Get("/attendance/stats/{identityID}", attendanceHandler.Stats)
		r.Post("/faces/identify", facesHandler.Identify)
		r.Post("/faces/check-duplicate", facesHandler.CheckDuplicate)

		// Administrative endpoints require an actor
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireActor)

			r.Put("/config/matching", configHandler.UpdateMatching)

			r.Post("/faces/register", facesHandler.Register)
			r.Post("/faces/report", facesHandler.Report)
			r.Delete("/faces/{identityID}", facesHandler.Remove)

			r.Get("/attendance/history/{identityID}", attendanceHandler.History)
			r.Put("/attendance/{id}", attendanceHandler.Correct)
			r.Delete("/attendance/{id}", attendanceHandler.Delete)
			r.Get("/audit", attendanceHandler.Audit)

			r.Get("/sessions", sessionsHandler.List)
			r.Put("/sessions", sessionsHandler.Put)
		})
	})
}
