package rest

import (
	"context"
	"net/http"
	"time"

	"debt-titles/internal/domain"
	"debt-titles/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type TitleService interface {
	Create(ctx context.Context, in service.CreateTitleInput) (service.TitleView, error)
	Get(ctx context.Context, id uuid.UUID, asOf time.Time) (service.TitleView, error)
	List(ctx context.Context, document string, asOf time.Time) ([]service.TitleView, error)
	Update(ctx context.Context, id uuid.UUID, u domain.TitleUpdate) (service.TitleView, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddInstallment(ctx context.Context, titleID uuid.UUID, in service.InstallmentInput) (service.TitleView, error)
	MarkInstallmentPaid(ctx context.Context, userID int64, titleID, installmentID uuid.UUID) (service.InstallmentView, error)
	MarkInstallmentUnpaid(ctx context.Context, userID int64, titleID, installmentID uuid.UUID) (service.InstallmentView, error)
	OverdueInstallments(ctx context.Context, asOf time.Time) ([]service.InstallmentView, error)
	Stats(ctx context.Context, asOf time.Time) (service.Stats, error)
}

type TitleExporter interface {
	StartTitlesExport(ctx context.Context, req service.TitlesExportRequest, userID int64) (string, error)
}

type ExportListService interface {
	GetExports(ctx context.Context, userID int64) ([]map[string]any, error)
	GetExport(ctx context.Context, exportID string, userID int64) (map[string]any, error)
}

type Handler struct {
	titles     TitleService
	exporter   TitleExporter
	exportList ExportListService
}

func NewHandler(titles TitleService, exporter TitleExporter, exportList ExportListService) *Handler {
	return &Handler{
		titles:     titles,
		exporter:   exporter,
		exportList: exportList,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/titles", func(r chi.Router) {
		r.Get("/", h.listTitles)
		r.Post("/", h.createTitle)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTitle)
			r.Put("/", h.updateTitle)
			r.Delete("/", h.deleteTitle)
			r.Post("/installments", h.addInstallment)
			r.Post("/installments/{installmentID}/pay", h.payInstallment)
			r.Post("/installments/{installmentID}/unpay", h.unpayInstallment)
		})
	})

	r.Get("/installments/overdue", h.overdueInstallments)
	r.Get("/stats", h.stats)
	r.Get("/documents/validate", h.validateDocument)

	r.Route("/export", func(r chi.Router) {
		r.Get("/", h.listExports)
		r.Get("/{export_id}", h.getExport)
		r.Post("/titles", h.exportTitles)
	})

	return r
}
