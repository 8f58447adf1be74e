package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/config"
	"github.com/greenvalley/quoting/internal/http/apierr"
	"github.com/greenvalley/quoting/internal/http/metric"
	"github.com/greenvalley/quoting/internal/http/middleware"
	"github.com/greenvalley/quoting/internal/service"
	"github.com/greenvalley/quoting/pkg/validator"
)

var tracer = otel.Tracer("internal/http")

// Service represents the HTTP service.
type Service struct {
	cfg      config.HTTP
	logger   *slog.Logger
	metrics  *metric.Metrics
	validate validator.Validator

	productSvc service.ProductService
	quoteSvc   service.QuoteService
	taskSvc    service.TaskService
}

type CleanupFunc func(ctx context.Context) error

func New(
	cfg config.HTTP,
	log *slog.Logger,
	validate validator.Validator,
	productSvc service.ProductService,
	quoteSvc service.QuoteService,
	taskSvc service.TaskService,
) *Service {
	return &Service{
		cfg:        cfg,
		logger:     log.With(slog.String("service", "http")),
		metrics:    metric.New(),
		validate:   validate,
		productSvc: productSvc,
		quoteSvc:   quoteSvc,
		taskSvc:    taskSvc,
	}
}

func (s *Service) Run(ctx context.Context) (CleanupFunc, error) {
	r := chi.NewRouter()
	s.RegisterMiddlewares(r)
	s.RegisterHandlers(r)

	return s.RunWithServer(ctx, r)
}

func (s *Service) RunWithServer(ctx context.Context, handler http.Handler) (CleanupFunc, error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64 KB
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}

func (s *Service) RegisterMiddlewares(r chi.Router) {
	r.Use(
		middleware.Recoverer(s.logger),
		middleware.Trace(tracer),
		middleware.Metrics(s.metrics),
		middleware.CorrelationID(),
		middleware.Cors(),
		middleware.Logging(s.logger),
	)
}

func (s *Service) RegisterHandlers(r chi.Router) {
	products := newProductHandler(s, s.productSvc)
	quotes := newQuoteHandler(s, s.quoteSvc)
	tasks := newTaskHandler(s, s.taskSvc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Post("/", products.create)
			r.Get("/", products.list)
			r.Get("/{productId}", products.get)
			r.Patch("/{productId}", products.update)
			r.Get("/{productId}/propagation-tasks", tasks.listByProduct)
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Post("/", quotes.create)
			r.Get("/", quotes.list)
			r.Get("/{quoteId}", quotes.get)
		})

		r.Route("/propagation-tasks", func(r chi.Router) {
			r.Get("/stats", tasks.stats)
			r.Get("/{taskId}", tasks.get)
			r.Post("/{taskId}/resume", tasks.resume)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle(middleware.MetricsPath, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: log.Default(),
	}))
}

// decode unmarshals and validates a JSON request body.
func decode[T any](s *Service, r *http.Request) (T, error) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, apperr.ValidationErr.WrapParent(err)
	}

	if err := s.validate.Validate(body); err != nil {
		return body, err
	}

	return body, nil
}

func (s *Service) respond(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.ErrorContext(r.Context(), "error encoding response",
			slog.Any("error", err))
	}
}

func (s *Service) respondError(w http.ResponseWriter, r *http.Request, err error) {
	res := apierr.New(err)

	logLevel := slog.LevelInfo
	if res.StatusCode >= 500 {
		logLevel = slog.LevelError
	} else if res.StatusCode >= 400 {
		logLevel = slog.LevelWarn
	}
	s.logger.Log(r.Context(), logLevel, "http response error", slog.Any("error", err))

	s.respond(w, r, res.StatusCode, res)
}
