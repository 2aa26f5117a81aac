package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cross_tenant_violation"`
	Message string         `json:"message" example:"project p1 belongs to another org"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failure is returned in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stratline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Stratline API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStrategies(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerMaintenance(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ct *engine.CrossTenantViolation
	if errors.As(err, &ct) {
		return newAPIError(http.StatusForbidden, "cross_tenant_violation", err.Error(), map[string]any{
			"entity_kind": ct.EntityKind,
			"entity_id":   ct.EntityID,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stratline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerStrategies(api huma.API, e engine.Engine) {
	type strategyPath struct {
		StrategyID string `path:"strategy_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-strategy",
		Method:        http.MethodPost,
		Path:          "/strategies",
		Summary:       "Create strategy",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateStrategyRequest `json:"body"`
	}) (*struct {
		Body domain.Strategy `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStrategy(ctx, engine.CreateStrategyOptions{
			ID:          input.Body.ID,
			OrgID:       p.OrgID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Readiness:   input.Body.Readiness,
			Risk:        input.Body.Risk,
			OwnerID:     input.Body.OwnerID,
			ActorID:     p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Strategy `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-strategies",
		Method:      http.MethodGet,
		Path:        "/strategies",
		Summary:     "List strategies",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"Active,Completed,Archived"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Strategy `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListStrategies(ctx, repo.StrategyFilters{
			OrgID:  p.OrgID,
			Status: domain.StrategyStatus(input.Status),
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Strategy `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-strategy",
		Method:      http.MethodGet,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Get strategy",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *strategyPath) (*struct {
		Body domain.Strategy `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetStrategy(ctx, input.StrategyID, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Strategy `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-strategy",
		Method:      http.MethodPatch,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Update strategy",
		Description: "Progress and status are derived and cannot be set here.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		StrategyID string                `path:"strategy_id"`
		Body       UpdateStrategyRequest `json:"body"`
	}) (*struct {
		Body domain.Strategy `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStrategy(ctx, engine.UpdateStrategyOptions{
			ID:          input.StrategyID,
			OrgID:       p.OrgID,
			ActorID:     p.ActorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Readiness:   input.Body.Readiness,
			Risk:        input.Body.Risk,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Strategy `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-strategy",
		Method:      http.MethodDelete,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Delete strategy with its projects and actions",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *strategyPath) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		removed, err := e.DeleteStrategy(ctx, input.StrategyID, p.OrgID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Deleted: true, DependenciesRemoved: removed, Warnings: []string{}}}, nil
	})

	for _, lc := range []struct {
		id, verb, summary string
		run               func(context.Context, string, string, string) (domain.Strategy, int, error)
	}{
		{"complete-strategy", "complete", "Mark strategy completed", e.CompleteStrategy},
		{"archive-strategy", "archive", "Archive a completed strategy and everything under it", e.ArchiveStrategy},
	} {
		run := lc.run
		huma.Register(api, huma.Operation{
			OperationID: lc.id,
			Method:      http.MethodPost,
			Path:        "/strategies/{strategy_id}/" + lc.verb,
			Summary:     lc.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *strategyPath) (*struct {
			Body StrategyLifecycleResponse `json:"body"`
		}, error) {
			p, authErr := principalFromRequest(ctx)
			if authErr != nil {
				return nil, authErr
			}
			s, removed, err := run(ctx, input.StrategyID, p.OrgID, p.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body StrategyLifecycleResponse `json:"body"`
			}{Body: StrategyLifecycleResponse{Strategy: s, DependenciesRemoved: removed}}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-strategy-projects",
		Method:      http.MethodGet,
		Path:        "/strategies/{strategy_id}/projects",
		Summary:     "List the strategy's projects",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StrategyID      string `path:"strategy_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetStrategy(ctx, input.StrategyID, p.OrgID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			OrgID:           p.OrgID,
			StrategyID:      input.StrategyID,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	type mutationOutput struct {
		Body ProjectMutationResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, res, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			ID:          input.Body.ID,
			OrgID:       p.OrgID,
			StrategyID:  input.Body.StrategyID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			OwnerID:     input.Body.OwnerID,
			StartDate:   input.Body.StartDate,
			DueDate:     input.Body.DueDate,
			ActorID:     p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: projectMutation(proj, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := e.GetProject(ctx, input.ProjectID, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Description: "Progress is derived from the project's actions and cannot be set here.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, res, err := e.UpdateProject(ctx, engine.UpdateProjectOptions{
			ID:          input.ProjectID,
			OrgID:       p.OrgID,
			ActorID:     p.ActorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			OwnerID:     input.Body.OwnerID,
			StartDate:   input.Body.StartDate,
			DueDate:     input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: projectMutation(proj, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteProject(ctx, input.ProjectID, p.OrgID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Deleted: true, Warnings: res.WarningMessages()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive project",
		Description: "Snapshots the project with its actions, archives the actions and removes their dependencies.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      *ArchiveProjectRequest `json:"body" required:"false"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ArchiveProjectOptions{ProjectID: input.ProjectID, OrgID: p.OrgID, ActorID: p.ActorID}
		if input.Body != nil {
			opts.Reason = input.Body.Reason
			opts.WakeUpDate = input.Body.WakeUpDate
		}
		proj, res, err := e.ArchiveProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: projectMutation(proj, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unarchive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/unarchive",
		Summary:     "Restore an archived project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      *UnarchiveProjectRequest `json:"body" required:"false"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.UnarchiveProjectOptions{ProjectID: input.ProjectID, OrgID: p.OrgID, ActorID: p.ActorID}
		if input.Body != nil {
			opts.Reason = input.Body.Reason
		}
		proj, res, err := e.UnarchiveProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: projectMutation(proj, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "copy-project",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/copy",
		Summary:       "Copy project, optionally as a template",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      *CopyProjectRequest `json:"body" required:"false"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CopyProjectOptions{SourceProjectID: input.ProjectID, OrgID: p.OrgID, ActorID: p.ActorID}
		if input.Body != nil {
			opts.ID = input.Body.ID
			opts.NewTitle = input.Body.NewTitle
			opts.AsTemplate = input.Body.AsTemplate
		}
		proj, res, err := e.CopyProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: projectMutation(proj, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-snapshots",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/snapshots",
		Summary:     "Archive history, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetProject(ctx, input.ProjectID, p.OrgID); err != nil {
			return nil, handleError(err)
		}
		snaps, err := e.ListSnapshots(ctx, input.ProjectID, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SnapshotResponse, 0, len(snaps))
		for _, s := range snaps {
			resp, err := snapshotResponse(s)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, resp)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-actions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/actions",
		Summary:     "List the project's actions",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []domain.Action `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetProject(ctx, input.ProjectID, p.OrgID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListActions(ctx, repo.ActionFilters{
			OrgID:           p.OrgID,
			ProjectID:       input.ProjectID,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Action `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-barrier",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/barriers",
		Summary:       "Record a barrier",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      CreateBarrierRequest `json:"body"`
	}) (*struct {
		Body domain.Barrier `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBarrier(ctx, engine.CreateBarrierOptions{
			ID:        input.Body.ID,
			OrgID:     p.OrgID,
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			Severity:  input.Body.Severity,
			ActorID:   p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Barrier `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-barriers",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/barriers",
		Summary:     "List barriers",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Barrier `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBarriers(ctx, input.ProjectID, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Barrier `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	type actionPath struct {
		ActionID string `path:"action_id"`
	}
	type mutationOutput struct {
		Body ActionMutationResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Create action",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateActionRequest `json:"body"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, res, err := e.CreateAction(ctx, engine.CreateActionOptions{
			ID:           input.Body.ID,
			OrgID:        p.OrgID,
			ProjectID:    input.Body.ProjectID,
			Title:        input.Body.Title,
			Status:       input.Body.Status,
			DueDate:      input.Body.DueDate,
			TargetValue:  input.Body.TargetValue,
			CurrentValue: input.Body.CurrentValue,
			Notes:        input.Body.Notes,
			OwnerID:      input.Body.OwnerID,
			ActorID:      p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: actionMutation(a, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List actions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID       string `query:"project_id"`
		Unassigned      bool   `query:"unassigned"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Action `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Unassigned && input.ProjectID != "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id and unassigned are exclusive", nil)
		}
		items, err := e.ListActions(ctx, repo.ActionFilters{
			OrgID:           p.OrgID,
			ProjectID:       input.ProjectID,
			Unassigned:      input.Unassigned,
			IncludeArchived: input.IncludeArchived,
			Limit:           normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Action `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body domain.Action `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAction(ctx, input.ActionID, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Action `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/actions/{action_id}",
		Summary:     "Update action",
		Description: "Status changes roll up into the project and its strategy.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActionID string              `path:"action_id"`
		Body     UpdateActionRequest `json:"body"`
	}) (*mutationOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, res, err := e.UpdateAction(ctx, engine.UpdateActionOptions{
			ID:           input.ActionID,
			OrgID:        p.OrgID,
			ActorID:      p.ActorID,
			Title:        input.Body.Title,
			Status:       input.Body.Status,
			DueDate:      input.Body.DueDate,
			ClearDueDate: input.Body.ClearDueDate,
			TargetValue:  input.Body.TargetValue,
			CurrentValue: input.Body.CurrentValue,
			Notes:        input.Body.Notes,
			OwnerID:      input.Body.OwnerID,
			ProjectID:    input.Body.ProjectID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &mutationOutput{Body: actionMutation(a, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-action",
		Method:      http.MethodDelete,
		Path:        "/actions/{action_id}",
		Summary:     "Delete action",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *actionPath) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteAction(ctx, input.ActionID, p.OrgID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Deleted: true, Warnings: res.WarningMessages()}}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dependency",
		Method:        http.MethodPost,
		Path:          "/dependencies",
		Summary:       "Link two entities of the caller's org",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateDependencyRequest `json:"body"`
	}) (*struct {
		Body domain.Dependency `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDependency(ctx, engine.CreateDependencyOptions{
			ID:         input.Body.ID,
			OrgID:      p.OrgID,
			SourceType: input.Body.SourceType,
			SourceID:   input.Body.SourceID,
			TargetType: input.Body.TargetType,
			TargetID:   input.Body.TargetID,
			ActorID:    p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dependency `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/dependencies",
		Summary:     "List dependencies",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type" enum:"project,action"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Dependency `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDependencies(ctx, p.OrgID, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Dependency `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-dependency",
		Method:      http.MethodDelete,
		Path:        "/dependencies/{dependency_id}",
		Summary:     "Delete dependency",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		DependencyID string `path:"dependency_id"`
	}) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDependency(ctx, input.DependencyID, p.OrgID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Deleted: true, Warnings: []string{}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "collect-dependencies",
		Method:      http.MethodPost,
		Path:        "/dependencies/collect",
		Summary:     "Remove every dependency touching the given entities",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CollectDependenciesRequest `json:"body"`
	}) (*struct {
		Body CollectResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.DeleteDependenciesForEntities(ctx, input.Body.ProjectIDs, input.Body.ActionIDs, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollectResponse `json:"body"`
		}{Body: CollectResponse{Removed: n}}, nil
	})
}

func registerMaintenance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "recompute",
		Method:      http.MethodPost,
		Path:        "/recompute",
		Summary:     "Recompute every derived value of the caller's org",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Reconcile(ctx, p.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: reconcileResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"strategy,project,action,dependency"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Store.LatestEvents(ctx, repo.EventFilters{
			OrgID:      p.OrgID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, OrgID: p.OrgID, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.AllowHeaderAuth {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		org := strings.TrimSpace(input.Body.OrgID)
		if actor == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and org_id are required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, org, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
