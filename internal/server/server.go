package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/facts"
	"caseline/internal/render"
	"caseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	FactsStore *facts.Store
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"actor lacks permission phase.approve"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCases(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerPhase(group, cfg.Engine)
	registerPending(group, cfg.Engine)
	registerSOL(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerFacts(group, cfg.Engine, cfg.FactsStore)
	registerEvents(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "facts unavailable"):
		return newAPIError(http.StatusServiceUnavailable, "facts_unavailable", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requirePermission checks token-carried permissions first, then falls back
// to the actor's role on the case.
func requirePermission(ctx context.Context, e engine.Engine, caseID, perm string) (string, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return "", authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return principal.ActorID, nil
	}
	svc := auth.Service{Repo: e.Repo, Config: e.Config}
	if err := svc.Require(ctx, principal.ActorID, caseID, perm); err != nil {
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			// a missing case reads as not found, not forbidden
			if _, gerr := e.Repo.GetCase(ctx, caseID); errors.Is(gerr, repo.ErrNotFound) {
				return "", gerr
			}
		}
		return "", err
	}
	return principal.ActorID, nil
}

// casePath is the input for routes that take only the case id. Composite
// inputs inline the field instead: path tags on embedded structs are not
// resolved at request time.
type casePath struct {
	CaseID string `path:"case_id"`
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

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Create case",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.CreateCase(ctx, engine.CreateCaseParams{
			ID:           input.Body.ID,
			ClientName:   input.Body.ClientName,
			AccidentDate: input.Body.AccidentDate,
			AccidentType: input.Body.AccidentType,
		}, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		// the creator manages the case until reassigned
		if _, err := e.Repo.AssignActor(ctx, state.ID, principal.ActorID, "attorney"); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseState `json:"body"`
		}{Body: *state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: CaseListResponse{Cases: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case state",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		state, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseState `json:"body"`
		}{Body: *state}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "case-status",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/status",
		Summary:     "Case status",
		Description: "Computes the full status view. Fact-derived corrections and any new phase change suggestion are persisted as a side effect.",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead)
		if err != nil {
			return nil, handleError(err)
		}
		view, err := e.Status(ctx, input.CaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{StatusView: *view, Markdown: render.Markdown(view, e.Defs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-sync",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/sync",
		Summary:     "Sync case state from facts",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		corrections, state, err := e.Sync(ctx, input.CaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if corrections == nil {
			corrections = []domain.Correction{}
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: SyncResponse{Corrections: corrections, State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-next-actions",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/actions",
		Summary:     "Next actions",
		Description: "Pure read: derives the action list without persisting corrections.",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body NextActionsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		state, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.Facts.Facts(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(fmt.Errorf("facts unavailable: %w", err))
		}
		view, _ := e.DeriveStatus(state, f)
		return &struct {
			Body NextActionsResponse `json:"body"`
		}{Body: NextActionsResponse{Actions: view.NextActions}}, nil
	})
}

func registerPhase(api huma.API, e engine.Engine) {
	decide := func(approve bool) func(context.Context, *struct {
		CaseID string               `path:"case_id"`
		Body   PhaseDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			CaseID string               `path:"case_id"`
			Body   PhaseDecisionRequest `json:"body"`
		}) (*struct {
			Body domain.CaseState `json:"body"`
		}, error) {
			actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermPhaseApprove)
			if err != nil {
				return nil, handleError(err)
			}
			state, err := e.ApprovePhaseChange(ctx, input.CaseID, approve, input.Body.Reason, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.CaseState `json:"body"`
			}{Body: *state}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "approve-phase-change",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/phase/approve",
		Summary:     "Approve the pending phase change",
	}, decide(true))

	huma.Register(api, huma.Operation{
		OperationID: "reject-phase-change",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/phase/reject",
		Summary:     "Reject the pending phase change",
	}, decide(false))
}

func registerPending(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-pending-item",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/pending",
		Summary:       "Add pending item",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		CaseID string                `path:"case_id"`
		Body   AddPendingItemRequest `json:"body"`
	}) (*struct {
		Body domain.PendingItem `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		item, err := e.AddPendingItem(ctx, input.CaseID, engine.PendingItemParams{
			Description: input.Body.Description,
			Owner:       input.Body.Owner,
			Workflow:    input.Body.Workflow,
			Blocking:    input.Body.Blocking,
			DueDate:     input.Body.DueDate,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PendingItem `json:"body"`
		}{Body: *item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-pending-item",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/pending/{item_id}/resolve",
		Summary:     "Resolve pending item",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := e.ResolvePendingItem(ctx, input.CaseID, input.ItemID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseState `json:"body"`
		}{Body: *state}, nil
	})
}

func registerSOL(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-sol-override",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/sol",
		Summary:     "Set or clear the SOL override",
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   SOLOverrideRequest `json:"body"`
	}) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermPhaseApprove)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := e.SetSOLOverride(ctx, input.CaseID, input.Body.Status, input.Body.Notes, input.Body.FilingDate, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseState `json:"body"`
		}{Body: *state}, nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/steps/complete",
		Summary:     "Complete a workflow step",
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   CompleteStepRequest `json:"body"`
	}) (*struct {
		Body domain.CaseState `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		state, err := e.CompleteStep(ctx, input.CaseID, input.Body.Workflow, input.Body.Step, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseState `json:"body"`
		}{Body: *state}, nil
	})
}

func registerFacts(api huma.API, e engine.Engine, store *facts.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "import-facts",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/facts",
		Summary:     "Replace the facts snapshot",
		Description: "Overwrites the stored facts for the case and syncs derived status.",
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   ImportFactsRequest `json:"body"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		actorID, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if store == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "facts import is not enabled on this server", nil)
		}
		snapshot := input.Body
		if err := store.Replace(ctx, input.CaseID, &snapshot); err != nil {
			return nil, handleError(err)
		}
		corrections, state, err := e.Sync(ctx, input.CaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if corrections == nil {
			corrections = []domain.Correction{}
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: SyncResponse{Corrections: corrections, State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-facts",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/facts",
		Summary:     "Get the facts snapshot",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body facts.CaseFacts `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		f, err := e.Facts.Facts(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(fmt.Errorf("facts unavailable: %w", err))
		}
		return &struct {
			Body facts.CaseFacts `json:"body"`
		}{Body: *f}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/events",
		Summary:     "Audit log",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		evts, err := e.Repo.ListEvents(ctx, input.CaseID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: evts}}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-actor",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/assignments",
		Summary:     "Assign an actor to a case role",
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   AssignActorRequest `json:"body"`
	}) (*struct {
		Body domain.CaseAssignment `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermPhaseApprove); err != nil {
			return nil, handleError(err)
		}
		if input.Body.ActorID == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		a, err := e.Repo.AssignActor(ctx, input.CaseID, input.Body.ActorID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CaseAssignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/assignments",
		Summary:     "List case assignments",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, input.CaseID, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignments(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{Assignments: items}}, nil
	})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Caseline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
