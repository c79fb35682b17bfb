package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/forms"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/workspace"
	"github.com/pitabwire/portdesk/model"
)

type workspaceKey struct{}

// WorkspaceFrom returns the workspace resolved for the current request.
func WorkspaceFrom(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*workspace.Workspace)
	return ws
}

// WorkspaceContext resolves the {ws} route parameter and admits only the
// workspace's creator. The request's bearer token replaces the workspace's
// token, which is how a client re-attaches after signing in again.
func WorkspaceContext(mgr *workspace.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := mgr.Get(chi.URLParam(r, "ws"))
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := r.Context()
			if err := ws.Attach(TokenFrom(ctx)); err != nil {
				WriteError(w, err)
				return
			}

			rctx := model.RequestContext{CorrelationID: CorrelationIDFrom(ctx)}
			if prev := model.RequestContextFrom(ctx); prev != nil {
				rctx = *prev
			}
			rctx.WorkspaceID = ws.ID()
			if rctx.SubjectID == "" {
				rctx.SubjectID = ws.Session().Subject()
			}
			ctx = model.WithRequestContext(ctx, &rctx)
			observability.AnnotateWorkspace(ctx, ws.ID(), rctx.SubjectID)
			ctx = observability.WithLogger(ctx, observability.LoggerFrom(ctx, zap.L()).With(
				zap.String("workspace_id", ws.ID()),
			))
			ctx = context.WithValue(ctx, workspaceKey{}, ws)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func handleCreateWorkspace(mgr *workspace.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := mgr.Create(r.Context(), TokenFrom(r.Context()))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Location", "/api/workspaces/"+ws.ID())
		WriteJSON(w, http.StatusCreated, ws.Info())
	}
}

func handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, WorkspaceFrom(r.Context()).Info())
}

func handleCloseWorkspace(mgr *workspace.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.Close(WorkspaceFrom(r.Context()).ID()); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type notificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

func handleNotifications(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, notificationsResponse{
		Notifications: WorkspaceFrom(r.Context()).Notifications(),
	})
}

type alertsResponse struct {
	Groups []forms.AlertGroup `json:"groups"`
}

func handleDocumentAlerts(now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := WorkspaceFrom(r.Context()).DocumentAlerts(now())
		if err != nil {
			WriteError(w, err)
			return
		}
		if groups == nil {
			groups = []forms.AlertGroup{}
		}
		WriteJSON(w, http.StatusOK, alertsResponse{Groups: groups})
	}
}
