// Package server exposes the REST endpoint replicas receive renames on, along with the Prometheus
// metrics of the node.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/rename"
)

// jsonPrefix guards JSON responses against cross-site script inclusion.
const jsonPrefix = ")]}'\n"

// maxRequestBody bounds the size of rename requests.
const maxRequestBody = 1 << 16

// Renamer executes renames received by the endpoint.
type Renamer interface {
	Start(ctx context.Context, req rename.Request, pm rename.ProgressMonitor, confirm rename.Confirmer) error
}

type handler struct {
	renamer  Renamer
	user     string
	password string
	logger   *logrus.Entry
}

type renameInput struct {
	Name models.ProjectName `json:"name"`
}

// NewHandler returns the HTTP handler of the node. Renames are accepted on
// POST /a/projects/{project}/<plugin>~rename from callers authenticating with the replication
// credentials of cfg. gatherer is served on /metrics and requests are counted in registerer.
func NewHandler(renamer Renamer, cfg config.Config, logger *logrus.Entry, registerer prometheus.Registerer, gatherer prometheus.Gatherer) (http.Handler, error) {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rename_project_http_requests_total",
			Help: "Total number of rename requests received by status code",
		},
		[]string{"code"},
	)
	if err := registerer.Register(requests); err != nil {
		return nil, fmt.Errorf("register request metrics: %w", err)
	}

	h := &handler{
		renamer:  renamer,
		user:     cfg.Replication.HTTP.User,
		password: cfg.Replication.HTTP.Password,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle(
		fmt.Sprintf("POST /a/projects/{project}/%s~rename", cfg.PluginName),
		promhttp.InstrumentHandlerCounter(requests, http.HandlerFunc(h.serveRename)),
	)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux, nil
}

func (h *handler) authenticated(r *http.Request) (string, bool) {
	user, password, ok := r.BasicAuth()
	if !ok || h.user == "" {
		return "", false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	return user, userOK && passwordOK
}

func (h *handler) serveRename(w http.ResponseWriter, r *http.Request) {
	project := models.ProjectName(r.PathValue("project"))

	logger := h.logger.WithFields(logrus.Fields{
		"old_project": project,
		"remote_addr": r.RemoteAddr,
	})

	user, ok := h.authenticated(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="rename-project"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "reading request", http.StatusBadRequest)
		return
	}

	var input renameInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "invalid rename input", http.StatusBadRequest)
		return
	}

	ctx := ctxlogrus.ToContext(r.Context(), logger)

	err = h.renamer.Start(ctx, rename.Request{
		Old:           project,
		New:           input.Name,
		ReplicateOnly: true,
		Admin:         true,
		User:          log.AuditUser{UserName: user},
	}, nil, nil)
	if err != nil {
		logger.WithError(err).Error("replicated rename failed")
		http.Error(w, err.Error(), statusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, jsonPrefix+`""`)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, rename.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, rename.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, rename.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, rename.ErrDestinationExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
