package maintenance

import (
	"context"
	"net/http"
	"strings"

	"eic-pathway/internal/observability"
	"eic-pathway/internal/response"
)

// Task deletes up to limit stale rows and reports how many went.
type Task struct {
	Name string
	Run  func(ctx context.Context, limit int) (int64, error)
}

type CleanupHandler struct {
	tasks      []Task
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(logger *observability.Logger, cronSecret string, batchSize int, tasks ...Task) *CleanupHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CleanupHandler{
		tasks:      tasks,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		response.Error(w, http.StatusNotFound, response.StatusNotFound, "not found")
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		response.Error(w, http.StatusUnauthorized, response.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		observability.CaptureError(err, "maintenance_cleanup")
		response.Error(w, http.StatusInternalServerError, response.StatusInternal, "cleanup failed")
		return
	}

	response.JSON(w, http.StatusOK, "cleanup completed", result)
}

// Run executes every task once. A failing task stops the sweep; rows already
// removed by earlier tasks stay removed.
func (h *CleanupHandler) Run(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64, len(h.tasks))
	for _, task := range h.tasks {
		deleted, err := task.Run(ctx, h.batchSize)
		if err != nil {
			h.logger.Error("cleanup_task_failed", map[string]any{"task": task.Name, "error": err.Error()})
			return nil, err
		}
		result[task.Name] = deleted
	}

	h.logger.Info("cleanup_completed", map[string]any{"deleted": result})
	return result, nil
}
