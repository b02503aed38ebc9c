package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/csma94/guard-sub003/internal/domain"
	"github.com/csma94/guard-sub003/internal/infra"
	"github.com/csma94/guard-sub003/internal/infra/auth"
	"go.uber.org/zap"
)

// ScopeSubmit — право устройства сдавать координаты.
const ScopeSubmit = "location.submit"

// SampleSubmitter — вход конвейера глазами транспортов (HTTP/MQTT).
type SampleSubmitter interface {
	Submit(ctx context.Context, s *domain.LocationSample) error
}

// IngestAPI принимает GPS-сэмплы от мобильных устройств охранников.
type IngestAPI struct {
	pipeline SampleSubmitter
	cfg      infra.EngineConfig
	metrics  *Metrics
	logger   *zap.Logger
}

func NewIngestAPI(pipeline SampleSubmitter, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *IngestAPI {
	return &IngestAPI{
		pipeline: pipeline,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("ingest"),
	}
}

// HandleSubmit — POST /api/v1/location. Один сэмпл за запрос.
// 202 — принято в конвейер, 400 — брак, 403 — чужой агент/объект, 503 — перегруз.
func (a *IngestAPI) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	a.metrics.SamplesTotal.WithLabelValues("http").Inc()

	var s domain.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		a.metrics.SamplesRejected.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	status, detail := a.accept(r.Context(), &s)
	if status != http.StatusAccepted {
		writeError(w, status, detail)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "accepted",
		"sample_id": s.SampleID,
	})
}

type batchResult struct {
	SampleID string `json:"sample_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// HandleSubmitBatch — POST /api/v1/location/batch. Устройства копят точки
// офлайн и сдают пачкой; каждый сэмпл принимается или бракуется независимо.
func (a *IngestAPI) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var batch []domain.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	if len(batch) == 0 || len(batch) > a.cfg.MaxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size out of range")
		return
	}

	results := make([]batchResult, 0, len(batch))
	for i := range batch {
		s := &batch[i]
		a.metrics.SamplesTotal.WithLabelValues("http").Inc()

		status, detail := a.accept(r.Context(), s)
		res := batchResult{SampleID: s.SampleID, Status: "accepted"}
		if status != http.StatusAccepted {
			res.Status = "rejected"
			res.Reason = detail
		}
		results = append(results, res)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

// accept — общий путь проверок для одиночной и пакетной сдачи.
func (a *IngestAPI) accept(ctx context.Context, s *domain.LocationSample) (int, string) {
	s.ReceivedAt = time.Now().UTC()
	s.TraceID = extractTraceID(ctx)

	// 1. Проверка прав из токена: устройство сдает только за себя
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return http.StatusUnauthorized, "missing token claims"
	}
	if claims.Role == domain.RoleAgent && claims.UserID != s.AgentID {
		a.metrics.SamplesRejected.WithLabelValues("identity").Inc()
		a.logger.Warn("agent identity mismatch",
			zap.String("token_user", claims.UserID),
			zap.String("claimed_agent", s.AgentID),
			zap.String("trace_id", s.TraceID))
		return http.StatusForbidden, "sample agent_id does not match token"
	}
	if !claims.HasSite(s.SiteID) {
		a.metrics.SamplesRejected.WithLabelValues("site").Inc()
		return http.StatusForbidden, "site not permitted by token"
	}

	// 2. Валидация полей, возраста и сдвига часов
	if err := s.Validate(s.ReceivedAt, a.cfg.MaxSampleAge, a.cfg.MaxFutureSkew); err != nil {
		a.metrics.SamplesRejected.WithLabelValues("validation").Inc()
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return http.StatusBadRequest, verr.Error()
		}
		return http.StatusBadRequest, "invalid sample"
	}

	// 3. Постановка в шард с дедлайном: забитый конвейер — честный 503,
	// устройство повторит попытку с тем же sample_id (Fail-Safe)
	subCtx, cancel := context.WithTimeout(ctx, a.cfg.SubmitTimeout)
	defer cancel()
	if err := a.pipeline.Submit(subCtx, s); err != nil {
		a.logger.Warn("pipeline submit failed",
			zap.String("agent_id", s.AgentID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		return http.StatusServiceUnavailable, "pipeline overloaded, retry later"
	}
	return http.StatusAccepted, ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
