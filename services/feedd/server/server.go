// Package server hosts the feedd admin and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"valuechain/native/feed"
	"valuechain/native/oracle"
	"valuechain/native/valuation"
	"valuechain/services/feedd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress     string
	BearerToken       string
	RequestsPerMinute float64
	Burst             int
}

// Server exposes the oracle, valuation, and feed surfaces over HTTP.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	oracle    *oracle.Engine
	registry  *oracle.Registry
	valuation *valuation.Engine
	adapter   *feed.Adapter
	audit     *storage.Storage
	owner     oracle.ProviderID
	identity  oracle.ProviderID
	auth      *Authenticator
	limiter   *RateLimiter
	router    http.Handler
}

// Deps bundles the engine dependencies for the server.
type Deps struct {
	Oracle    *oracle.Engine
	Registry  *oracle.Registry
	Valuation *valuation.Engine
	Adapter   *feed.Adapter
	Audit     *storage.Storage
	Owner     oracle.ProviderID
	Identity  oracle.ProviderID
}

// New constructs a configured HTTP server.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Oracle == nil || deps.Registry == nil || deps.Valuation == nil || deps.Adapter == nil {
		return nil, fmt.Errorf("engine dependencies required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit storage required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.BearerToken)
	if err != nil {
		return nil, fmt.Errorf("configure admin auth: %w", err)
	}
	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		oracle:    deps.Oracle,
		registry:  deps.Registry,
		valuation: deps.Valuation,
		adapter:   deps.Adapter,
		audit:     deps.Audit,
		owner:     deps.Owner,
		identity:  deps.Identity,
		auth:      auth,
		limiter:   NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/params/oracle", s.handleGetOracleParams)
		api.Put("/params/oracle", s.handlePutOracleParams)
		api.Get("/params/valuation", s.handleGetValuationParams)
		api.Put("/params/valuation", s.handlePutValuationParams)

		api.Post("/providers/{provider}", s.handleAddProvider)
		api.Delete("/providers/{provider}", s.handleRemoveProvider)

		api.Post("/assets/{asset}/submissions", s.handleSubmit)
		api.Post("/assets/{asset}/submissions/bulk", s.handleSubmitBulk)
		api.Get("/assets/{asset}/history", s.handleHistory)
		api.Get("/assets/{asset}/observations", s.handleObservations)
		api.Get("/assets/{asset}/failures", s.handleFailures)
		api.Delete("/assets/{asset}", s.handleDeleteAsset)

		api.Post("/assets/{asset}/valuation/request", s.handleRequestValuation)
		api.Post("/assets/{asset}/valuation/process", s.handleProcessValuation)
		api.Get("/assets/{asset}/valuation", s.handleGetValuation)

		api.Post("/feeds/{asset}", s.handleSetFeed)
		api.Delete("/feeds/{asset}", s.handleRemoveFeed)
		api.Post("/pause", s.handlePause)
		api.Post("/unpause", s.handleUnpause)
	})

	return r
}

// Run serves HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type oracleParamsPayload struct {
	MinSubmissionIntervalSeconds uint64 `json:"minSubmissionIntervalSeconds"`
	MaxPriceDeviationBps         uint64 `json:"maxPriceDeviationBps"`
	MaxHistoryLength             uint64 `json:"maxHistoryLength"`
	MaxValidityPeriodSeconds     uint64 `json:"maxValidityPeriodSeconds"`
	MaxBatchSize                 uint64 `json:"maxBatchSize"`
}

func (s *Server) handleGetOracleParams(w http.ResponseWriter, _ *http.Request) {
	params, err := s.oracle.Params()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, oracleParamsPayload{
		MinSubmissionIntervalSeconds: uint64(params.MinSubmissionInterval / time.Second),
		MaxPriceDeviationBps:         params.MaxPriceDeviationBps,
		MaxHistoryLength:             params.MaxHistoryLength,
		MaxValidityPeriodSeconds:     uint64(params.MaxValidityPeriod / time.Second),
		MaxBatchSize:                 params.MaxBatchSize,
	})
}

func (s *Server) handlePutOracleParams(w http.ResponseWriter, r *http.Request) {
	var payload oracleParamsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	params := oracle.ProviderParams{
		MinSubmissionInterval: time.Duration(payload.MinSubmissionIntervalSeconds) * time.Second,
		MaxPriceDeviationBps:  payload.MaxPriceDeviationBps,
		MaxHistoryLength:      payload.MaxHistoryLength,
		MaxValidityPeriod:     time.Duration(payload.MaxValidityPeriodSeconds) * time.Second,
		MaxBatchSize:          payload.MaxBatchSize,
	}
	if err := s.oracle.UpdateParams(s.owner, params); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type valuationParamsPayload struct {
	MinDataPoints            uint64 `json:"minDataPoints"`
	ConfidenceThreshold      uint64 `json:"confidenceThreshold"`
	MaxValidityPeriodSeconds uint64 `json:"maxValidityPeriodSeconds"`
	UpdateDelaySeconds       uint64 `json:"updateDelaySeconds"`
}

func (s *Server) handleGetValuationParams(w http.ResponseWriter, _ *http.Request) {
	params, err := s.valuation.Params()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuationParamsPayload{
		MinDataPoints:            params.MinDataPoints,
		ConfidenceThreshold:      params.ConfidenceThreshold,
		MaxValidityPeriodSeconds: uint64(params.MaxValidityPeriod / time.Second),
		UpdateDelaySeconds:       uint64(params.UpdateDelay / time.Second),
	})
}

func (s *Server) handlePutValuationParams(w http.ResponseWriter, r *http.Request) {
	var payload valuationParamsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	params := valuation.Params{
		MinDataPoints:       payload.MinDataPoints,
		ConfidenceThreshold: payload.ConfidenceThreshold,
		MaxValidityPeriod:   time.Duration(payload.MaxValidityPeriodSeconds) * time.Second,
		UpdateDelay:         time.Duration(payload.UpdateDelaySeconds) * time.Second,
	}
	if err := s.valuation.UpdateParams(s.owner, params); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := oracle.ParseProviderID(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, "invalid provider", http.StatusBadRequest)
		return
	}
	if err := s.registry.AddProvider(s.owner, provider); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider.String()})
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := oracle.ParseProviderID(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, "invalid provider", http.StatusBadRequest)
		return
	}
	if err := s.registry.RemoveProvider(s.owner, provider); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider.String()})
}

type submissionPayload struct {
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
	Confidence uint64 `json:"confidence"`
}

func (s *Server) parseAsset(w http.ResponseWriter, r *http.Request) (oracle.AssetID, bool) {
	asset, err := oracle.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		http.Error(w, "invalid asset", http.StatusBadRequest)
		return oracle.AssetID{}, false
	}
	return asset, true
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	var payload submissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}
	ts := time.Unix(payload.Timestamp, 0)
	if err := s.oracle.SubmitDataPoint(s.identity, asset, price, ts, payload.Confidence); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"asset": asset.String()})
}

type bulkPayload struct {
	Items []struct {
		Asset      string `json:"asset"`
		Price      string `json:"price"`
		Timestamp  int64  `json:"timestamp"`
		Confidence uint64 `json:"confidence"`
	} `json:"items"`
}

func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	var payload bulkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	items := make([]oracle.BulkItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		asset, err := oracle.ParseAssetID(item.Asset)
		if err != nil {
			http.Error(w, "invalid asset", http.StatusBadRequest)
			return
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(item.Price), 10)
		if !ok {
			http.Error(w, "invalid price", http.StatusBadRequest)
			return
		}
		items = append(items, oracle.BulkItem{
			Asset:      asset,
			Price:      price,
			Timestamp:  time.Unix(item.Timestamp, 0),
			Confidence: item.Confidence,
		})
	}
	results, err := s.oracle.SubmitBulkDataPoints(s.identity, items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type bulkResult struct {
		Asset    string `json:"asset"`
		Accepted bool   `json:"accepted"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]bulkResult, 0, len(results))
	for _, res := range results {
		entry := bulkResult{Asset: res.Asset.String(), Accepted: res.Accepted()}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

type historyEntry struct {
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
	Confidence uint64 `json:"confidence"`
	Provider   string `json:"provider"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 100)
	points, err := s.oracle.DataPointHistory(asset, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(points))
	for _, point := range points {
		price := ""
		if point.Price != nil {
			price = point.Price.String()
		}
		out = append(out, historyEntry{
			Price:      price,
			Timestamp:  point.Timestamp.Unix(),
			Confidence: point.Confidence,
			Provider:   point.Provider.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset.String(), "history": out})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	observations, err := s.audit.RecentObservations(r.Context(), asset.String(), parseLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset.String(), "observations": observations})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	failures, err := s.audit.RecentFailures(r.Context(), asset.String(), parseLimit(r, 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"asset": asset.String(), "failures": failures})
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	if err := s.oracle.DeleteAssetData(s.owner, asset); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "status": "deleted"})
}

func (s *Server) handleRequestValuation(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	if err := s.valuation.RequestValuation(asset, s.identity); err != nil {
		s.writeError(w, err)
		return
	}
	pending, err := s.valuation.PendingRequests(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"asset": asset.String(), "pending": pending})
}

type valuationPayload struct {
	Asset      string `json:"asset"`
	Value      string `json:"value"`
	Confidence uint64 `json:"confidence"`
	Timestamp  int64  `json:"timestamp"`
	DataPoints uint64 `json:"dataPoints"`
	Published  bool   `json:"published"`
}

func valuationResponse(result valuation.Result) valuationPayload {
	value := ""
	if result.Value != nil {
		value = result.Value.String()
	}
	return valuationPayload{
		Asset:      result.Asset.String(),
		Value:      value,
		Confidence: result.Confidence,
		Timestamp:  result.Timestamp.Unix(),
		DataPoints: result.DataPoints,
		Published:  result.Published,
	}
}

func (s *Server) handleProcessValuation(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	result, err := s.valuation.ProcessValuation(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuationResponse(result))
}

func (s *Server) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	result, found, err := s.valuation.LatestValuation(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "valuation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, valuationResponse(result))
}

type feedPayload struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleSetFeed(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	var payload feedPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Endpoint) == "" {
		http.Error(w, "endpoint required", http.StatusBadRequest)
		return
	}
	src := feed.NewChainlinkFeed(nil, payload.Endpoint, payload.Name)
	if err := s.adapter.SetPriceFeed(s.owner, asset, src); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "feed": src.Name()})
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.parseAsset(w, r)
	if !ok {
		return
	}
	if err := s.adapter.RemovePriceFeed(s.owner, asset); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.String(), "status": "removed"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.adapter.Pause(s.owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request) {
	if err := s.adapter.Unpause(s.owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err.Error())
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorizedProvider),
		errors.Is(err, valuation.ErrUnauthorized),
		errors.Is(err, feed.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrSubmissionTooFrequent):
		return http.StatusTooManyRequests
	case errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrInvalidTimestamp),
		errors.Is(err, oracle.ErrInvalidConfidence),
		errors.Is(err, oracle.ErrPriceDeviationTooHigh),
		errors.Is(err, oracle.ErrBatchTooLarge),
		errors.Is(err, oracle.ErrInvalidProvider),
		errors.Is(err, feed.ErrInvalidPriceFeed):
		return http.StatusBadRequest
	case errors.Is(err, valuation.ErrInsufficientDataPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, feed.ErrPaused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
