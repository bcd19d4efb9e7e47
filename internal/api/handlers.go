package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/aggregate"
	"equity-waterfall-engine/internal/daycount"
	"equity-waterfall-engine/internal/waterfall"
)

// createRunRequest is the POST body for a waterfall run. Periods come either
// pre-aggregated or as raw section-labeled statements (exactly one of the
// two). DayCount overrides the server default when present.
type createRunRequest struct {
	Partners       []waterfall.Partner        `json:"partners"`
	Tiers          []waterfall.WaterfallTier  `json:"tiers"`
	Periods        []waterfall.CashFlowPeriod `json:"periods,omitempty"`
	PeriodSections []aggregate.PeriodSections `json:"period_sections,omitempty"`
	DayCount       string                     `json:"day_count,omitempty"`
}

type createRunResponse struct {
	RunID     string               `json:"run_id,omitempty"`
	InputHash string               `json:"input_hash"`
	DayCount  string               `json:"day_count"`
	Cached    bool                 `json:"cached"`
	Result    *waterfall.RunResult `json:"result"`
}

// handleCreateRun validates and executes a waterfall run. Identical input
// snapshots are served from cache or storage instead of recomputing.
func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	conv := s.dayCount
	if req.DayCount != "" {
		parsed, err := daycount.ParseConvention(req.DayCount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		conv = parsed
	}

	periods := req.Periods
	switch {
	case len(req.Periods) > 0 && len(req.PeriodSections) > 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide either periods or period_sections, not both"})
		return
	case len(req.PeriodSections) > 0:
		aggregated, err := s.aggregator.Aggregate(req.PeriodSections)
		if err != nil {
			s.respondRunError(c, err)
			return
		}
		periods = aggregated
	}

	input := waterfall.RunInput{
		Partners: req.Partners,
		Tiers:    req.Tiers,
		Periods:  periods,
	}

	if err := waterfall.ValidateInput(input); err != nil {
		s.respondRunError(c, err)
		return
	}

	inputHash, err := waterfall.SnapshotHash(input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fingerprint input"})
		return
	}

	// Cache first, then stored runs: an identical snapshot always produces an
	// identical result, so either source is as good as recomputing.
	if result, ok := s.lookupCached(c, inputHash, string(conv)); ok {
		s.eventBus.PublishCacheHit(inputHash)
		c.JSON(http.StatusOK, createRunResponse{
			InputHash: inputHash,
			DayCount:  string(conv),
			Cached:    true,
			Result:    result,
		})
		return
	}

	if s.repo != nil {
		rec, err := s.repo.GetRunByHash(c.Request.Context(), inputHash)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Stored run lookup failed, computing fresh")
		} else if rec != nil && rec.DayCount == string(conv) {
			var result waterfall.RunResult
			if err := json.Unmarshal(rec.Result, &result); err == nil {
				s.cacheResult(c, inputHash, rec.DayCount, &result)
				c.JSON(http.StatusOK, createRunResponse{
					RunID:     rec.ID,
					InputHash: inputHash,
					DayCount:  rec.DayCount,
					Cached:    true,
					Result:    &result,
				})
				return
			}
		}
	}

	// Take the compute lock so concurrent submissions of the same snapshot
	// compute once. Without Redis every submission computes.
	if s.runCache != nil {
		acquired, err := s.runCache.AcquireComputeLock(c.Request.Context(), inputHash, string(conv))
		if err == nil && !acquired {
			c.JSON(http.StatusConflict, gin.H{
				"error":      "an identical run is already being computed, retry shortly",
				"input_hash": inputHash,
			})
			return
		}
		if err == nil {
			defer s.runCache.ReleaseComputeLock(c.Request.Context(), inputHash, string(conv))
		}
	}

	runID := uuid.New().String()
	s.eventBus.PublishRunStarted(runID, inputHash, len(input.Periods), len(input.Partners))

	started := time.Now()
	engine := waterfall.NewEngine(input, conv, s.logger)
	result, err := engine.Run()
	if err != nil {
		s.eventBus.PublishRunFailed(runID, inputHash, err.Error())
		s.respondRunError(c, err)
		return
	}

	totalDistributed := decimal.Zero
	for _, acct := range result.Accounts {
		totalDistributed = totalDistributed.Add(acct.CumulativeDistributions)
	}
	s.eventBus.PublishRunCompleted(runID, inputHash, totalDistributed.String(), time.Since(started).Milliseconds())

	if s.repo != nil {
		savedID, err := s.repo.SaveRun(c.Request.Context(), input, result, inputHash, string(conv))
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist run")
		} else {
			runID = savedID
		}
	}

	s.cacheResult(c, inputHash, string(conv), result)

	c.JSON(http.StatusOK, createRunResponse{
		RunID:     runID,
		InputHash: inputHash,
		DayCount:  string(conv),
		Cached:    false,
		Result:    result,
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run persistence is disabled"})
		return
	}

	id := c.Param("id")
	rec, err := s.repo.GetRun(c.Request.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("Failed to fetch run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                rec.ID,
		"input_hash":        rec.InputHash,
		"day_count":         rec.DayCount,
		"deal_irr":          rec.DealIRR,
		"equity_multiple":   rec.EquityMultiple,
		"total_distributed": rec.TotalDistributed,
		"period_count":      rec.PeriodCount,
		"partner_count":     rec.PartnerCount,
		"created_at":        rec.CreatedAt,
		"input":             json.RawMessage(rec.Input),
		"result":            json.RawMessage(rec.Result),
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run persistence is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	summaries, err := s.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": summaries, "count": len(summaries)})
}

func (s *Server) handleGetRunDistributions(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run persistence is disabled"})
		return
	}

	id := c.Param("id")
	records, err := s.repo.GetDistributions(c.Request.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("Failed to fetch distributions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch distributions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"distributions": records, "count": len(records)})
}

// respondRunError maps engine error types to HTTP statuses. Configuration and
// input problems are the caller's fault; a conservation violation is ours.
func (s *Server) respondRunError(c *gin.Context, err error) {
	var configErr *waterfall.ConfigError
	var inputErr *waterfall.InputError
	var invariantErr *waterfall.InvariantViolation

	switch {
	case errors.As(err, &configErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "config"})
	case errors.As(err, &inputErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "input"})
	case errors.As(err, &invariantErr):
		s.logger.Error().Err(err).Msg("Invariant violation during run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "invariant"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// lookupCached fetches a cached result, treating any cache error as a miss.
func (s *Server) lookupCached(c *gin.Context, inputHash, dayCount string) (*waterfall.RunResult, bool) {
	if s.runCache == nil {
		return nil, false
	}
	result, err := s.runCache.GetRunResult(c.Request.Context(), inputHash, dayCount)
	if err != nil || result == nil {
		return nil, false
	}
	return result, true
}

func (s *Server) cacheResult(c *gin.Context, inputHash, dayCount string, result *waterfall.RunResult) {
	if s.runCache == nil {
		return
	}
	if err := s.runCache.SetRunResult(c.Request.Context(), inputHash, dayCount, result); err != nil {
		s.logger.Debug().Err(err).Msg("Skipped caching run result")
	}
}
