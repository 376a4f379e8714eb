package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	s.health.ServeHTTP(c.Writer, c.Request)
}

// view runs a view read with the request timeout and writes the result.
func view[T any](s *Server, c *gin.Context, read func(ctx context.Context) (T, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	data, err := read(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("view read failed")
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, data)
}

func (s *Server) handleLatestSignals(c *gin.Context) {
	view(s, c, s.views.LatestSignals)
}

func (s *Server) handleRiskToday(c *gin.Context) {
	view(s, c, s.views.RiskEventsToday)
}

func (s *Server) handleExposure(c *gin.Context) {
	view(s, c, s.views.IntradayExposure)
}

func (s *Server) handleEquity(c *gin.Context) {
	view(s, c, s.views.DailyEquity)
}

// handleTrades lists trades for ?session=, defaulting to the current session.
func (s *Server) handleTrades(c *gin.Context) {
	session := c.Query("session")
	if session == "" && s.engine != nil {
		session = s.engine.Session()
	}
	view(s, c, func(ctx context.Context) (any, error) {
		return s.views.Trades(ctx, session)
	})
}

func (s *Server) handleState(c *gin.Context) {
	if s.engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not attached")
		return
	}
	data := gin.H{
		"state":   s.engine.State().String(),
		"session": s.engine.Session(),
	}
	if s.positions != nil {
		data["positions"] = s.positions.Positions()
	}
	successResponse(c, data)
}

type resumeRequest struct {
	Reason string `json:"reason"`
}

// handleResume clears a drawdown halt for the rest of the session.
func (s *Server) handleResume(c *gin.Context) {
	if s.engine == nil {
		errorResponse(c, http.StatusServiceUnavailable, "engine not attached")
		return
	}
	var req resumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}

	resumed, err := s.engine.Resume(c.Request.Context(), req.Reason)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !resumed {
		errorResponse(c, http.StatusConflict, "engine is not halted")
		return
	}
	s.log.Warn().Str("reason", req.Reason).Msg("halt resumed by operator")
	successResponse(c, gin.H{"state": s.engine.State().String()})
}
