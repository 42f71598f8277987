package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/conversation"
	"github.com/deeplifeai/swarmweaver-sub001/internal/handoff"
	"github.com/deeplifeai/swarmweaver-sub001/internal/orchestrator"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Lanes: s.deps.Processor.Lanes()}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

// handlePostMessage submits an inbound message. With ?async=true the message
// is queued and 202 returned; otherwise the processed turn is returned.
func (s *Server) handlePostMessage(c echo.Context) error {
	var msg chat.MessageReceived
	if err := c.Bind(&msg); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if c.QueryParam("async") == "true" {
		if err := s.deps.Processor.Dispatch(c.Request().Context(), msg); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusAccepted, AcceptedResponse{Status: "queued", Conversation: msg.Key()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.ProcessTimeout)
	defer cancel()
	turn, err := s.deps.Processor.Process(ctx, msg)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, turn)
}

// handleListAgents returns every agent's availability.
func (s *Server) handleListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Mediator.Snapshot())
}

// handleSetAvailability toggles an agent's availability flag.
func (s *Server) handleSetAvailability(c echo.Context) error {
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil || req.Available == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "available field is required")
	}
	id := c.Param("id")
	if err := s.deps.Mediator.SetAgentAvailability(id, *req.Available); err != nil {
		return httpError(err)
	}
	s.logger.Info(c.Request().Context(), "agent availability changed",
		zap.String("agent", id),
		zap.Bool("available", *req.Available),
	)
	for _, st := range s.deps.Mediator.Snapshot() {
		if st.ID == id {
			return c.JSON(http.StatusOK, st)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "agent not found")
}

// conversationKey reads :channel and the optional ?thread= query parameter.
func conversationKey(c echo.Context) chat.Key {
	return chat.NewKey(c.Param("channel"), c.QueryParam("thread"))
}

func (s *Server) handleGetState(c echo.Context) error {
	ctx := c.Request().Context()
	key := conversationKey(c)

	state, err := s.deps.Workflow.GetState(ctx, key)
	if err != nil {
		return httpError(err)
	}
	next, err := s.deps.Workflow.AvailableTransitions(ctx, key)
	if err != nil {
		return httpError(err)
	}

	resp := StateResponse{Conversation: key, AvailableTransitions: next}
	if state != nil {
		raw, err := workflow.Marshal(state)
		if err != nil {
			return httpError(err)
		}
		resp.Stage = string(state.Stage())
		resp.State = raw
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetHistory(c echo.Context) error {
	key := conversationKey(c)
	stored, total := s.deps.Memory.Stats(key)
	resp := HistoryResponse{
		Conversation: key,
		Messages:     s.deps.Memory.GetConversationHistory(key),
		Stored:       stored,
		Total:        total,
	}
	if resp.Messages == nil {
		resp.Messages = []chat.Message{}
	}
	if sum, ok := s.deps.Memory.GetSummary(key); ok {
		resp.Summary = &SummaryView{
			Text:                sum.Text,
			LastSummarizedIndex: sum.LastSummarizedIndex,
			LastUpdated:         sum.LastUpdated,
			FailedAttempts:      sum.FailedAttempts,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleReset clears memory, workflow state and loop history on the
// conversation's lane.
func (s *Server) handleReset(c echo.Context) error {
	ctx := c.Request().Context()
	key := conversationKey(c)

	err := s.deps.Processor.Exec(ctx, key, func(ctx context.Context) error {
		s.deps.Memory.ResetConversation(key)
		s.deps.Loops.Reset(key.String())
		return s.deps.Workflow.Reset(ctx, key)
	})
	if err != nil {
		return httpError(err)
	}
	s.logger.Info(ctx, "conversation reset", zap.String("conversation", key.String()))
	return c.JSON(http.StatusOK, ResetResponse{Conversation: key, Reset: true})
}

func (s *Server) handleSummarize(c echo.Context) error {
	key := conversationKey(c)
	err := s.deps.Processor.Exec(c.Request().Context(), key, func(ctx context.Context) error {
		return s.deps.Memory.ForceSummarize(ctx, key)
	})
	if err != nil {
		return httpError(err)
	}
	return s.handleGetHistory(c)
}

// httpError maps coordinator errors to HTTP errors.
func httpError(err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrLaneFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, handoff.ErrUnknownAgent):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrNoSummarizer):
		status = http.StatusConflict
	case apperr.Is(err, apperr.Validation):
		status = http.StatusBadRequest
	}
	return echo.NewHTTPError(status, err.Error())
}
