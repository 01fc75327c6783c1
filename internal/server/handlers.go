package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trade-gateway/internal/logger"
	"trade-gateway/internal/types"

	"github.com/gin-gonic/gin"
)

// bestPerformerSymbol is the synthetic symbol that routes a trade
// instruction through the ranker before execution.
const bestPerformerSymbol = "BEST PERFORMER"

func errorResponse(message string) types.ErrorResponse {
	return types.ErrorResponse{Status: "error", Message: message}
}

func (s *Server) handleLoginURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"login_url": s.session.LoginURL()})
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	requestToken := c.Query("request_token")
	if requestToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse("request_token query parameter is required"))
		return
	}

	ctx := c.Request.Context()
	if err := s.session.ExchangeToken(ctx, requestToken); err != nil {
		logger.ErrorWithErr(ctx, "Token exchange failed", err)
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("authentication failed: %v", err)))
		return
	}

	// Streaming starts once per process, on the first successful login.
	s.subscribeOnce.Do(func() {
		if err := s.cache.Subscribe(s.appCtx); err != nil {
			logger.ErrorWithErr(s.appCtx, "Watchlist subscription failed", err)
		}
	})

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "authentication successful"})
}

func (s *Server) handleTrade(c *gin.Context) {
	var ins types.TradeInstruction
	if err := c.ShouldBindJSON(&ins); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("invalid trade instruction: %v", err)))
		return
	}

	if !s.session.IsValid() {
		c.JSON(http.StatusUnauthorized, errorResponse("authentication token invalid or expired"))
		return
	}

	ctx := c.Request.Context()

	// The instruction is a local copy: the synthetic symbol is resolved in
	// place and the rewritten instruction proceeds to execution.
	if ins.Symbol == bestPerformerSymbol {
		symbol, err := s.resolveBestPerformer(c, ins)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("failed to rank best performer: %v", err)))
			return
		}
		logger.Info(ctx, "Best performer resolved for trade", "symbol", symbol)
		ins.Symbol = symbol
	}

	orderID, err := s.exec.Execute(ctx, ins)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("failed to execute order: %v", err)))
		return
	}

	c.JSON(http.StatusOK, s.tradeResult(c, ins, orderID))
}

func (s *Server) resolveBestPerformer(c *gin.Context, ins types.TradeInstruction) (string, error) {
	window := time.Duration(s.cfg.Rank.DefaultTimeframeSeconds) * time.Second
	if ins.Timeframe != nil {
		window = time.Duration(*ins.Timeframe) * time.Second
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.Rank.TimeoutSeconds)*time.Second)
	defer cancel()
	return s.ranker.BestPerformer(ctx, window)
}

func (s *Server) tradeResult(c *gin.Context, ins types.TradeInstruction, orderID string) types.TradeResult {
	result := types.TradeResult{
		OrderID:   orderID,
		Status:    "success",
		Symbol:    ins.Symbol,
		Quantity:  ins.Quantity,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if ins.Action == types.ActionCancel {
		result.Message = fmt.Sprintf("order %s cancelled", orderID)
		return result
	}

	result.Message = fmt.Sprintf("order placed for %s", ins.Symbol)
	if ins.LimitPrice != nil {
		result.Price = *ins.LimitPrice
	} else if price, err := s.cache.GetPrice(c.Request.Context(), ins.Symbol); err == nil {
		result.Price = price
	}
	return result
}

// handlePostback is an observation-only sink for brokerage order-status
// events: log and acknowledge, nothing persisted.
func (s *Server) handlePostback(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("unreadable postback body"))
		return
	}

	var event map[string]any
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn(ctx, "Postback with non-object payload", "bytes", len(body))
	} else {
		logger.Info(ctx, "Order postback received",
			"order_id", event["order_id"],
			"status", event["status"],
			"fields", len(event),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "postback received"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"service":       "trade-gateway",
		"session_valid": s.session.IsValid(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}
