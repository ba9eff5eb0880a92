package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"bookbridge/pkg/db"
	"bookbridge/pkg/metaapi"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type assignBookRequest struct {
	BookType string `json:"bookType" binding:"required,oneof=A B"`
}

type bulkAssignRequest struct {
	UserIDs  []string `json:"userIds" binding:"required,min=1"`
	BookType string   `json:"bookType" binding:"required,oneof=A B"`
}

type updateSettingsRequest struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
	Region    string `json:"region"`
	Label     string `json:"label"`
	IsActive  *bool  `json:"isActive"`
}

type testConnectionRequest struct {
	Token     string `json:"token" binding:"required,min=1"`
	AccountID string `json:"accountId" binding:"required,min=1"`
	Region    string `json:"region"`
}

type batchPricesRequest struct {
	Symbols []string `json:"symbols" binding:"required,min=1,max=100"`
}

type createTradeRequest struct {
	UserID     string  `json:"userId" binding:"required,min=1"`
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=BUY SELL"`
	Volume     float64 `json:"volume" binding:"gt=0"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// maskToken hides everything but the token tail so the UI can confirm which
// credential is active without ever re-exposing it.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	const visible = 8
	if len(token) <= visible {
		return "••••"
	}
	return "••••" + token[len(token)-visible:]
}

// ----------------------------------------
// System
// ----------------------------------------

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"feed_state":  string(s.Engine.State()),
		"feed_mode":   s.Meta.FeedMode,
		"quote_count": s.Engine.QuoteCount(),
		"version":     s.Meta.Version,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// ----------------------------------------
// Book classification
// ----------------------------------------

func (s *Server) listBookUsers(c *gin.Context) {
	book := strings.ToUpper(strings.TrimSpace(c.Query("book")))
	if book != "" && book != db.BookA && book != db.BookB {
		respondError(c, http.StatusBadRequest, "INVALID_BOOK", "book must be A or B")
		return
	}

	ctx := c.Request.Context()
	users, err := s.DB.ListUsers(ctx, book, c.Query("search"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	stats, err := s.DB.GetBookStats(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"stats": stats,
	})
}

func (s *Server) getBookUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	user, err := s.DB.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		} else {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		}
		return
	}

	trades, err := s.DB.ListTrades(ctx, id, 100)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	open, total, err := s.DB.CountTrades(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"trades":      trades,
		"openTrades":  open,
		"totalTrades": total,
	})
}

func (s *Server) assignBook(c *gin.Context) {
	var req assignBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "bookType must be A or B")
		return
	}

	err := s.DB.AssignBook(c.Request.Context(), c.Param("id"), req.BookType)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		} else {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "bookType": req.BookType})
}

func (s *Server) bulkAssignBook(c *gin.Context) {
	var req bulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "userIds and bookType (A or B) are required")
		return
	}

	if err := s.DB.BulkAssignBook(c.Request.Context(), req.UserIDs, req.BookType); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assigned": len(req.UserIDs),
		"bookType": req.BookType,
	})
}

// ----------------------------------------
// Broker settings
// ----------------------------------------

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.DB.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	token := settings.Token
	if s.Secrets != nil {
		if opened, err := s.Secrets.Unseal(token); err == nil {
			token = opened
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"token":           maskToken(token),
		"hasToken":        token != "",
		"accountId":       settings.AccountID,
		"region":          settings.Region,
		"label":           settings.Label,
		"isActive":        settings.IsActive,
		"lastConnectedAt": settings.LastConnectedAt,
	})
}

func (s *Server) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if req.Region != "" && !metaapi.ValidRegion(req.Region) {
		respondError(c, http.StatusBadRequest, "INVALID_REGION", "unknown region")
		return
	}

	ctx := c.Request.Context()
	current, err := s.DB.GetSettings(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	next := *current
	if req.Token != "" {
		next.Token = req.Token
		if s.Secrets != nil {
			sealed, err := s.Secrets.Seal(req.Token)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "SEAL_ERROR", "failed to protect token")
				return
			}
			next.Token = sealed
		}
	}
	if req.AccountID != "" {
		next.AccountID = req.AccountID
	}
	if req.Region != "" {
		next.Region = req.Region
	}
	if req.Label != "" {
		next.Label = req.Label
	}
	if req.IsActive != nil {
		next.IsActive = *req.IsActive
	}

	if err := s.DB.SaveSettings(ctx, next); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	// New credentials must take effect immediately.
	s.Creds.Invalidate()
	s.Status.Invalidate()

	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (s *Server) deleteSettings(c *gin.Context) {
	if err := s.DB.ClearSettings(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	s.Creds.Invalidate()
	s.Status.Invalidate()

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ----------------------------------------
// Upstream connection
// ----------------------------------------

func (s *Server) testConnection(c *gin.Context) {
	var req testConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "token and accountId are required")
		return
	}
	region := req.Region
	if region == "" {
		region = metaapi.DefaultRegion
	}
	if !metaapi.ValidRegion(region) {
		respondError(c, http.StatusBadRequest, "INVALID_REGION", "unknown region")
		return
	}

	status := s.Pipeline.TestConnection(c.Request.Context(), req.Token, req.AccountID, region)
	c.JSON(http.StatusOK, status)
}

func (s *Server) getBookStatus(c *gin.Context) {
	ctx := c.Request.Context()

	status := s.Status.Get(ctx)
	stats, err := s.DB.GetPushStats(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connection": status,
		"pushStats":  stats,
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions": s.Pipeline.GetPositions(c.Request.Context()),
	})
}

// ----------------------------------------
// Prices
// ----------------------------------------

func (s *Server) listInstruments(c *gin.Context) {
	catalog := s.Engine.Catalog
	symbols := catalog.All()

	instruments := make([]gin.H, 0, len(symbols))
	for _, symbol := range symbols {
		item := gin.H{
			"symbol":   symbol,
			"name":     catalog.DisplayName(symbol),
			"category": string(catalog.Categorize(symbol)),
		}
		if quote, ok := s.Engine.GetQuote(symbol); ok {
			item["quote"] = quote
		}
		instruments = append(instruments, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"feed_state":  string(s.Engine.State()),
		"instruments": instruments,
	})
}

func (s *Server) getPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	quote, ok := s.Engine.GetQuote(symbol)
	if !ok {
		respondError(c, http.StatusNotFound, "NO_QUOTE", "no quote for symbol")
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) batchPrices(c *gin.Context) {
	var req batchPricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbols list is required")
		return
	}

	quotes := make(map[string]any, len(req.Symbols))
	for _, symbol := range req.Symbols {
		symbol = strings.ToUpper(symbol)
		if quote, ok := s.Engine.GetQuote(symbol); ok {
			quotes[symbol] = quote
		} else {
			quotes[symbol] = nil
		}
	}

	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

// ----------------------------------------
// Trades
// ----------------------------------------

func (s *Server) listTrades(c *gin.Context) {
	trades, err := s.DB.ListTrades(c.Request.Context(), c.Query("userId"), 200)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) createTrade(c *gin.Context) {
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid trade payload")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.DB.GetUser(ctx, req.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusBadRequest, "USER_NOT_FOUND", "unknown user")
		} else {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		}
		return
	}

	symbol := strings.ToUpper(req.Symbol)
	var openPrice float64
	if quote, ok := s.Engine.GetQuote(symbol); ok {
		openPrice = quote.Ask
		if req.Side == "SELL" {
			openPrice = quote.Bid
		}
	}

	trade := db.Trade{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Symbol:     symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  openPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     "OPEN",
	}
	if err := s.DB.CreateTrade(ctx, trade); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	// The upstream push must not block trade creation.
	go func(t db.Trade) {
		pushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Pipeline.PushTrade(pushCtx, t); err != nil {
			log.Printf("[api] push for trade %s: %v", t.ID, err)
		}
	}(trade)

	c.JSON(http.StatusCreated, trade)
}

func (s *Server) closeTrade(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	trade, err := s.DB.GetTrade(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "TRADE_NOT_FOUND", "trade not found")
		} else {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		}
		return
	}
	if trade.Status == "CLOSED" {
		respondError(c, http.StatusConflict, "ALREADY_CLOSED", "trade already closed")
		return
	}

	var closePrice float64
	if quote, ok := s.Engine.GetQuote(trade.Symbol); ok {
		closePrice = quote.Bid
		if trade.Side == "SELL" {
			closePrice = quote.Ask
		}
	}

	if err := s.DB.CloseTrade(ctx, id, closePrice); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	go func(t db.Trade) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Pipeline.CloseTrade(closeCtx, t); err != nil {
			log.Printf("[api] close for trade %s: %v", t.ID, err)
		}
	}(*trade)

	c.JSON(http.StatusOK, gin.H{"id": id, "closed": true, "closePrice": closePrice})
}
