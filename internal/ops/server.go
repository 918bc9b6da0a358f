package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opentrade/opentrade/internal/audit"
	"github.com/opentrade/opentrade/internal/domain"
	"github.com/opentrade/opentrade/internal/events"
	"github.com/opentrade/opentrade/internal/risk"
	"github.com/opentrade/opentrade/pkg/logger"
)

// Server 运维接口
//
// 账户冻结和系统熔断只认手动解除，这里就是那只手：
// 运维通过 HTTP 接口查看状态、紧急停止、确认后恢复。
type Server struct {
	breaker *risk.Breaker
	book    *domain.PositionBook
	bus     *events.Bus
	auditDB *audit.Log
	log     *logrus.Entry
	srv     *http.Server
}

// NewServer 创建运维服务
func NewServer(breaker *risk.Breaker, book *domain.PositionBook, bus *events.Bus, auditDB *audit.Log) *Server {
	return &Server{
		breaker: breaker,
		book:    book,
		bus:     bus,
		auditDB: auditDB,
		log:     logger.WithField("module", "ops"),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.handleStatus)
	r.GET("/events", s.handleEvents)
	r.GET("/audit", s.handleAudit)
	r.POST("/halt", s.handleHalt)
	r.POST("/halt/lift", s.handleLiftHalt)
	r.POST("/unfreeze", s.handleUnfreeze)
	r.POST("/strategies/:id/resume", s.handleResumeStrategy)
	return r
}

// Start 启动监听（非阻塞）
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router()}
	s.log.Infof("🛠️ 运维服务监听 %s", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("运维服务异常退出: %v", err)
		}
	}()
	return nil
}

// Stop 优雅停止
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.book.State()
	c.JSON(http.StatusOK, gin.H{
		"tier":        s.breaker.Tier(),
		"halt_reason": s.breaker.HaltReason(),
		"account": gin.H{
			"equity":         state.Equity,
			"exposure":       state.Exposure,
			"open_positions": state.OpenPositions,
			"daily_pnl":      state.DailyRealizedPnL,
			"unrealized_pnl": state.UnrealizedPnL,
		},
		"time": time.Now(),
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.bus.Recent(100)})
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.auditDB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计库未启用"})
		return
	}
	entries, err := s.auditDB.Recent(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type haltRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHalt(c *gin.Context) {
	var req haltRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "运维手动触发"
	}
	s.breaker.Halt(req.Reason)
	s.log.Warnf("🚨 运维触发系统熔断: %s", req.Reason)
	c.JSON(http.StatusOK, gin.H{"tier": s.breaker.Tier()})
}

func (s *Server) handleLiftHalt(c *gin.Context) {
	if err := s.breaker.LiftHalt(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": s.breaker.Tier()})
}

func (s *Server) handleUnfreeze(c *gin.Context) {
	if err := s.breaker.Unfreeze(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": s.breaker.Tier()})
}

func (s *Server) handleResumeStrategy(c *gin.Context) {
	id := c.Param("id")
	s.breaker.ResumeStrategy(id)
	c.JSON(http.StatusOK, gin.H{"strategy": id, "tier": s.breaker.Tier()})
}
