package main

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AppServer HTTP 应用服务器，是核心与 UI 上下文之间的消息中继：
// 命令走请求/响应，事件走 SSE 单向推送（fire-and-forget）。
type AppServer struct {
	service *RadarService
	router  *gin.Engine
}

// NewAppServer 创建应用服务器并注册路由。
func NewAppServer(service *RadarService) *AppServer {
	gin.SetMode(gin.ReleaseMode)

	s := &AppServer{
		service: service,
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Start 启动 HTTP 服务。
func (s *AppServer) Start(addr string) error {
	logrus.WithField("addr", addr).Info("starting unfollow-radar server")
	return s.router.Run(addr)
}

func (s *AppServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
	})

	s.router.GET("/metrics", gin.WrapH(s.service.Metrics().Handler()))

	api := s.router.Group("/api/v1")

	cmd := api.Group("/command")
	cmd.POST("/start", s.handleStart)
	cmd.POST("/stop", s.handleStop)
	cmd.POST("/continue_test", s.handleContinueTest)
	cmd.POST("/get_status", s.handleGetStatus)
	cmd.POST("/update_keywords", s.handleUpdateKeywords)
	cmd.POST("/update_whitelist", s.handleUpdateWhitelist)
	cmd.POST("/toggle_dry_run", s.handleToggleDryRun)
	cmd.POST("/undo_last", s.handleUndoLast)
	cmd.POST("/undo_single", s.handleUndoSingle)
	cmd.POST("/reset", s.handleReset)
	cmd.POST("/settings", s.handleSettings)

	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)
	api.GET("/history", s.handleHistory)
	api.GET("/history/export", s.handleHistoryExport)
	api.GET("/stats/daily", s.handleDailyStats)
}

// handleStart 处理 START 命令。重复 START 是幂等空操作，仍然返回成功。
func (s *AppServer) handleStart(c *gin.Context) {
	logrus.Info("command: START")

	if err := s.service.StartUnfollow(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleStop(c *gin.Context) {
	logrus.Info("command: STOP")

	s.service.StopUnfollow()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleContinueTest(c *gin.Context) {
	logrus.Info("command: CONTINUE_TEST")

	s.service.ContinueTest(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.service.GetStatus()})
}

func (s *AppServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.GetStatus())
}

func (s *AppServer) handleUpdateKeywords(c *gin.Context) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	logrus.WithField("count", len(req.Keywords)).Info("command: UPDATE_KEYWORDS")
	s.service.UpdateKeywords(req.Keywords)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleUpdateWhitelist(c *gin.Context) {
	var req struct {
		Whitelist []string `json:"whitelist"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	logrus.WithField("count", len(req.Whitelist)).Info("command: UPDATE_WHITELIST")
	s.service.UpdateWhitelist(req.Whitelist)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleToggleDryRun(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	logrus.WithField("enabled", req.Enabled).Info("command: TOGGLE_DRY_RUN")
	s.service.ToggleDryRun(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleUndoLast(c *gin.Context) {
	logrus.Info("command: UNDO_LAST")

	result, err := s.service.UndoLast(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"username":   result.Username,
		"refollowed": result.Refollowed,
	})
}

func (s *AppServer) handleUndoSingle(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	logrus.WithField("username", req.Username).Info("command: UNDO_SINGLE")

	result, err := s.service.UndoSingle(c.Request.Context(), req.Username)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}

	resp := gin.H{
		"success":    true,
		"username":   result.Username,
		"refollowed": result.Refollowed,
	}
	if !result.Tracked {
		// 条目已被撤销队列淘汰，回关仍已尽力执行
		resp["message"] = "refollowed (not in queue)"
	}
	c.JSON(http.StatusOK, resp)
}

// handleReset 归零会话计数、累计总量与撤销队列。确认交互在 UI 侧完成。
func (s *AppServer) handleReset(c *gin.Context) {
	logrus.Info("command: RESET")

	s.service.ResetCounters()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *AppServer) handleSettings(c *gin.Context) {
	var req struct {
		Theme    string `json:"theme"`
		Language string `json:"language"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request: " + err.Error()})
		return
	}

	s.service.UpdateSettings(req.Theme, req.Language)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleEvents SSE 事件流。核心发出的事件原样推给订阅方，
// 订阅方不在线时事件直接丢弃，不做回放。
func (s *AppServer) handleEvents(c *gin.Context) {
	ch, cancel := s.service.Bus().Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *AppServer) handleHistory(c *gin.Context) {
	history, err := s.service.History()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": history})
}

func (s *AppServer) handleHistoryExport(c *gin.Context) {
	data, err := s.service.HistoryCSV()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	filename := "unfollow-radar-history-" + time.Now().Format("20060102-150405") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func (s *AppServer) handleDailyStats(c *gin.Context) {
	stats, err := s.service.DailyStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "daily": stats})
}
