package api

import (
	"net/http"

	"yuhwa-talk/server/internal/config"
	"yuhwa-talk/server/internal/gateway"
	"yuhwa-talk/server/internal/orchestrator"
	"yuhwa-talk/server/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server HTTP 入口。
// 对话主通道走 /ws 的 WebSocket；REST 只承担健康检查、状态查询、
// 回合日志回放和调试指令（渲染端重连后用这些接口对齐状态）。
type Server struct {
	config   *config.Config
	loop     *orchestrator.Loop
	gateway  *gateway.Gateway
	timeline timeline.Store
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, loop *orchestrator.Loop, gw *gateway.Gateway, tl timeline.Store) *Server {
	return &Server{
		config:   cfg,
		loop:     loop,
		gateway:  gw,
		timeline: tl,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 渲染端是本机桌面客户端，只放行本地来源
				origin := r.Header.Get("Origin")
				return origin == "" ||
					origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173"
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/ws", s.handleWS)
	engine.GET("/api/status", s.handleStatus)
	engine.GET("/api/timeline", s.handleTimeline)
	engine.POST("/api/submit", s.handleSubmit)
	engine.POST("/api/skip", s.handleSkip)
	engine.POST("/api/reset", s.handleReset)
	engine.POST("/api/debug/affect", s.handleDebugAffect)
	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWS 升级到 WebSocket 并把连接交给网关，阻塞到连接关闭。
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.gateway.Attach(conn)
}

// handleStatus 返回当前情感数值快照。
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.loop.Status())
}

// handleTimeline 返回本会话的全量回合日志，按 seq 顺序。
func (s *Server) handleTimeline(c *gin.Context) {
	events, err := s.timeline.List(c.Request.Context(), s.config.Session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list timeline failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.config.Session.ID, "events": events})
}

type submitRequest struct {
	Text string `json:"text"`
}

// handleSubmit WebSocket 之外的提交通道。空文本同样触发录音回合。
func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.loop.Submit(req.Text)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handleSkip(c *gin.Context) {
	s.loop.Skip()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// handleReset 重置会话情感数值并回到待机。
func (s *Server) handleReset(c *gin.Context) {
	s.loop.Reset()
	c.JSON(http.StatusOK, s.loop.Status())
}

type debugAffectRequest struct {
	Sanity     *int `json:"sanity"`
	Likability *int `json:"likability"`
}

// handleDebugAffect 调试指令：强制设定精神值/好感度（对应原型的
// set_san/set_likability 作弊口令）。两项都带时先精神值后好感度。
func (s *Server) handleDebugAffect(c *gin.Context) {
	var req debugAffectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Sanity == nil && req.Likability == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sanity or likability required"})
		return
	}

	if req.Sanity != nil {
		s.loop.SetSanity(*req.Sanity)
	}
	if req.Likability != nil {
		s.loop.SetLikability(*req.Likability)
	}
	c.JSON(http.StatusOK, s.loop.Status())
}
