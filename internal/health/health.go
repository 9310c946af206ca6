package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StateConnected     = "connected"
	StateDisconnected  = "disconnected"
	StateNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service     string `json:"service"`
	Database    string `json:"database"`
	NATS        string `json:"nats"`
	Redis       string `json:"redis"`
	Connections int    `json:"connections"`
}

// Healthy 已配置的依赖是否全部可用
func (s *Status) Healthy() bool {
	for _, state := range []string{s.Database, s.NATS, s.Redis} {
		if state == StateDisconnected {
			return false
		}
	}
	return true
}

// ConnectionCounter 连接计数器接口
type ConnectionCounter interface {
	Count() int
}

// Pinger 数据库连通性检查，pgxpool.Pool 满足该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker 健康检查器
type Checker struct {
	db          Pinger
	nc          *nats.Conn
	redisClient redis.UniversalClient
	connCounter ConnectionCounter
	timeout     time.Duration
}

// NewChecker 创建健康检查器，未启用的依赖传 nil
func NewChecker(db Pinger, nc *nats.Conn, redisClient redis.UniversalClient, connCounter ConnectionCounter) *Checker {
	return &Checker{
		db:          db,
		nc:          nc,
		redisClient: redisClient,
		connCounter: connCounter,
		timeout:     2 * time.Second,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service:  "chat",
		Database: StateNotConfigured,
		NATS:     StateNotConfigured,
		Redis:    StateNotConfigured,
	}

	if h.db != nil {
		status.Database = h.ping(ctx, h.db.Ping)
	}

	if h.nc != nil {
		if h.nc.IsConnected() {
			status.NATS = StateConnected
		} else {
			status.NATS = StateDisconnected
		}
	}

	if h.redisClient != nil {
		status.Redis = h.ping(ctx, func(ctx context.Context) error {
			return h.redisClient.Ping(ctx).Err()
		})
	}

	if h.connCounter != nil {
		status.Connections = h.connCounter.Count()
	}

	return status
}

func (h *Checker) ping(ctx context.Context, fn func(context.Context) error) string {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := fn(pingCtx); err != nil {
		return StateDisconnected
	}
	return StateConnected
}

// Live 存活探针，进程能响应即返回 200
// GET /health
func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, h.Check(c.Request.Context()))
}

// Ready 就绪探针，任一已配置依赖不可用时返回 503
// GET /ready
func (h *Checker) Ready(c *gin.Context) {
	status := h.Check(c.Request.Context())

	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
