package presence

import (
	"context"
	"time"
)

// Registry 在线状态注册表
// 每个用户至多一个会话，后连接的覆盖先连接的
type Registry interface {
	Open(ctx context.Context) error
	Close() error

	// Connect 登记 userId -> sessionId，重复登记幂等
	Connect(ctx context.Context, userID, sessionID string) error
	// Disconnect 按会话移除在线记录和当前会话标记
	// 返回被下线的用户；会话已被新连接替换时返回空串
	Disconnect(ctx context.Context, sessionID string) (string, error)
	// SignOff 用户主动下线
	SignOff(ctx context.Context, userID string) error

	SessionOf(ctx context.Context, userID string) (string, bool, error)
	// IsOnline 查询失败按离线处理
	IsOnline(ctx context.Context, userID string) bool

	SetActiveChat(ctx context.Context, userID, peerID string) error
	ClearActiveChat(ctx context.Context, userID string) error
	ActiveChat(ctx context.Context, userID string) (string, bool, error)
	// IsActivelyViewing 判断 userID 当前是否打开了与 peerID 的会话，查询失败返回 false
	IsActivelyViewing(ctx context.Context, userID, peerID string) bool

	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}
