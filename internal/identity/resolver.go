package identity

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"sudooom.im.chat/internal/model"
)

// Checker 账号存在性查询
type Checker interface {
	UserExists(ctx context.Context, id string) (bool, error)
	OrganizationExists(ctx context.Context, id string) (bool, error)
}

// Resolver 判定参与者账号类型
// 先查个人账号再查组织账号，命中结果缓存，未命中不缓存
type Resolver struct {
	checker Checker
	cache   *lru.Cache
	logger  *slog.Logger
}

// NewResolver 创建账号类型解析器，cacheSize <= 0 时不缓存
func NewResolver(checker Checker, cacheSize int) (*Resolver, error) {
	r := &Resolver{
		checker: checker,
		logger:  slog.Default(),
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create identity cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// ResolveKind 返回账号类型，都不存在时返回 AccountKindNone
func (r *Resolver) ResolveKind(ctx context.Context, id string) (model.AccountKind, error) {
	if id == "" {
		return model.AccountKindNone, nil
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(id); ok {
			return v.(model.AccountKind), nil
		}
	}

	kind, err := r.lookup(ctx, id)
	if err != nil {
		return model.AccountKindNone, err
	}
	if kind != model.AccountKindNone && r.cache != nil {
		r.cache.Add(id, kind)
	}
	return kind, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (model.AccountKind, error) {
	ok, err := r.checker.UserExists(ctx, id)
	if err != nil {
		return model.AccountKindNone, fmt.Errorf("check user %s: %w", id, err)
	}
	if ok {
		return model.AccountKindIndividual, nil
	}

	ok, err = r.checker.OrganizationExists(ctx, id)
	if err != nil {
		return model.AccountKindNone, fmt.Errorf("check organization %s: %w", id, err)
	}
	if ok {
		return model.AccountKindOrganization, nil
	}

	r.logger.Debug("account kind not resolved", "id", id)
	return model.AccountKindNone, nil
}

// Forget 清除缓存的账号类型（账号删除后调用）
func (r *Resolver) Forget(id string) {
	if r.cache != nil {
		r.cache.Remove(id)
	}
}
