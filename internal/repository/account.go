package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chat/internal/model"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountRepository 个人与组织账号的只读查询
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository 创建账号仓库
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// UserExists 个人账号是否存在
func (r *AccountRepository) UserExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// OrganizationExists 组织账号是否存在
func (r *AccountRepository) OrganizationExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// scanProfile 查询列: id, kind, name, profile_image, userid, rank
// rank 0 为个人账号，两个空间同时命中时个人账号优先
func scanProfile(row pgx.Row) (*model.AccountProfile, error) {
	var (
		p    model.AccountProfile
		kind string
		rank int
	)
	if err := row.Scan(&p.ID, &kind, &p.Name, &p.ProfileImage, &p.Handle, &rank); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	p.Kind = model.AccountKind(kind)
	return &p, nil
}

// Profile 根据账号 ID 获取公开资料
func (r *AccountRepository) Profile(ctx context.Context, id string) (*model.AccountProfile, error) {
	query := `
		SELECT id, 'user', name, profile_image, userid, 0 FROM users WHERE id = $1
		UNION ALL
		SELECT id, 'organization', name, profile_image, userid, 1 FROM organizations WHERE id = $1
		ORDER BY 6 LIMIT 1`
	return scanProfile(r.db.QueryRow(ctx, query, id))
}

// ProfileByHandle 根据 userid 获取公开资料
func (r *AccountRepository) ProfileByHandle(ctx context.Context, handle string) (*model.AccountProfile, error) {
	query := `
		SELECT id, 'user', name, profile_image, userid, 0 FROM users WHERE userid = $1
		UNION ALL
		SELECT id, 'organization', name, profile_image, userid, 1 FROM organizations WHERE userid = $1
		ORDER BY 6 LIMIT 1`
	return scanProfile(r.db.QueryRow(ctx, query, handle))
}

// Profiles 批量获取公开资料，缺失的 ID 不出现在结果中
func (r *AccountRepository) Profiles(ctx context.Context, ids []string) (map[string]model.AccountProfile, error) {
	result := make(map[string]model.AccountProfile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, 'user', name, profile_image, userid, 0 FROM users WHERE id = ANY($1)
		UNION ALL
		SELECT id, 'organization', name, profile_image, userid, 1 FROM organizations WHERE id = ANY($1)
		ORDER BY 6 DESC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// 组织在前，个人账号后写覆盖
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = *p
	}
	return result, rows.Err()
}
