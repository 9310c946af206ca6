package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chat/internal/model"
)

type fakeChecker struct {
	users     map[string]bool
	orgs      map[string]bool
	userCalls int
	orgCalls  int
	err       error
}

func (f *fakeChecker) UserExists(_ context.Context, id string) (bool, error) {
	f.userCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.users[id], nil
}

func (f *fakeChecker) OrganizationExists(_ context.Context, id string) (bool, error) {
	f.orgCalls++
	return f.orgs[id], nil
}

func TestResolveKindOrder(t *testing.T) {
	checker := &fakeChecker{
		users: map[string]bool{"u1": true, "both": true},
		orgs:  map[string]bool{"o1": true, "both": true},
	}
	r, err := NewResolver(checker, 0)
	require.NoError(t, err)
	ctx := context.Background()

	kind, err := r.ResolveKind(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindIndividual, kind)

	kind, err = r.ResolveKind(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindOrganization, kind)

	// 个人账号优先
	kind, err = r.ResolveKind(ctx, "both")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindIndividual, kind)

	kind, err = r.ResolveKind(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindNone, kind)
}

func TestResolveKindCachesHitsOnly(t *testing.T) {
	checker := &fakeChecker{users: map[string]bool{"u1": true}}
	r, err := NewResolver(checker, 16)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.ResolveKind(ctx, "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, checker.userCalls)

	for i := 0; i < 2; i++ {
		_, err := r.ResolveKind(ctx, "ghost")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, checker.userCalls)
	assert.Equal(t, 2, checker.orgCalls)

	r.Forget("u1")
	_, err = r.ResolveKind(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, checker.userCalls)
}

func TestResolveKindError(t *testing.T) {
	checker := &fakeChecker{err: errors.New("db down")}
	r, err := NewResolver(checker, 16)
	require.NoError(t, err)

	kind, err := r.ResolveKind(context.Background(), "u1")
	assert.Error(t, err)
	assert.Equal(t, model.AccountKindNone, kind)
	assert.Equal(t, 0, checker.orgCalls)
}
