package actors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
)

type mockRoleStore struct {
	mock.Mock
}

func (m *mockRoleStore) ActorRole(ctx context.Context, workspaceID, email string) (string, error) {
	args := m.Called(ctx, workspaceID, email)
	return args.String(0), args.Error(1)
}

func (m *mockRoleStore) SetActorRole(ctx context.Context, workspaceID, email, role string) error {
	return m.Called(ctx, workspaceID, email, role).Error(0)
}

func newCache(t *testing.T, size int) *LRU[string, model.ActorRole] {
	t.Helper()
	c, err := NewLRU[string, model.ActorRole](size)
	require.NoError(t, err)
	return c
}

func TestLRU_Bounded(t *testing.T) {
	c := newCache(t, 2)
	c.Set("a", model.RoleCustomer)
	c.Set("b", model.RoleInternal)
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", model.RoleUnknown)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, model.RoleCustomer, got)

	c.Evict("a")
	assert.Equal(t, 1, c.Len())
}

func TestNewLRU_InvalidSize(t *testing.T) {
	_, err := NewLRU[string, int](0)
	assert.Error(t, err)
}

func TestDirectory_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		email  string
		stored string
		want   model.ActorRole
	}{
		{name: "explicit assignment wins", email: "ops@acme.io", stored: "customer", want: model.RoleCustomer},
		{name: "internal domain", email: "Dev@Acme.io", want: model.RoleInternal},
		{name: "internal subdomain", email: "sam@eu.acme.io", want: model.RoleInternal},
		{name: "external domain", email: "buyer@client.com", want: model.RoleCustomer},
		{name: "malformed address", email: "nobody", want: model.RoleUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := new(mockRoleStore)
			st.On("ActorRole", ctx, "ws1", mock.Anything).Return(tt.stored, nil).Once()

			d := NewDirectory(st, newCache(t, 8), []string{"@acme.io"})
			got, err := d.Resolve(ctx, "ws1", tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// Second lookup is served from the cache.
			got, err = d.Resolve(ctx, "ws1", tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			st.AssertNumberOfCalls(t, "ActorRole", 1)
		})
	}
}

func TestDirectory_EmptyEmailSkipsStore(t *testing.T) {
	st := new(mockRoleStore)
	d := NewDirectory(st, nil, nil)

	got, err := d.Resolve(context.Background(), "ws1", "  ")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUnknown, got)
	st.AssertNotCalled(t, "ActorRole", mock.Anything, mock.Anything, mock.Anything)
}

func TestDirectory_StoreError(t *testing.T) {
	st := new(mockRoleStore)
	st.On("ActorRole", mock.Anything, "ws1", "a@b.com").Return("", errors.New("db down"))

	cache := newCache(t, 4)
	d := NewDirectory(st, cache, nil)
	_, err := d.Resolve(context.Background(), "ws1", "a@b.com")
	require.Error(t, err)
	assert.Zero(t, cache.Len(), "failures are not cached")
}

func TestDirectory_AssignEvicts(t *testing.T) {
	ctx := context.Background()
	st := new(mockRoleStore)
	st.On("ActorRole", ctx, "ws1", "pat@client.com").Return("", nil).Once()
	st.On("SetActorRole", ctx, "ws1", "pat@client.com", "internal").Return(nil).Once()
	st.On("ActorRole", ctx, "ws1", "pat@client.com").Return("internal", nil).Once()

	d := NewDirectory(st, newCache(t, 4), nil)
	got, err := d.Resolve(ctx, "ws1", "pat@client.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleCustomer, got)

	require.NoError(t, d.Assign(ctx, "ws1", "Pat@Client.com", model.RoleInternal))

	got, err = d.Resolve(ctx, "ws1", "pat@client.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleInternal, got)
	st.AssertExpectations(t)
}
