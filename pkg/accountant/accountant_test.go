package accountant

import (
	"context"
	"testing"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	users map[string]gwtypes.UserState
}

func (m *memStore) LoadUser(ctx context.Context, userID string) (gwtypes.UserState, error) {
	return m.users[userID], nil
}

func (m *memStore) SaveUser(ctx context.Context, user gwtypes.UserState) error {
	m.users[user.UserID] = user
	return nil
}

func TestCheckAllowsWithinBudget(t *testing.T) {
	store := &memStore{users: map[string]gwtypes.UserState{
		"u1": {UserID: "u1", WeeklyTokenBudget: 1000},
	}}
	a := New(nil, store)
	require.NoError(t, a.Check(context.Background(), "u1", 500))
}

func TestCheckDeniesOverBudget(t *testing.T) {
	store := &memStore{users: map[string]gwtypes.UserState{
		"u1": {UserID: "u1", WeeklyTokenBudget: 100, ConsumedThisWeek: 90},
	}}
	a := New(nil, store)
	err := a.Check(context.Background(), "u1", 50)
	require.ErrorIs(t, err, gwtypes.ErrBudgetExceeded)
}

func TestAddUpdatesConsumption(t *testing.T) {
	store := &memStore{users: map[string]gwtypes.UserState{
		"u1": {UserID: "u1", WeeklyTokenBudget: 1000},
	}}
	a := New(nil, store)
	require.NoError(t, a.Add(context.Background(), "u1", 200))
	require.Equal(t, int64(200), store.users["u1"].ConsumedThisWeek)
}
