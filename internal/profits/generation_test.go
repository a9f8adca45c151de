package profits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewSessionsCancelSupersededGeneration(t *testing.T) {
	sessions := NewViewSessions()
	ctx := context.Background()

	firstCtx, first := sessions.Begin(ctx, "company")
	require.True(t, first.Current())

	secondCtx, second := sessions.Begin(ctx, "company")
	require.ErrorIs(t, firstCtx.Err(), context.Canceled)
	require.NoError(t, secondCtx.Err())
	require.False(t, first.Current())
	require.True(t, second.Current())

	first.Finish()
	require.True(t, second.Current(), "finishing a stale ticket keeps the newer one")

	second.Finish()
	require.ErrorIs(t, secondCtx.Err(), context.Canceled)
	require.Empty(t, sessions.views)
}

func TestViewSessionsAreIndependentPerView(t *testing.T) {
	sessions := NewViewSessions()
	ctx := context.Background()

	aCtx, a := sessions.Begin(ctx, "branch:Pcim")
	_, b := sessions.Begin(ctx, "representative:Jan Kowalski")
	require.NoError(t, aCtx.Err())
	require.True(t, a.Current())
	require.True(t, b.Current())
	a.Finish()
	b.Finish()
}
