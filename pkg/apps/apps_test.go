package apps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/store"
)

func recorder(tag string, calls *[]string, fail error) *Funcs {
	return &Funcs{
		OnBefore: func(context.Context, engine.Session, store.Store) error {
			*calls = append(*calls, tag+".before")
			return fail
		},
		OnAfter: func(context.Context, engine.Session, store.Store) error {
			*calls = append(*calls, tag+".after")
			return fail
		},
		OnRemove: func(_ context.Context, name string) error {
			*calls = append(*calls, tag+".remove."+name)
			return fail
		},
		OnMigrate: func(context.Context, store.Store) error {
			*calls = append(*calls, tag+".migrate")
			return fail
		},
	}
}

func TestChain_RunsInOrder(t *testing.T) {
	ctx := context.Background()
	var calls []string
	c := Chain{recorder("a", &calls, nil), recorder("b", &calls, nil)}

	require.NoError(t, c.Migrate(ctx, &store.Memory{}))
	require.NoError(t, c.BeforeSessionStart(ctx, nil, nil))
	require.NoError(t, c.AfterSessionStart(ctx, nil, nil))
	require.NoError(t, c.RemoveBySession(ctx, "s"))

	assert.Equal(t, []string{
		"a.migrate", "b.migrate",
		"a.before", "b.before",
		"a.after", "b.after",
		"a.remove.s", "b.remove.s",
	}, calls)
}

func TestChain_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	c := Chain{recorder("a", &calls, boom), recorder("b", &calls, nil)}

	err := c.BeforeSessionStart(context.Background(), nil, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a.before"}, calls)
}

func TestNopAndEmptyFuncs(t *testing.T) {
	ctx := context.Background()
	for _, a := range []Apps{Nop{}, &Funcs{}, Chain(nil)} {
		assert.NoError(t, a.BeforeSessionStart(ctx, nil, nil))
		assert.NoError(t, a.AfterSessionStart(ctx, nil, nil))
		assert.NoError(t, a.RemoveBySession(ctx, "s"))
		assert.NoError(t, a.Migrate(ctx, nil))
	}
}
