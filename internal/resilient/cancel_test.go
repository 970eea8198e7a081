package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type ctxKey string

func TestAny_FiresWhenEitherParentFires(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	b, cancelB := context.WithCancelCause(context.Background())

	ctx, stop := Any(a, b)
	defer stop()

	assert.NoError(t, ctx.Err())

	reason := errors.New("request timeout")
	cancelB(reason)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled")
	}
	assert.ErrorIs(t, context.Cause(ctx), reason)
}

func TestAny_AlreadyDoneParent(t *testing.T) {
	done, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, stop := Any(context.Background(), done)
	defer stop()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestAny_KeepsValuesOfFirstParent(t *testing.T) {
	first := context.WithValue(context.Background(), ctxKey("request_id"), "abc")

	ctx, stop := Any(first, context.Background())
	defer stop()

	assert.Equal(t, "abc", ctx.Value(ctxKey("request_id")))
}

func TestAny_StopReleases(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, stop := Any(parent)
	stop()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	// parent stays untouched
	assert.NoError(t, parent.Err())
}

func TestAny_NoParents(t *testing.T) {
	ctx, stop := Any()
	assert.NoError(t, ctx.Err())
	stop()
	assert.Error(t, ctx.Err())
}
