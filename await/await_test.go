package await

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martinohmann/eventual"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func awaitWithTimeout(t *testing.T, p eventual.Promise, timeout time.Duration) (eventual.Value, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return Wrap(p).Await(ctx)
}

func TestWrap_Idempotent(t *testing.T) {
	p := Wrap(eventual.Resolve(42))

	require.Same(t, p, Wrap(p))
}

func TestAwait_Settled(t *testing.T) {
	val, err := awaitWithTimeout(t, eventual.Resolve(42), time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestAwait_Rejected(t *testing.T) {
	boom := errors.New("boom")

	_, err := awaitWithTimeout(t, eventual.Reject(boom), time.Second)
	require.ErrorIs(t, err, boom)
}

func TestAwait_DrivesProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		if _, err := yield("informational marker"); err != nil {
			return err
		}

		resolve("done")

		return nil
	})

	val, err := awaitWithTimeout(t, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", val)
}

func TestAwait_AwaitsYieldedAwaitables(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetch := AwaitableFunc(func(ctx context.Context) (eventual.Value, error) {
		return 21, nil
	})

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		val, err := yield(fetch)
		if err != nil {
			return err
		}

		resolve(val.(int) * 2)

		return nil
	})

	val, err := awaitWithTimeout(t, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestAwait_AwaitsYieldedPromises(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := eventual.New(func(resolve eventual.ResolveFunc, _ eventual.RejectFunc) {
		resolve("inner")
	})

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		val, err := yield(inner)
		if err != nil {
			return err
		}

		resolve(val)

		return nil
	})

	val, err := awaitWithTimeout(t, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, "inner", val)
}

func TestAwait_FailedAwaitableHandled(t *testing.T) {
	defer goleak.VerifyNone(t)

	failing := AwaitableFunc(func(ctx context.Context) (eventual.Value, error) {
		return nil, errors.New("boom")
	})

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		if _, err := yield(failing); err != nil {
			resolve("recovered: " + err.Error())
			return nil
		}

		resolve("not reached")

		return nil
	})

	val, err := awaitWithTimeout(t, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, "recovered: boom", val)
}

func TestAwait_FailedAwaitableRejects(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")

	failing := AwaitableFunc(func(ctx context.Context) (eventual.Value, error) {
		return nil, boom
	})

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		val, err := yield(failing)
		if err != nil {
			return err
		}

		resolve(val)

		return nil
	})

	_, err := awaitWithTimeout(t, p, time.Second)
	require.ErrorIs(t, err, boom)
}

func TestAwait_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	defer close(release)

	p := eventual.New(func(resolve eventual.ResolveFunc, _ eventual.RejectFunc) {
		<-release
		resolve("late")
	})

	_, err := awaitWithTimeout(t, p, 25*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwait_NotSettled(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := eventual.New(func(_ eventual.ResolveFunc, _ eventual.RejectFunc) {})

	_, err := awaitWithTimeout(t, p, time.Second)
	require.ErrorIs(t, err, eventual.ErrNotSettled)
}

func TestSleep(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, resolve eventual.ResolveFunc, _ eventual.RejectFunc) error {
		if _, err := yield(Sleep(10 * time.Millisecond)); err != nil {
			return err
		}

		resolve("rested")

		return nil
	})

	val, err := awaitWithTimeout(t, p, time.Second)
	require.NoError(t, err)
	require.Equal(t, "rested", val)
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Sleep(time.Minute).Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_Clean(t *testing.T) {
	defer goleak.VerifyNone(t)

	var flushed bool

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, _ eventual.ResolveFunc, _ eventual.RejectFunc) error {
		for {
			_, err := yield(nil)
			if err == nil {
				continue
			}

			if errors.Is(err, eventual.ErrClosing) {
				// Teardown may wait on one last awaitable.
				if _, err := yield(Sleep(time.Millisecond)); err != nil && !errors.Is(err, eventual.ErrClosing) {
					return err
				}

				flushed = true
			}

			return eventual.ErrClosing
		}
	})

	_, ok := p.Next()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, Wrap(p).Shutdown(ctx))
	require.True(t, flushed)
	require.True(t, p.IsPending())
}

func TestShutdown_Unstarted(t *testing.T) {
	started := false

	p := eventual.New(func(resolve eventual.ResolveFunc, _ eventual.RejectFunc) {
		started = true
		resolve(nil)
	})

	require.NoError(t, Wrap(p).Shutdown(context.Background()))
	require.False(t, started)
}

func TestShutdown_Settled(t *testing.T) {
	require.NoError(t, Wrap(eventual.Resolve(42)).Shutdown(context.Background()))
}

func TestShutdown_Improper(t *testing.T) {
	defer goleak.VerifyNone(t)

	yields := 0

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, _ eventual.ResolveFunc, _ eventual.RejectFunc) error {
		for yields < 3 {
			yields++
			yield(nil)
		}

		return eventual.ErrClosing
	})

	_, ok := p.Next()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.ErrorIs(t, Wrap(p).Shutdown(ctx), eventual.ErrImproperClose)
	require.Equal(t, 3, yields)
	require.True(t, p.IsPending())
}

func TestShutdown_CloseIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	ignored := 0

	p := eventual.NewGenerator(func(yield eventual.YieldFunc, _ eventual.ResolveFunc, _ eventual.RejectFunc) error {
		for ignored < 5 {
			if _, err := yield(nil); err != nil {
				ignored++
			}
		}

		return eventual.ErrClosing
	})

	_, ok := p.Next()
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Wrap(p).Shutdown(ctx), eventual.ErrCloseIgnored)
	require.True(t, p.IsPending())

	// Wind the parked producer down so it does not outlive the test.
	for {
		if _, ok := p.Throw(eventual.ErrClosing); !ok {
			break
		}
	}
}
