package kernel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func TestSafeExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		assert.NoError(t, SafeExecute(testutil.NewRecordingLogger(), "op", func() error { return nil }))
	})

	t.Run("error passes through", func(t *testing.T) {
		want := errors.New("boom")
		assert.Equal(t, want, SafeExecute(testutil.NewRecordingLogger(), "op", func() error { return want }))
	})

	t.Run("panic becomes PanicError", func(t *testing.T) {
		log := testutil.NewRecordingLogger()
		err := SafeExecute(log, "step s1", func() error { panic("kaboom") })

		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "step s1", pe.Operation)
		assert.Equal(t, "kaboom", pe.Value)
		assert.Contains(t, err.Error(), "panic in step s1")
		assert.True(t, log.Has("panic_recovered"))
	})

	t.Run("nil logger", func(t *testing.T) {
		err := SafeExecute(nil, "op", func() error { panic("x") })
		assert.Error(t, err)
	})
}

func TestSafeExecuteWithResult(t *testing.T) {
	log := testutil.NewRecordingLogger()

	v, err := SafeExecuteWithResult(log, "op", func() (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, true, v["ok"])

	v, err = SafeExecuteWithResult(log, "op", func() (map[string]any, error) {
		panic("bad tool")
	})
	assert.Nil(t, v)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)

	n, err := SafeExecuteWithResult(log, "op", func() (int, error) {
		return 0, errors.New("fail")
	})
	assert.Zero(t, n)
	assert.EqualError(t, err, "fail")
}

func TestSafeGo(t *testing.T) {
	t.Run("runs fn", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		ran := false
		SafeGo(nil, "op", func() {
			defer wg.Done()
			ran = true
		}, nil)
		wg.Wait()
		assert.True(t, ran)
	})

	t.Run("panic reaches onPanic", func(t *testing.T) {
		log := testutil.NewRecordingLogger()
		got := make(chan any, 1)
		SafeGo(log, "worker", func() { panic("worker died") }, func(r any) { got <- r })

		select {
		case r := <-got:
			assert.Equal(t, "worker died", r)
		case <-time.After(time.Second):
			t.Fatal("onPanic not called")
		}
		assert.True(t, log.Has("goroutine_panic_recovered"))
	})

	t.Run("nil onPanic", func(t *testing.T) {
		log := testutil.NewRecordingLogger()
		SafeGo(log, "op", func() { panic("x") }, nil)
		assert.Eventually(t, func() bool { return log.Has("goroutine_panic_recovered") }, time.Second, 5*time.Millisecond)
	})
}
