package result

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOkAndErr(t *testing.T) {
	ok := Ok[int, string](42)
	assert.True(t, ok.HasValue())
	assert.False(t, ok.HasError())
	assert.Equal(t, 42, ok.Value())
	assert.Equal(t, 42, ok.GetOr(-1))

	er := Err[int, string]("boom")
	assert.False(t, er.HasValue())
	assert.True(t, er.HasError())
	assert.Equal(t, "boom", er.Error())
	assert.Equal(t, -1, er.GetOr(-1))
}

func TestZeroValueIsOk(t *testing.T) {
	var r Result[int, error]
	require.True(t, r.HasValue())
	assert.Equal(t, 0, r.Value())
}

func TestAccessorsPanicOnWrongArm(t *testing.T) {
	assert.Panics(t, func() { Err[int, string]("boom").Value() })
	assert.Panics(t, func() { _ = Ok[int, string](1).Error() })
}

func TestAndThen(t *testing.T) {
	t.Run("chains on value", func(t *testing.T) {
		r := AndThen(Ok[int, string](21), func(v int) Result[int, string] {
			return Ok[int, string](v * 2)
		})
		require.True(t, r.HasValue())
		assert.Equal(t, 42, r.Value())
	})

	t.Run("propagates error without calling f", func(t *testing.T) {
		called := false
		r := AndThen(Err[int, string]("boom"), func(v int) Result[string, string] {
			called = true
			return Ok[string, string]("unused")
		})
		assert.False(t, called)
		require.True(t, r.HasError())
		assert.Equal(t, "boom", r.Error())
	})
}

func TestOrElse(t *testing.T) {
	t.Run("recovers from error", func(t *testing.T) {
		r := OrElse(Err[int, string]("boom"), func(string) Result[int, error] {
			return Ok[int, error](7)
		})
		require.True(t, r.HasValue())
		assert.Equal(t, 7, r.Value())
	})

	t.Run("propagates value without calling f", func(t *testing.T) {
		called := false
		r := OrElse(Ok[int, string](3), func(string) Result[int, error] {
			called = true
			return Err[int, error](errors.New("unused"))
		})
		assert.False(t, called)
		require.True(t, r.HasValue())
		assert.Equal(t, 3, r.Value())
	})
}

func TestCollapseNested(t *testing.T) {
	t.Run("outer value passes inner through", func(t *testing.T) {
		inner := Err[string, int](5)
		r := CollapseNested(Ok[Result[string, int], string](inner), func(string) int { return -1 })
		require.True(t, r.HasError())
		assert.Equal(t, 5, r.Error())
	})

	t.Run("outer error maps through f", func(t *testing.T) {
		r := CollapseNested(Err[Result[string, int], string]("canceled"), func(outer string) int {
			assert.Equal(t, "canceled", outer)
			return 3
		})
		require.True(t, r.HasError())
		assert.Equal(t, 3, r.Error())
	})
}
