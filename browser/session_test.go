package browser

import (
	"context"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"

	"github.com/certflow/certflow/errors"
)

func TestClassify(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, classify(nil, "noop"))
	})

	t.Run("element not found is transient UI", func(t *testing.T) {
		err := classify(&rod.ElementNotFoundError{}, "find %s", "#play")

		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, errors.KindTransientUI, errors.KindOf(err))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("deadline exceeded is timeout", func(t *testing.T) {
		err := classify(context.DeadlineExceeded, "click %s", "#submit")

		assert.True(t, errors.Is(err, ErrTimeout))
		assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("dead connection is crashed and unavailable", func(t *testing.T) {
		err := classify(errors.New("cdp connection closed"), "screenshot")

		assert.True(t, errors.Is(err, ErrCrashed))
		assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
	})

	t.Run("unrecognized driver errors default to transient UI", func(t *testing.T) {
		err := classify(errors.New("node is detached"), "click %s", "#next")

		assert.False(t, errors.Is(err, ErrNotFound))
		assert.Equal(t, errors.KindTransientUI, errors.KindOf(err))
	})

	t.Run("classified errors keep operation context", func(t *testing.T) {
		err := classify(&rod.ElementNotFoundError{}, "find %s", "#quiz-next")
		assert.Contains(t, err.Error(), "#quiz-next")
	})
}
