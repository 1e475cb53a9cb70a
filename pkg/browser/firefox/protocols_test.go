package firefox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/foxwire/pkg/browser"
)

type countingAutomation struct {
	browser.NopAutomation
	errs []error
}

func (c *countingAutomation) OnAsynchronousError(err error) {
	c.errs = append(c.errs, err)
}

func TestAsyncErrorHandlerCallsOneCallback(t *testing.T) {
	boom := errors.New("socket closed")

	t.Run("on error wins", func(t *testing.T) {
		automation := &countingAutomation{}
		var got []error
		handler := asyncErrorHandler(CDPDialOptions{
			Automation: automation,
			OnError:    func(err error) { got = append(got, err) },
		})
		handler(boom)
		assert.Equal(t, []error{boom}, got)
		assert.Empty(t, automation.errs)
	})

	t.Run("falls back to automation", func(t *testing.T) {
		automation := &countingAutomation{}
		asyncErrorHandler(CDPDialOptions{Automation: automation})(boom)
		assert.Equal(t, []error{boom}, automation.errs)
	})

	t.Run("nothing configured", func(t *testing.T) {
		assert.NotPanics(t, func() { asyncErrorHandler(CDPDialOptions{})(boom) })
	})
}
