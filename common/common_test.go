package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfNil(t *testing.T) {
	assert.Equal(t, KindOk, KindOf(nil))
}

func TestKindOfLockError(t *testing.T) {
	err := New(KindBusyDeadlock, "conflict at page 42")
	assert.Equal(t, KindBusyDeadlock, KindOf(err))
	assert.True(t, IsBusy(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindError, KindOf(fmt.Errorf("boom")))
}

func TestWrapPreservesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("ftruncate: no space left on device")
	err := Wrap(KindCantOpen, cause, "resize hma file")
	assert.Equal(t, KindCantOpen, KindOf(err))
	assert.Contains(t, err.Error(), "no space left on device")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "BusyDeadlock", KindBusyDeadlock.String())
	assert.Equal(t, "Ok", KindOk.String())
}
