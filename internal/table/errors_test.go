package table

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := &Error{Op: "add", Kind: KindTableNotFound, Anchor: "a", Table: "t"}
	wrapped := fmt.Errorf("apply: %w", err)

	assert.ErrorIs(t, wrapped, ErrTableNotFound)
	assert.NotErrorIs(t, wrapped, ErrDeviceRejected)
	assert.Equal(t, KindTableNotFound, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "ensure", Kind: KindDeviceRejected, Anchor: "a", Table: "t", Code: 22, Err: syscall.EINVAL}
	assert.Equal(t, "table: ensure a/t device rejected (code 22): "+syscall.EINVAL.Error(), err.Error())
	assert.Equal(t, "table: invalid handle", ErrInvalidHandle.Error())
}

func TestKind_String(t *testing.T) {
	kinds := map[Kind]string{
		KindInvalidName:          "invalid name",
		KindInvalidAddressFamily: "invalid address family",
		KindDeviceUnavailable:    "device unavailable",
		KindInvalidHandle:        "invalid handle",
		KindTableNotFound:        "table not found",
		KindDeviceRejected:       "device rejected",
		Kind(99):                 "unknown",
	}
	for k, want := range kinds {
		assert.Equal(t, want, k.String())
	}
}

func TestDeviceError(t *testing.T) {
	err := deviceError("add", "a", "t", &Error{Kind: KindTableNotFound, Code: int(syscall.ESRCH), Err: syscall.ESRCH})
	var te *Error
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "add", te.Op)
	assert.Equal(t, "a", te.Anchor)
	assert.Equal(t, KindTableNotFound, te.Kind)
	assert.Equal(t, int(syscall.ESRCH), te.Code)

	err = deviceError("add", "a", "t", fmt.Errorf("ioctl: %w", syscall.ENOMEM))
	assert.ErrorIs(t, err, ErrDeviceRejected)
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, int(syscall.ENOMEM), te.Code)
}
