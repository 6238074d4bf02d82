package internal

import (
	"errors"
	"os"
	"testing"
)

func TestAssertion(t *testing.T) {
	os.Setenv(DebugEnvVar, "1")
	defer os.Unsetenv(DebugEnvVar)
	shouldPanic := true
	shouldNotPanic := false

	try(t, shouldNotPanic, func() {
		Assert("true does nothing", true)
	})
	try(t, shouldPanic, func() {
		Assert("false panics", false)
	})

	os.Setenv(DebugEnvVar, "0")
	try(t, shouldNotPanic, func() {
		Assert("true does nothing", true)
	})
	try(t, shouldNotPanic, func() {
		Assert("false does not panic if DGATE_DEBUG is not 1", false)
	})
}

func TestRecoverAndReport(t *testing.T) {
	var recovered bool
	func() {
		defer func() { recovered = RecoverAndReport(recover(), nil, "test") }()
		panic(errors.New("boom"))
	}()
	if !recovered {
		t.Fatalf("RecoverAndReport did not report the panic")
	}

	func() {
		defer func() { recovered = RecoverAndReport(recover(), nil, "test") }()
	}()
	if recovered {
		t.Fatalf("RecoverAndReport reported a panic when there was none")
	}
}

func try(t *testing.T, shouldPanic bool, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		err := recover()
		if err != nil {
			if shouldPanic {
				return
			}
			t.Fatalf("panic: %s", err)
		} else {
			if shouldPanic {
				t.Fatalf("function did not panic")
			}
		}
	}()
	fn()
}
