// Package debug provides assertion helpers that panic with a short call
// chain instead of returning an error, for invariants a caller could
// violate but that are not worth plumbing an error return for.
package debug

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang/glog"
)

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func Func(f func()) { f() }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 256))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok || !strings.Contains(file, "slotkv") {
			break
		}
		f := filepath.Base(file)
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", f, line)
	}
	glog.Errorf("%s", buffer.Bytes())
	glog.Flush()
	panic(msg)
}
