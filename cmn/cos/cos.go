// Package cos provides small standalone helpers shared by every slotkv
// package: struct copying, duration parsing, random tie-breakers and a
// panic-on-invariant-violation assert.
package cos

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/teris-io/shortid"
)

// Duration marshals as a Go duration string ("2s") instead of a bare
// integer, same convention the teacher's config uses throughout.
type Duration time.Duration

func (d Duration) String() string            { return time.Duration(d).String() }
func (d Duration) D() time.Duration          { return time.Duration(d) }
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var ns int64
		if err2 := json.Unmarshal(b, &ns); err2 != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// Assert panics with a formatted message when cond is false. Unlike
// cmn/debug.Assert it does not log a call chain first -- it guards invariants
// whose violation would otherwise corrupt VSET or job-list state silently.
func Assert(cond bool, args ...interface{}) {
	if cond {
		return
	}
	msg := "assertion failed"
	if len(args) > 0 {
		msg = fmt.Sprint(args...)
	}
	panic(msg)
}

func Assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}

// CopyStruct copies src's exported fields into dst via a JSON round-trip
// (nested values are copied too, not shared),
// matching the teacher's cmn.CopyStruct usage in cluster/map.go's Snode.Clone
// and ais/rebmeta.go's rebMD.clone.
func CopyStruct(dst, src interface{}) {
	b, err := json.Marshal(src)
	Assertf(err == nil, "CopyStruct: marshal: %v", err)
	Assertf(json.Unmarshal(b, dst) == nil, "CopyStruct: unmarshal")
}

var (
	sid  *shortid.Shortid
	tieABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, tieABC, seed)
}

// GenTie returns a short, human-distinguishable tie-breaker string used to
// disambiguate temp file names and correlation ids (teacher: cmn.GenTie,
// used by cmn/jsp.Save for the ".tmp.<tie>" suffix).
func GenTie() string {
	if sid == nil {
		return fmt.Sprintf("%06x", rand.Int31())
	}
	return sid.MustGenerate()
}

const SizeofI64 = 8

// Cksum is a tagged checksum value, same shape as the teacher's cos.Cksum
// (used by cmn/jsp to validate persisted config files).
type Cksum struct {
	Ty    string `json:"ty"`
	Value string `json:"value"`
}

func NewCksum(ty, value string) *Cksum { return &Cksum{Ty: ty, Value: value} }
func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Ty == o.Ty && c.Value == o.Value
}

// ErrBadCksum is returned by jsp.Load when the persisted checksum does not
// match the recomputed one.
type ErrBadCksum struct{ Expected, Actual *Cksum }

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("bad checksum: expected %v, got %v", e.Expected, e.Actual)
}

func CreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func RemoveFile(path string) error { return os.Remove(path) }

func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		_ = err // best-effort close, same as the teacher's cos.Close
	}
}

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		Close(f)
		return err
	}
	return f.Close()
}

