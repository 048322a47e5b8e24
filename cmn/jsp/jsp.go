// Package jsp (JSON persistence) stores and loads arbitrary JSON-encoded
// structures with optional lz4 compression and a crc32 checksum, following
// the teacher's cmn/jsp file-format conventions (signature + version +
// meta-version + flags preamble, atomic rename-on-save).
//
// Non-goal (spec §1): migration jobs are never persisted. jsp's one caller
// is cluster's config store, which saves and reloads the node roster and
// epoch; cmn.Config implements Opts but is not loaded from or saved to a
// file by the daemon.
package jsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"reflect"

	"github.com/golang/glog"
	"github.com/pierrec/lz4/v3"

	"github.com/hanzoai/slotkv/cmn/cos"
	"github.com/hanzoai/slotkv/cmn/debug"
)

const (
	signature = "slotkv"
	Metaver   = 1 // current JSP version
)

type (
	// Options controls how a value is encoded/decoded.
	Options struct {
		Compress bool
		Checksum bool
	}

	// Opts lets a persisted type supply its own Options, mirroring the
	// teacher's jsp.Opts/SaveMeta/LoadMeta helper pair.
	Opts interface {
		JspOpts() Options
	}
)

func SaveMeta(path string, meta Opts) error { return Save(path, meta, meta.JspOpts()) }
func LoadMeta(path string, meta Opts) (*cos.Cksum, error) { return Load(path, meta, meta.JspOpts()) }

func Save(path string, v interface{}, opts Options) (err error) {
	debug.Assert(v != nil)
	tmp := path + ".tmp." + cos.GenTie()
	file, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if nestedErr := cos.RemoveFile(tmp); nestedErr != nil {
				glog.Errorf("nested (%v): failed to remove %s, err: %v", err, tmp, nestedErr)
			}
		}
	}()
	if err = Encode(file, v, opts); err != nil {
		glog.Errorf("failed to encode %s: %v", path, err)
		cos.Close(file)
		return err
	}
	if err = cos.FlushClose(file); err != nil {
		glog.Errorf("failed to flush and close %s: %v", tmp, err)
		return err
	}
	err = os.Rename(tmp, path)
	return err
}

func Load(path string, v interface{}, opts Options) (checksum *cos.Cksum, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer cos.Close(file)
	checksum, err = Decode(file, v, opts, path)
	var badCksum *cos.ErrBadCksum
	if err != nil && errors.As(err, &badCksum) {
		glog.Errorf("bad checksum loading %s: %v", path, err)
	}
	return checksum, err
}

// Encode writes v (preceded by the [signature|version|flags] preamble) to
// w, applying lz4 compression and/or a crc32 checksum per opts.
func Encode(w io.Writer, v interface{}, opts Options) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if opts.Compress {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	}
	flags := byte(0)
	if opts.Compress {
		flags |= 1
	}
	if opts.Checksum {
		flags |= 2
	}
	if _, err := w.Write([]byte(signature)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(Metaver), flags}); err != nil {
		return err
	}
	if opts.Checksum {
		sum := crc32.ChecksumIEEE(payload)
		if err := writeUint32(w, sum); err != nil {
			return err
		}
	}
	_, err = w.Write(payload)
	return err
}

// Decode reads back what Encode wrote, returning the recorded checksum (if
// any) so callers can compare it against their own expectations.
func Decode(r io.Reader, v interface{}, opts Options, tag string) (*cos.Cksum, error) {
	hdr := make([]byte, len(signature)+2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if string(hdr[:len(signature)]) != signature {
		return nil, errors.New("jsp: bad signature in " + tag)
	}
	flags := hdr[len(signature)+1]
	compressed := flags&1 != 0
	checksummed := flags&2 != 0

	var recorded *cos.Cksum
	var expectCRC uint32
	if checksummed {
		sum, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		expectCRC = sum
		recorded = cos.NewCksum("crc32", itoa32(sum))
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if checksummed {
		actual := crc32.ChecksumIEEE(payload)
		if actual != expectCRC {
			return recorded, &cos.ErrBadCksum{
				Expected: recorded,
				Actual:   cos.NewCksum("crc32", itoa32(actual)),
			}
		}
	}
	if compressed {
		zr := lz4.NewReader(bytes.NewReader(payload))
		payload, err = io.ReadAll(zr)
		if err != nil {
			return recorded, err
		}
	}
	if wto, ok := v.(json.Unmarshaler); ok {
		return recorded, wto.UnmarshalJSON(payload)
	}
	debug.Assert(v != nil && reflect.ValueOf(v).Kind() == reflect.Ptr)
	return recorded, json.Unmarshal(payload, v)
}

func writeUint32(w io.Writer, v uint32) error {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	_, err := w.Write(b)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func itoa32(v uint32) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = hex[v&0xf]
		v >>= 4
	}
	return string(b)
}
