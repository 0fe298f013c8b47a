package lib

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/crypto/blake2s"
)

var (
	ErrAlgo   = errors.New("unknown algorithm")
	ErrDecode = errors.New("invalid utf-8")
)

func Assert(cond bool, format string, a ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, a...))
	}
}

func Panic1(e error) {
	if e != nil {
		panic(e)
	}
}

func Panic2(x interface{}, e error) interface{} {
	if e != nil {
		panic(e)
	}
	return x
}

type RWCallback struct {
	Rw io.ReadWriteCloser
	Cb func()
}

func (rwc RWCallback) Read(p []byte) (n int, err error) {
	defer rwc.Cb()
	return rwc.Rw.Read(p)
}

func (rwc RWCallback) Write(p []byte) (n int, err error) {
	defer rwc.Cb()
	return rwc.Rw.Write(p)
}

func (rwc RWCallback) Close() error {
	defer rwc.Cb()
	return rwc.Rw.Close()
}

func NewSessionID() string {
	return uuid.NewV4().String()
}

const (
	ChecksumXxh     = "xxh"
	ChecksumBlake2s = "blake2s"
	ChecksumNone    = "none"
)

// Checksum returns the hex digest of data, or "" for ChecksumNone.
func Checksum(algo string, data []byte) (string, error) {
	switch algo {
	case ChecksumXxh:
		return fmt.Sprintf("%x", xxhash.Sum64(data)), nil
	case ChecksumBlake2s:
		sum := blake2s.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case ChecksumNone, "":
		return "", nil
	default:
		return "", fmt.Errorf("checksum %q: %w", algo, ErrAlgo)
	}
}

const (
	DecodeStrict  = "strict"
	DecodeReplace = "replace"
)

// Decode turns a payload into text. Strict mode rejects anything that is not
// valid utf-8, including a rune cut in half by the read bound.
func Decode(mode string, data []byte) (string, error) {
	switch mode {
	case DecodeStrict, "":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%d bytes: %w", len(data), ErrDecode)
		}
		return string(data), nil
	case DecodeReplace:
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
	default:
		return "", fmt.Errorf("decode %q: %w", mode, ErrAlgo)
	}
}
