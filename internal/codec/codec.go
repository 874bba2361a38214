// Package codec detects and applies the compression formats used for
// persisted baselines. Detection inspects magic bytes only; file names are
// never consulted.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"cellwatch/internal/failure"
)

// Format names a compression format.
type Format string

const (
	FormatZstd    Format = "zstd"
	FormatLZ4     Format = "lz4"
	FormatGzip    Format = "gzip"
	FormatNone    Format = "none"
	FormatUnknown Format = "unknown"
)

var (
	magicZstd = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicLZ4  = []byte{0x04, 0x22, 0x4D, 0x18}
	magicGzip = []byte{0x1F, 0x8B}
)

// Formats lists every format the registry can write, in preference order.
var Formats = []Format{FormatZstd, FormatLZ4, FormatGzip, FormatNone}

// ParseFormat maps a configured name to a Format. Unknown names are logic
// errors because they indicate misconfiguration.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(Formats, f) {
		return f, nil
	}
	return FormatUnknown, failure.Wrap(failure.ErrLogic, "codec", "parse format",
		fmt.Sprintf("unknown compression format %q", name), nil)
}

// Detect classifies data by its leading bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicZstd):
		return FormatZstd
	case bytes.HasPrefix(data, magicLZ4):
		return FormatLZ4
	case bytes.HasPrefix(data, magicGzip):
		return FormatGzip
	case isText(data):
		return FormatNone
	default:
		return FormatUnknown
	}
}

func isText(data []byte) bool {
	if utf8.Valid(data) {
		return true
	}
	if hasUTF16BOM(data) {
		_, err := decodeUTF16(data)
		return err == nil
	}
	return false
}

func hasUTF16BOM(data []byte) bool {
	return len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF))
}

// validUTF16 reports whether the bytes after a UTF-16 BOM form whole code
// units with correctly paired surrogates.
func validUTF16(data []byte) bool {
	body := data[2:]
	if len(body)%2 != 0 {
		return false
	}
	bigEndian := data[0] == 0xFE
	unit := func(i int) rune {
		if bigEndian {
			return rune(body[i])<<8 | rune(body[i+1])
		}
		return rune(body[i+1])<<8 | rune(body[i])
	}
	for i := 0; i < len(body); i += 2 {
		u := unit(i)
		if !utf16.IsSurrogate(u) {
			continue
		}
		if i+2 >= len(body) || utf16.DecodeRune(u, unit(i+2)) == utf8.RuneError {
			return false
		}
		i += 2
	}
	return true
}

func decodeUTF16(data []byte) ([]byte, error) {
	if !validUTF16(data) {
		return nil, fmt.Errorf("malformed utf-16 payload")
	}
	decoder := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(out) {
		return nil, fmt.Errorf("utf-16 payload did not decode to valid text")
	}
	return out, nil
}

// Codec compresses and decompresses one format.
type Codec interface {
	Format() Format
	Compress(payload []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type zstdCodec struct{}

func (zstdCodec) Format() Format { return FormatZstd }

func (zstdCodec) Compress(payload []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

type lz4Codec struct{}

func (lz4Codec) Format() Format { return FormatLZ4 }

func (lz4Codec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

type gzipCodec struct{}

func (gzipCodec) Format() Format { return FormatGzip }

func (gzipCodec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

type plainCodec struct{}

func (plainCodec) Format() Format { return FormatNone }

func (plainCodec) Compress(payload []byte) ([]byte, error) {
	return append([]byte{}, payload...), nil
}

func (plainCodec) Decompress(data []byte) ([]byte, error) {
	if !utf8.Valid(data) && hasUTF16BOM(data) {
		return decodeUTF16(data)
	}
	return append([]byte{}, data...), nil
}

// Registry holds the codecs available in this process. A disabled codec
// behaves as if its implementation were missing at runtime.
type Registry struct {
	codecs   map[Format]Codec
	disabled map[Format]bool
}

// NewRegistry returns a registry with every built-in codec, minus disabled.
func NewRegistry(disabled ...string) *Registry {
	r := &Registry{
		codecs: map[Format]Codec{
			FormatZstd: zstdCodec{},
			FormatLZ4:  lz4Codec{},
			FormatGzip: gzipCodec{},
			FormatNone: plainCodec{},
		},
		disabled: map[Format]bool{},
	}
	for _, name := range disabled {
		r.disabled[Format(strings.ToLower(strings.TrimSpace(name)))] = true
	}
	return r
}

// Available reports whether format can be used, returning a
// dependency-missing error for disabled codecs.
func (r *Registry) Available(format Format) error {
	_, err := r.lookup(format)
	return err
}

func (r *Registry) lookup(format Format) (Codec, error) {
	codec, ok := r.codecs[format]
	if !ok {
		return nil, failure.Wrap(failure.ErrLogic, "codec", "lookup",
			fmt.Sprintf("unknown compression format %q", format), nil)
	}
	if r.disabled[format] {
		return nil, failure.Wrap(failure.ErrDependencyMissing, "codec", "lookup",
			fmt.Sprintf("codec %s is not available", format), nil)
	}
	return codec, nil
}

// Compress encodes payload with the requested format.
func (r *Registry) Compress(payload []byte, format Format) ([]byte, error) {
	codec, err := r.lookup(format)
	if err != nil {
		return nil, err
	}
	out, err := codec.Compress(payload)
	if err != nil {
		return nil, failure.Wrap(failure.ErrInternal, "codec", "compress", string(format), err)
	}
	return out, nil
}

// Decompress detects the format of data and decodes it. In safe mode any
// recoverable failure yields an empty payload and a nil error.
func (r *Registry) Decompress(data []byte, safe bool) ([]byte, Format, error) {
	format := Detect(data)
	if format == FormatUnknown {
		err := failure.Wrap(failure.ErrFormat, "codec", "detect", "unrecognized payload", nil)
		return absorb(format, err, safe)
	}
	codec, err := r.lookup(format)
	if err != nil {
		return absorb(format, err, safe)
	}
	out, err := codec.Decompress(data)
	if err != nil {
		return absorb(format, failure.Wrap(failure.ErrFormat, "codec", "decompress", string(format), err), safe)
	}
	return out, format, nil
}

func absorb(format Format, err error, safe bool) ([]byte, Format, error) {
	if safe && failure.Recoverable(err) {
		return nil, format, nil
	}
	return nil, format, err
}

// EncodeJSON serializes v and compresses it.
func (r *Registry) EncodeJSON(v any, format Format) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, failure.Wrap(failure.ErrInternal, "codec", "encode json", "", err)
	}
	return r.Compress(payload, format)
}

// DecodeJSON decompresses data and parses it into v. In safe mode an
// undecodable payload leaves v untouched and returns a nil error; the
// returned bool reports whether v was populated.
func (r *Registry) DecodeJSON(data []byte, safe bool, v any) (Format, bool, error) {
	payload, format, err := r.Decompress(data, safe)
	if err != nil {
		return format, false, err
	}
	if payload == nil {
		return format, false, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		wrapped := failure.Wrap(failure.ErrFormat, "codec", "decode json", string(format), err)
		if safe {
			return format, false, nil
		}
		return format, false, wrapped
	}
	return format, true, nil
}
