package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a memory size that reads either a plain byte count or a
// humanized size such as "64 MiB". It also serves as a command-line flag
// value.
type ByteSize int64

// ParseByteSize parses a byte count or humanized size.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return ByteSize(n), nil
}

// String renders the size in IEC units when that is exact, otherwise as a
// byte count.
func (b ByteSize) String() string {
	if b < 1024 {
		return strconv.FormatInt(int64(b), 10)
	}
	h := humanize.IBytes(uint64(b))
	if n, err := humanize.ParseBytes(h); err == nil && n == uint64(b) {
		return h
	}
	return strconv.FormatInt(int64(b), 10)
}

func (b *ByteSize) Set(s string) error {
	n, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

func (b *ByteSize) Type() string { return "bytes" }

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	return b.Set(node.Value)
}

func (b ByteSize) MarshalYAML() (any, error) {
	s := b.String()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	return s, nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("size must be a number or string: %w", err)
	}
	return b.Set(s)
}
