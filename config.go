package stgstress

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/ehrlich-b/stgstress/internal/wire"
)

// Duration decodes YAML values like "3s" or "500ms" into a
// time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// DefaultConnectTimeout bounds the single busy-retry wait on pipe
// targets.
const DefaultConnectTimeout = Duration(3 * time.Second)

// maxOpSet caps the parsed operation list.
const maxOpSet = 32

// Params configures one stress run. The zero value is not usable;
// start from DefaultParams.
type Params struct {
	// Target names the device: "pipe:" plus a socket path for the
	// message channel, anything else is opened as a raw block device.
	Target string `yaml:"target"`

	// OpCount is the total number of operations to issue; the op set is
	// cycled through, one operation per index. Zero is coerced to one
	// at run time so that every invocation performs work.
	OpCount uint64 `yaml:"op_count"`

	// OpSet selects the operation mix as a string of the letters R, W,
	// F and U, case-insensitive. Unknown letters are ignored. Empty
	// selects the default write-then-read mix.
	OpSet string `yaml:"op_set"`

	// BlockAddress is the starting block for sequential addressing,
	// ignored when RandomAddress is set.
	BlockAddress  uint64 `yaml:"block_address"`
	RandomAddress bool   `yaml:"random_address"`

	// BlockCount is the fixed per-operation window in blocks, ignored
	// when RandomCount is set. Zero is coerced to one.
	BlockCount  uint32 `yaml:"block_count"`
	RandomCount bool   `yaml:"random_count"`

	// Seed initializes the deterministic generators. Zero selects a
	// time-derived seed at run time.
	Seed uint32 `yaml:"seed"`

	// ConnectTimeout bounds the busy-retry wait on pipe targets.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// DefaultParams returns a Params with the documented defaults applied.
func DefaultParams() Params {
	return Params{
		OpCount:        1,
		BlockCount:     1,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// LoadParams reads a YAML parameter file over the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return p, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return p, nil
}

// SetAddress parses a block-address argument. The literal "*" selects
// random addressing; anything else must be an unsigned integer, with
// 0x/0o/0b prefixes accepted.
func (p *Params) SetAddress(s string) error {
	if s == "*" {
		p.RandomAddress = true
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("config: block address %q: %w", s, err)
	}
	p.RandomAddress = false
	p.BlockAddress = v
	return nil
}

// SetCount parses a block-count argument. The literal "*" selects a
// random per-operation window.
func (p *Params) SetCount(s string) error {
	if s == "*" {
		p.RandomCount = true
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("config: block count %q: %w", s, err)
	}
	p.RandomCount = false
	p.BlockCount = uint32(v)
	return nil
}

// ops returns the parsed operation mix.
func (p *Params) ops() []wire.OpKind {
	return parseOpSet(p.OpSet)
}

// parseOpSet maps the letter string onto operation kinds. Unknown
// letters are skipped rather than rejected, and the result is capped.
func parseOpSet(s string) []wire.OpKind {
	var ops []wire.OpKind
	for i := 0; i < len(s) && len(ops) < maxOpSet; i++ {
		switch s[i] {
		case 'R', 'r':
			ops = append(ops, wire.OpRead)
		case 'W', 'w':
			ops = append(ops, wire.OpWrite)
		case 'F', 'f':
			ops = append(ops, wire.OpFlush)
		case 'U', 'u':
			ops = append(ops, wire.OpUnmap)
		}
	}
	if len(ops) == 0 {
		ops = []wire.OpKind{wire.OpWrite, wire.OpRead}
	}
	return ops
}
