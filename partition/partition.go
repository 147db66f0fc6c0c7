package partition

import (
	"fmt"
	"unicode/utf8"

	"github.com/xraph/shardlease"
)

// Alphabet is an ordered set of single-byte key symbols. Symbols must be
// ASCII and strictly ascending in byte order.
type Alphabet string

// DefaultAlphabet is digits followed by upper and lower case ASCII letters,
// in byte order.
const DefaultAlphabet Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Partition is one contiguous range of the key alphabet. Begin is inclusive,
// End is exclusive; an empty End means the range is open-ended.
type Partition struct {
	Begin string `json:"begin"`
	End   string `json:"end,omitempty"`
}

// Open reports whether the partition has no upper bound.
func (p Partition) Open() bool { return p.End == "" }

// Contains reports whether key falls inside the partition.
func (p Partition) Contains(key string) bool {
	if key < p.Begin {
		return false
	}
	return p.Open() || key < p.End
}

// String renders the range, e.g. "[0, 4)" or "[w, ∞)".
func (p Partition) String() string {
	if p.Open() {
		return fmt.Sprintf("[%s, ∞)", p.Begin)
	}
	return fmt.Sprintf("[%s, %s)", p.Begin, p.End)
}

// Compute splits alphabet into at most maxCount contiguous partitions.
//
// The partition size is ceil(A / min(A, maxCount)) symbols, so the result
// holds ceil(A / size) partitions. maxCount >= A yields one partition per
// symbol. The last partition is open-ended. An alphabet that is empty,
// holds non-ASCII bytes or is not strictly ascending is rejected with
// ErrInvalidAlphabet.
func Compute(alphabet Alphabet, maxCount int) ([]Partition, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("%w: got %d", shardlease.ErrInvalidPartitionCount, maxCount)
	}
	a := len(alphabet)
	if a == 0 {
		return nil, shardlease.ErrInvalidAlphabet
	}
	if err := alphabet.validate(); err != nil {
		return nil, err
	}

	n := min(a, maxCount)
	size := (a + n - 1) / n

	parts := make([]Partition, 0, (a+size-1)/size)
	for i := 0; i < a; i += size {
		p := Partition{Begin: string(alphabet[i])}
		if next := i + size; next < a {
			p.End = string(alphabet[next])
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (a Alphabet) validate() error {
	for i := 0; i < len(a); i++ {
		if a[i] >= utf8.RuneSelf {
			return fmt.Errorf("%w: non-ASCII byte %#x at %d", shardlease.ErrInvalidAlphabet, a[i], i)
		}
		if i > 0 && a[i] <= a[i-1] {
			return fmt.Errorf("%w: %q at %d does not follow %q", shardlease.ErrInvalidAlphabet, a[i], i, a[i-1])
		}
	}
	return nil
}
