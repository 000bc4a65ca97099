package scanner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skobkin/mediaremote/internal/domain"
)

var ErrInvalidRange = errors.New("invalid scan range")

const (
	MinHost = 1
	MaxHost = 254
)

// Range is a run of host suffixes under a three-octet IPv4 prefix.
type Range struct {
	Prefix string
	Start  int
	End    int
	Port   int
}

// ParseRange builds a Range from user input and validates it.
func ParseRange(prefix, start, end string, port int) (Range, error) {
	startN, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return Range{}, fmt.Errorf("%w: start %q is not a number", ErrInvalidRange, start)
	}
	endN, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q is not a number", ErrInvalidRange, end)
	}

	r := Range{Prefix: prefix, Start: startN, End: endN, Port: port}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	r.Prefix = normalizePrefix(prefix)

	return r, nil
}

func (r Range) Validate() error {
	prefix := normalizePrefix(r.Prefix)
	octets := strings.Split(prefix, ".")
	if prefix == "" || len(octets) != 3 {
		return fmt.Errorf("%w: prefix %q must have three octets like 192.168.1", ErrInvalidRange, r.Prefix)
	}
	for _, octet := range octets {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 || octet != strconv.Itoa(n) {
			return fmt.Errorf("%w: prefix octet %q is not within 0-255", ErrInvalidRange, octet)
		}
	}
	if r.Start < MinHost || r.Start > MaxHost {
		return fmt.Errorf("%w: start %d is outside %d-%d", ErrInvalidRange, r.Start, MinHost, MaxHost)
	}
	if r.End < MinHost || r.End > MaxHost {
		return fmt.Errorf("%w: end %d is outside %d-%d", ErrInvalidRange, r.End, MinHost, MaxHost)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, r.Start, r.End)
	}
	if r.Port < domain.MinPort || r.Port > domain.MaxPort {
		return fmt.Errorf("%w: port %d is outside %d-%d", domain.ErrInvalidAddress, r.Port, domain.MinPort, domain.MaxPort)
	}

	return nil
}

func (r Range) Size() int {
	if r.End < r.Start {
		return 0
	}

	return r.End - r.Start + 1
}

// Addresses lists every address of the range in ascending order.
func (r Range) Addresses() []string {
	prefix := normalizePrefix(r.Prefix)
	out := make([]string, 0, r.Size())
	for host := r.Start; host <= r.End; host++ {
		out = append(out, prefix+"."+strconv.Itoa(host))
	}

	return out
}

func (r Range) String() string {
	return fmt.Sprintf("%s.%d-%d:%d", normalizePrefix(r.Prefix), r.Start, r.End, r.Port)
}

func normalizePrefix(prefix string) string {
	return strings.TrimSuffix(strings.TrimSpace(prefix), ".")
}
