package interchange

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// QuotedUint64 is EIP-3076's "quoted integer" encoding: on output it is
// always a JSON string of decimal digits; on input it accepts either a
// quoted string or a bare JSON number.
type QuotedUint64 uint64

func (q QuotedUint64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(q), 10) + `"`), nil
}

func (q *QuotedUint64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return errors.New("quoted integer: empty value")
	}
	if len(s) > 1 && s[0] == '0' {
		return errors.Errorf("quoted integer: leading zero in %q", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.Wrap(err, "quoted integer")
	}
	*q = QuotedUint64(v)
	return nil
}

func quotedPtr(v *uint64) *QuotedUint64 {
	if v == nil {
		return nil
	}
	q := QuotedUint64(*v)
	return &q
}

func unquotedPtr(q *QuotedUint64) *uint64 {
	if q == nil {
		return nil
	}
	v := uint64(*q)
	return &v
}
