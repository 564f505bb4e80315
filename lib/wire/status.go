package wire

import "strings"

// Status is the accept/reject code a relay reports for its hop. Codes are
// bit flags so a reply can carry more than one reason.
type Status uint64

const (
	StatusSuccess           Status = 1 << 0
	StatusFailTimeout       Status = 1 << 1
	StatusFailCongestion    Status = 1 << 2
	StatusFailDestUnknown   Status = 1 << 3
	StatusFailDecryptError  Status = 1 << 4
	StatusFailMalformed     Status = 1 << 5
	StatusFailDestInvalid   Status = 1 << 6
	StatusFailCannotConnect Status = 1 << 7
	StatusFailDuplicateHop  Status = 1 << 8
)

var statusNames = []struct {
	flag Status
	name string
}{
	{StatusSuccess, "SUCCESS"},
	{StatusFailTimeout, "FAIL_TIMEOUT"},
	{StatusFailCongestion, "FAIL_CONGESTION"},
	{StatusFailDestUnknown, "FAIL_DEST_UNKNOWN"},
	{StatusFailDecryptError, "FAIL_DECRYPT_ERROR"},
	{StatusFailMalformed, "FAIL_MALFORMED_RECORD"},
	{StatusFailDestInvalid, "FAIL_DEST_INVALID"},
	{StatusFailCannotConnect, "FAIL_CANNOT_CONNECT"},
	{StatusFailDuplicateHop, "FAIL_DUPLICATE_HOP"},
}

// IsSuccess reports whether s is exactly SUCCESS.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// Has reports whether every bit of flag is set in s.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

func (s Status) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range statusNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}
