package upstream

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseCommand converts a user-entered command into device bytes.
//
// A command starting with "0x" is a sequence of hex byte pairs, optionally
// separated by spaces ("0x18", "0x1b 5b 41"). Any other command is sent as
// text with the two-character escapes \n and \r expanded.
func ParseCommand(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.Join(strings.Fields(s[2:]), "")
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return b, nil
	}

	r := strings.NewReplacer(`\n`, "\n", `\r`, "\r")
	return []byte(r.Replace(s)), nil
}
