package channel

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone returns num in E.164. Numbers without a leading + are parsed
// against defaultRegion.
func NormalizePhone(num, defaultRegion string) (string, error) {
	num = strings.TrimSpace(num)
	if num == "" {
		return "", fmt.Errorf("missing phone number")
	}
	region := defaultRegion
	if strings.HasPrefix(num, "+") {
		region = ""
	}
	parsed, err := phonenumbers.Parse(num, region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", num, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", num)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
