package notify

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
)

var validate = validator.New()

// ParseRecipients splits a comma-separated address list. Entries are
// trimmed; empty entries and case-insensitive duplicates are dropped with the
// first occurrence kept. Any malformed address rejects the whole list.
func ParseRecipients(value string) ([]string, error) {
	var recipients []string
	seen := map[string]bool{}
	for _, part := range strings.Split(value, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if err := validate.Var(addr, "email"); err != nil {
			return nil, goerr.Wrap(err, "invalid recipient address",
				goerr.V("address", addr),
				goerr.T(apperr.TagConfig))
		}
		key := strings.ToLower(addr)
		if seen[key] {
			continue
		}
		seen[key] = true
		recipients = append(recipients, addr)
	}
	if len(recipients) == 0 {
		return nil, goerr.New("no recipients configured", goerr.T(apperr.TagConfig))
	}
	return recipients, nil
}
