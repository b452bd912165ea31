package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cosmicwatch/models"
)

// parseLogFilterArgs parses `logs` / `events` arguments into query params and a page number.
//
// Supported flags (either --flag value or --flag=value):
//   - --component, --session, --category
//   - --level debug|info|warn|error
//   - --status ok|warning|error|unknown (validation status)
//   - --since, --until (unix ms, RFC3339 or 2006-01-02)
//   - --limit n
//
// The last argument may be a page number.
func parseLogFilterArgs(args []string) (page int, values url.Values, err error) {
	page = 1
	values = url.Values{}

	if n := len(args); n > 0 && !expectsValue(args[:n-1]) {
		if p, parseErr := strconv.Atoi(args[n-1]); parseErr == nil {
			page = max(p, 1)
			args = args[:len(args)-1]
		}
	}

	for i := 0; i < len(args); i++ {
		token := args[i]
		if !strings.HasPrefix(token, "--") {
			return 0, nil, fmt.Errorf("unexpected argument: %s", token)
		}

		name, value, hasValue := strings.Cut(token, "=")
		if !hasValue {
			if i+1 >= len(args) {
				return 0, nil, fmt.Errorf("missing value for %s", name)
			}
			value = args[i+1]
			i++
		}
		if err := applyLogFilterFlag(values, name, strings.TrimSpace(value)); err != nil {
			return 0, nil, err
		}
	}

	return page, values, nil
}

func applyLogFilterFlag(values url.Values, name, value string) error {
	if value == "" {
		return fmt.Errorf("invalid %s: empty", name)
	}
	switch name {
	case "--component":
		values.Set("component", value)
	case "--session":
		values.Set("sessionId", value)
	case "--category":
		values.Set("category", strings.ToLower(value))
	case "--level":
		value = strings.ToLower(value)
		switch value {
		case models.LevelDebug, models.LevelInfo, models.LevelWarn, models.LevelError:
		default:
			return fmt.Errorf("invalid --level: %q", value)
		}
		values.Set("level", value)
	case "--status":
		value = strings.ToLower(value)
		switch value {
		case models.VerdictOK, models.VerdictWarning, models.VerdictError, models.VerdictUnknown:
		default:
			return fmt.Errorf("invalid --status: %q", value)
		}
		values.Set("validationStatus", value)
	case "--since":
		values.Set("startDate", value)
	case "--until":
		values.Set("endDate", value)
	case "--limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid --limit: %q", value)
		}
		values.Set("limit", strconv.Itoa(n))
	default:
		return fmt.Errorf("unknown flag: %s", name)
	}
	return nil
}

// expectsValue reports whether the last of args is a flag still waiting for its value.
func expectsValue(args []string) bool {
	if len(args) == 0 {
		return false
	}
	last := args[len(args)-1]
	return strings.HasPrefix(last, "--") && !strings.Contains(last, "=")
}
