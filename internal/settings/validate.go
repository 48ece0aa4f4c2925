package settings

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/plexbridge/plexbridge/internal/models"
)

var localePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

var dateFormats = map[string]bool{
	"YYYY-MM-DD": true,
	"MM/DD/YYYY": true,
	"DD/MM/YYYY": true,
	"DD.MM.YYYY": true,
}

// intRanges are the numeric paths update clamps hard instead of trusting the
// caller. Values outside a range reject the whole update.
var intRanges = map[string][2]int{
	"streaming.maxConcurrentStreams": {1, 100},
	"streaming.streamTimeout":        {5000, 300000},
	"device.tunerCount":              {1, 32},
	"network.streamingPort":          {1024, 65535},
	"network.discoveryPort":          {1024, 65535},
	"localization.firstDayOfWeek":    {0, 6},
}

// validate checks one flat path/value pair. Paths without a rule pass.
// Legacy-prefixed spellings are held to the same rules as canonical ones.
func validate(path string, value any) error {
	path = strings.TrimPrefix(path, legacyPrefix)
	if bounds, ok := intRanges[path]; ok {
		n, ok := toInt(value)
		if !ok {
			return models.ErrValidation{Field: path, Message: "must be a number"}
		}
		if n < bounds[0] || n > bounds[1] {
			return models.ErrValidation{
				Field:   path,
				Message: fmt.Sprintf("must be between %d and %d", bounds[0], bounds[1]),
			}
		}
		return nil
	}

	switch path {
	case "localization.locale":
		locale, ok := value.(string)
		if !ok || !localePattern.MatchString(locale) {
			return models.ErrValidation{Field: path, Message: "must look like xx or xx-XX"}
		}
		if _, err := language.Parse(locale); err != nil {
			return models.ErrValidation{Field: path, Message: "unknown locale"}
		}
	case "localization.dateFormat":
		format, ok := value.(string)
		if !ok || !dateFormats[format] {
			return models.ErrValidation{Field: path, Message: "must be one of YYYY-MM-DD, MM/DD/YYYY, DD/MM/YYYY, DD.MM.YYYY"}
		}
	case "localization.timeFormat":
		format, ok := value.(string)
		if !ok || (format != "12h" && format != "24h") {
			return models.ErrValidation{Field: path, Message: "must be 12h or 24h"}
		}
	}
	return nil
}

// validateAll checks every pair and returns the first failure in path order,
// so error messages are stable.
func validateAll(flat map[string]any) error {
	for _, path := range sortedPaths(flat) {
		if err := validate(path, flat[path]); err != nil {
			return err
		}
	}
	return nil
}

// toInt accepts the numeric types JSON decoding and Go literals produce.
// Floats qualify only when they carry no fractional part.
func toInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		return toInt(float64(n))
	default:
		return 0, false
	}
}
