package logs

import (
	"encoding/json"
	"strings"
)

// MatchFields returns a Keep function selecting JSON log lines whose string
// fields equal every non-empty value in want. It returns nil when want has
// no non-empty values so Tail keeps everything.
func MatchFields(want map[string]string) func(string) bool {
	filters := make(map[string]string, len(want))
	for key, value := range want {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filters[key] = trimmed
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return func(line string) bool {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return false
		}
		for key, value := range filters {
			got, ok := record[key].(string)
			if !ok || !strings.EqualFold(got, value) {
				return false
			}
		}
		return true
	}
}
