package config

import (
	"bytes"
	"fmt"
	"time"
)

// Template renders the default configuration as YAML with a comment
// header, as a starting point for operators.
func Template(now time.Time) (string, error) {
	body, err := DefaultConfig().Marshal()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("# saccoguard maker-checker configuration\n")
	buf.WriteString(fmt.Sprintf("# Generated: %s\n", now.UTC().Format(time.RFC3339)))
	buf.WriteString("# Thresholds are exceeded when the metric is strictly greater than the threshold.\n")
	buf.WriteString("# Categories without a threshold or condition always require approval.\n\n")
	buf.Write(body)
	return buf.String(), nil
}
