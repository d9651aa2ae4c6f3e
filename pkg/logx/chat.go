package logx

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	sendTimeout   = 10 * time.Second
	chatLineLimit = 3500
	chatValLimit  = 600
)

// renderChatLine turns a zerolog JSON line into "[LEVEL] message" followed
// by one "- key=value" line per field, sorted by key.
func renderChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatLineLimit)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatValLimit))
	}
	return clip(b.String(), chatLineLimit)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
