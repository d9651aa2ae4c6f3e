package router

import "strings"

// helpText lists commands with their usage and aliases in plain text.
func (r *Router) helpText() string {
	lines := []string{"Commands:"}
	for _, c := range r.cmds {
		line := c.Usage
		if line == "" {
			line = "/" + c.Name
		}
		if c.Description != "" {
			line += " - " + c.Description
		}
		if len(c.Aliases) > 0 {
			line += " (also /" + strings.Join(c.Aliases, ", /") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
