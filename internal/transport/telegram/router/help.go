package router

import (
	"html"
	"strings"
)

// AdminHelp renders the admin command block appended to /help for the admin.
func (r *Router) AdminHelp() string {
	r.mu.RLock()
	cmds := r.ordered
	r.mu.RUnlock()

	lines := []string{"<b>👑 Admin Control:</b>"}
	for _, c := range cmds {
		if c.Access != AccessAdmin {
			continue
		}
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		line := html.EscapeString(usage)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}
