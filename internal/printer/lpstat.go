package printer

import (
	"regexp"
	"strings"
)

// Status words lpstat prints after the queue name in Chinese locales
var lpstatZhStates = []string{"闲置", "已禁用", "正在打印"}

var requestIDPattern = regexp.MustCompile(`request id is (\S+)`)

// parseLpstat extracts queue names from `lpstat -p` output. Both the English
// "printer NAME is idle..." and the Chinese "打印机NAME闲置..." forms occur.
func parseLpstat(out string) []string {
	var printers []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, "printer "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				printers = append(printers, fields[1])
			}

		case strings.HasPrefix(line, "打印机"):
			rest := strings.TrimPrefix(line, "打印机")
			name := ""
			for _, state := range lpstatZhStates {
				if pos := strings.Index(rest, state); pos >= 0 {
					name = rest[:pos]
					break
				}
			}
			if name == "" {
				fields := strings.FieldsFunc(rest, func(r rune) bool {
					return r == ',' || r == '，' || r == ' '
				})
				if len(fields) > 0 {
					name = fields[0]
				}
			}
			if name = strings.TrimSpace(name); name != "" {
				printers = append(printers, name)
			}
		}
	}

	return printers
}

// parseJobID finds the job id in lp output such as
// "request id is Label-42 (1 file(s))"
func parseJobID(out string) string {
	m := requestIDPattern.FindStringSubmatch(out)
	if m == nil {
		return ""
	}
	return m[1]
}
