package config

import (
	"fmt"
	"os"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// applyFile overlays the KDL file at path onto cfg. A missing file is not an
// error.
func applyFile(cfg *Config, path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := applyKDL(cfg, string(content)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// parseKDL parses content over the defaults
func parseKDL(content string) (*Config, error) {
	cfg := Default()
	if err := applyKDL(cfg, content); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyKDL overlays a configuration document:
//
//	index { max_parallel_loads 4; exclude "**/*.resources.dll" }
//	watch { enabled true; debounce_ms 250 }
//	protocol { unknown_command "error" }
//	log { level "info"; format "json"; file "" }
//	metrics { addr ":9464" }
func applyKDL(cfg *Config, content string) error {
	if err := checkBalanced(content); err != nil {
		return fmt.Errorf("failed to parse KDL config: %w", err)
	}
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_parallel_loads":
					assignInt(cn, &cfg.Index.MaxParallelLoads)
				case "cache_entries":
					assignInt(cn, &cfg.Index.CacheEntries)
				case "lock_timeout_ms":
					assignInt(cn, &cfg.Index.LockTimeoutMs)
				case "lock_initial_backoff_ms":
					assignInt(cn, &cfg.Index.LockInitialBackoffMs)
				case "framework_dirs":
					cfg.Index.FrameworkDirs = DeduplicatePatterns(append(cfg.Index.FrameworkDirs, collectStringArgs(cn)...))
				case "nuget_packages":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.NuGetPackages = s
					}
				case "exclude":
					cfg.Index.Exclude = DeduplicatePatterns(append(cfg.Index.Exclude, collectStringArgs(cn)...))
				}
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					assignInt(cn, &cfg.Watch.DebounceMs)
				}
			}
		case "protocol":
			for _, cn := range n.Children {
				if nodeName(cn) == "unknown_command" {
					if s, ok := firstStringArg(cn); ok {
						cfg.Protocol.UnknownCommand = strings.ToLower(s)
					}
				}
			}
		case "log":
			for _, cn := range n.Children {
				assignSimpleString(cn, "level", func(v string) { cfg.Log.Level = v })
				assignSimpleString(cn, "format", func(v string) { cfg.Log.Format = v })
				assignSimpleString(cn, "file", func(v string) { cfg.Log.File = v })
			}
		case "metrics":
			for _, cn := range n.Children {
				assignSimpleString(cn, "addr", func(v string) { cfg.Metrics.Addr = v })
			}
		}
	}
	return nil
}

// checkBalanced rejects documents whose child blocks are not closed. The
// parser accepts a missing closing brace, which would apply a truncated
// file partially. Braces inside strings and comments do not count.
func checkBalanced(content string) error {
	depth, line := 0, 1
	for i := 0; i < len(content); i++ {
		switch c := content[i]; {
		case c == '\n':
			line++
		case c == '"':
			end := closingQuote(content, i+1)
			if end < 0 {
				return fmt.Errorf("line %d: unterminated string", line)
			}
			line += strings.Count(content[i:end], "\n")
			i = end
		case c == 'r' && (i == 0 || !isIdentByte(content[i-1])) && rawStringStart(content, i+1) >= 0:
			hashes := rawStringStart(content, i+1)
			open := i + 1 + hashes + 1
			closer := "\"" + strings.Repeat("#", hashes)
			end := strings.Index(content[open:], closer)
			if end < 0 {
				return fmt.Errorf("line %d: unterminated raw string", line)
			}
			line += strings.Count(content[i:open+end], "\n")
			i = open + end + len(closer) - 1
		case c == '/' && i+1 < len(content) && content[i+1] == '/':
			for i+1 < len(content) && content[i+1] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(content) && content[i+1] == '*':
			end, ok := closingComment(content, i+2)
			if !ok {
				return fmt.Errorf("line %d: unterminated comment", line)
			}
			line += strings.Count(content[i:end], "\n")
			i = end
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("line %d: unexpected '}'", line)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%d unclosed block(s) at end of document", depth)
	}
	return nil
}

// closingQuote returns the index of the quote ending a string whose body
// starts at from, or -1
func closingQuote(content string, from int) int {
	for j := from; j < len(content); j++ {
		switch content[j] {
		case '\\':
			j++
		case '"':
			return j
		}
	}
	return -1
}

// rawStringStart reports the number of '#' between r and the opening quote
// of a raw string at from, or -1 when from does not open one
func rawStringStart(content string, from int) int {
	hashes := 0
	for j := from; j < len(content); j++ {
		switch content[j] {
		case '#':
			hashes++
		case '"':
			return hashes
		default:
			return -1
		}
	}
	return -1
}

// closingComment returns the index of the '/' ending a block comment whose
// body starts at from. Block comments nest.
func closingComment(content string, from int) (int, bool) {
	depth := 1
	for j := from; j+1 < len(content); j++ {
		switch {
		case content[j] == '/' && content[j+1] == '*':
			depth++
			j++
		case content[j] == '*' && content[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

// collectStringArgs accepts both inline lists (exclude "a" "b") and block
// lists (exclude { "a"; "b" })
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

func assignInt(n *document.Node, target *int) {
	if v, ok := firstIntArg(n); ok {
		*target = v
	}
}
