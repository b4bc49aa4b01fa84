package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Render writes c as an nginx server block.
func (c Config) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "server {\n    listen %d;\n", c.Listen)
	for _, r := range c.Rules {
		bw.WriteString("\n")
		if r.Match == MatchExact {
			fmt.Fprintf(bw, "    location = %s {\n", r.Path)
		} else {
			fmt.Fprintf(bw, "    location %s {\n", r.Path)
		}
		if r.Static != nil {
			fmt.Fprintf(bw, "        alias %s;\n", r.Static.Root)
			fmt.Fprintf(bw, "        autoindex %s;\n", onOff(r.Static.Listing))
		} else {
			fmt.Fprintf(bw, "        proxy_pass %s;\n", r.Upstream)
			bw.WriteString("        proxy_set_header Host $host;\n")
			bw.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
			bw.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
			bw.WriteString("        proxy_buffering off;\n")
			if s := r.Substitution; s != nil {
				bw.WriteString("        proxy_set_header Accept-Encoding \"\";\n")
				fmt.Fprintf(bw, "        sub_filter %s %s;\n", quoteArg(s.Marker), quoteArg(s.Replacement))
				bw.WriteString("        sub_filter_once on;\n")
			}
		}
		bw.WriteString("    }\n")
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func quoteArg(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// WriteFile renders c to path atomically: readers see either the previous
// file or the complete new one.
func (c Config) WriteFile(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.Render(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("render config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile reads a config written by WriteFile.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%s: %w", path, ErrConfigMissing)
	}
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Parse(f)
}

type directive struct {
	name  string
	args  []string
	block []directive
	line  int
}

// Parse reads the subset of nginx syntax that Render produces. Directives it
// does not interpret are ignored.
func Parse(r io.Reader) (Config, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	toks, err := tokenize(string(src))
	if err != nil {
		return Config{}, err
	}
	p := &parser{toks: toks}
	top, err := p.block(false)
	if err != nil {
		return Config{}, err
	}

	body := top
	for _, d := range top {
		if d.name == "server" {
			body = d.block
			break
		}
	}

	var cfg Config
	for _, d := range body {
		switch d.name {
		case "listen":
			if len(d.args) != 1 {
				return Config{}, fmt.Errorf("line %d: listen takes one argument", d.line)
			}
			port, err := strconv.Atoi(strings.TrimPrefix(d.args[0], "*:"))
			if err != nil {
				return Config{}, fmt.Errorf("line %d: listen: %w", d.line, err)
			}
			cfg.Listen = port
		case "location":
			rule, err := parseLocation(d)
			if err != nil {
				return Config{}, err
			}
			cfg.Rules = append(cfg.Rules, rule)
		}
	}
	return cfg, cfg.Validate()
}

func parseLocation(d directive) (RoutingRule, error) {
	rule := RoutingRule{Match: MatchPrefix}
	switch {
	case len(d.args) == 2 && d.args[0] == "=":
		rule.Match = MatchExact
		rule.Path = d.args[1]
	case len(d.args) == 1:
		rule.Path = d.args[0]
	default:
		return rule, fmt.Errorf("line %d: unsupported location %v", d.line, d.args)
	}

	var listing bool
	for _, inner := range d.block {
		switch inner.name {
		case "proxy_pass":
			if len(inner.args) != 1 {
				return rule, fmt.Errorf("line %d: proxy_pass takes one argument", inner.line)
			}
			rule.Upstream = inner.args[0]
		case "alias", "root":
			if len(inner.args) != 1 {
				return rule, fmt.Errorf("line %d: %s takes one argument", inner.line, inner.name)
			}
			if rule.Static == nil {
				rule.Static = &Static{}
			}
			rule.Static.Root = inner.args[0]
		case "autoindex":
			listing = len(inner.args) == 1 && inner.args[0] == "on"
		case "sub_filter":
			if len(inner.args) != 2 {
				return rule, fmt.Errorf("line %d: sub_filter takes two arguments", inner.line)
			}
			rule.Substitution = &Substitution{Marker: inner.args[0], Replacement: inner.args[1]}
		}
	}
	if rule.Static != nil {
		rule.Static.Listing = listing
	}
	return rule, nil
}

type token struct {
	text   string
	quoted bool
	line   int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	line := 1
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '{' || c == '}' || c == ';':
			toks = append(toks, token{text: string(c), line: line})
			i++
		case c == '\'' || c == '"':
			var b strings.Builder
			start := line
			i++
			for {
				if i >= len(src) {
					return nil, fmt.Errorf("line %d: unterminated string", start)
				}
				if src[i] == c {
					i++
					break
				}
				if src[i] == '\\' && i+1 < len(src) {
					i++
				}
				if src[i] == '\n' {
					line++
				}
				b.WriteByte(src[i])
				i++
			}
			toks = append(toks, token{text: b.String(), quoted: true, line: start})
		default:
			start := i
			for i < len(src) && !strings.ContainsRune(" \t\r\n{};#", rune(src[i])) {
				i++
			}
			toks = append(toks, token{text: src[start:i], line: line})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) block(nested bool) ([]directive, error) {
	var out []directive
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if !t.quoted && t.text == "}" {
			if !nested {
				return nil, fmt.Errorf("line %d: unexpected }", t.line)
			}
			p.pos++
			return out, nil
		}
		if !t.quoted && (t.text == "{" || t.text == ";") {
			return nil, fmt.Errorf("line %d: unexpected %s", t.line, t.text)
		}

		d := directive{name: t.text, line: t.line}
		p.pos++
		for {
			if p.pos >= len(p.toks) {
				return nil, fmt.Errorf("line %d: %s: unexpected end of input", d.line, d.name)
			}
			a := p.toks[p.pos]
			p.pos++
			if !a.quoted && a.text == ";" {
				break
			}
			if !a.quoted && a.text == "{" {
				inner, err := p.block(true)
				if err != nil {
					return nil, err
				}
				d.block = inner
				break
			}
			if !a.quoted && a.text == "}" {
				return nil, fmt.Errorf("line %d: unexpected }", a.line)
			}
			d.args = append(d.args, a.text)
		}
		out = append(out, d)
	}
	if nested {
		return nil, errors.New("unexpected end of input: missing }")
	}
	return out, nil
}
