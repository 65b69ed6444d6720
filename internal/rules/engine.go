// Package rules applies deterministic text substitutions to transcripts,
// loaded from a user-maintained corrections file. Typical entries fix
// recurring recognition mistakes ("get hub" -> "GitHub").
//
// File format, one rule per line, '#' comments:
//
//	"literal find" => "replacement"
//	/regex/ => "replacement"
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

type rule struct {
	literal string
	pattern *regexp.Regexp
	replace string
}

func (r rule) apply(input string) (string, bool) {
	var out string
	if r.pattern != nil {
		out = r.pattern.ReplaceAllString(input, r.replace)
	} else {
		out = strings.ReplaceAll(input, r.literal, r.replace)
	}
	return out, out != input
}

// Engine applies substitutions until a fixpoint, bounded by an iteration
// limit so mutually-feeding rules cannot loop forever.
type Engine struct {
	rules     []rule
	loopLimit int
}

// NewEngine loads rules from a file. A missing or empty path yields an
// engine that passes text through unchanged.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if strings.TrimSpace(path) == "" {
		return &Engine{loopLimit: loopLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Engine{loopLimit: loopLimit}, nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	rules, err := parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", path, err)
	}
	return &Engine{rules: rules, loopLimit: loopLimit}, nil
}

// Apply transforms text deterministically.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, r := range e.rules {
			next, ruleChanged := r.apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func parse(contents string) ([]rule, error) {
	var rules []rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseLine(line string) (rule, error) {
	find, replace, ok := strings.Cut(line, "=>")
	if !ok {
		return rule{}, errors.New("missing '=>' separator")
	}
	find = strings.TrimSpace(find)

	replaceText, err := unquote(strings.TrimSpace(replace))
	if err != nil {
		return rule{}, fmt.Errorf("replacement: %w", err)
	}

	if strings.HasPrefix(find, "/") {
		if len(find) < 2 || !strings.HasSuffix(find, "/") {
			return rule{}, errors.New("unterminated regex pattern")
		}
		pattern, err := regexp.Compile(find[1 : len(find)-1])
		if err != nil {
			return rule{}, fmt.Errorf("pattern: %w", err)
		}
		return rule{pattern: pattern, replace: replaceText}, nil
	}

	literal, err := unquote(find)
	if err != nil {
		return rule{}, fmt.Errorf("find text: %w", err)
	}
	if literal == "" {
		return rule{}, errors.New("empty find text")
	}
	return rule{literal: literal, replace: replaceText}, nil
}

func unquote(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return "", errors.New("expected a double-quoted string")
	}
	return strconv.Unquote(s)
}
