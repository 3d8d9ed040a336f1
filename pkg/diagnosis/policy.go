package diagnosis

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/arobust/arobust/pkg/config"
	"github.com/arobust/arobust/pkg/types"
)

// ErrInvalidPolicy is wrapped by every policy construction failure
var ErrInvalidPolicy = errors.New("invalid diagnosis policy")

// Rule classifies failures. A rule matches a failure when the failure key is
// allowed by Keys (empty allows every key) and the value contains one of
// Contains (case-insensitive) or matches Pattern.
type Rule struct {
	Name          string
	Category      string
	Keys          []string
	Contains      []string
	Pattern       string
	Unrecoverable bool

	// Threshold overrides the policy restart threshold when > 0
	Threshold int
}

type compiledRule struct {
	Rule
	keys     map[string]struct{}
	contains []string
	re       *regexp.Regexp
}

func (r *compiledRule) matches(key, value string) bool {
	if len(r.keys) > 0 {
		if _, ok := r.keys[key]; !ok {
			return false
		}
	}
	lower := strings.ToLower(value)
	for _, needle := range r.contains {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return r.re != nil && r.re.MatchString(value)
}

// Policy is the immutable decision table of an engine
type Policy struct {
	threshold int
	rules     []compiledRule
}

// NewPolicy validates and compiles rules. Rules are evaluated in order.
func NewPolicy(threshold int, rules []Rule) (*Policy, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: restart threshold must be positive, got %d", ErrInvalidPolicy, threshold)
	}

	p := &Policy{threshold: threshold}
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidPolicy, i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule %q", ErrInvalidPolicy, r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Threshold < 0 {
			return nil, fmt.Errorf("%w: rule %q has negative threshold", ErrInvalidPolicy, r.Name)
		}

		cr := compiledRule{Rule: r}
		for _, s := range r.Contains {
			if s = strings.TrimSpace(s); s != "" {
				cr.contains = append(cr.contains, strings.ToLower(s))
			}
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidPolicy, r.Name, err)
			}
			cr.re = re
		}
		if len(cr.contains) == 0 && cr.re == nil {
			return nil, fmt.Errorf("%w: rule %q needs contains or pattern", ErrInvalidPolicy, r.Name)
		}
		if len(r.Keys) > 0 {
			cr.keys = make(map[string]struct{}, len(r.Keys))
			for _, k := range r.Keys {
				cr.keys[k] = struct{}{}
			}
		}
		p.rules = append(p.rules, cr)
	}
	return p, nil
}

// PolicyFromConfig builds a policy from the diagnosis config section
func PolicyFromConfig(cfg config.DiagnosisConfig) (*Policy, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rules = append(rules, Rule{
			Name:          rc.Name,
			Category:      rc.Category,
			Keys:          rc.Keys,
			Contains:      rc.Contains,
			Pattern:       rc.Pattern,
			Unrecoverable: rc.Unrecoverable,
			Threshold:     rc.Threshold,
		})
	}
	return NewPolicy(cfg.RestartThreshold, rules)
}

// Threshold returns the default restart threshold
func (p *Policy) Threshold() int { return p.threshold }

// Rules returns a copy of the rule table
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	for i, r := range p.rules {
		out[i] = r.Rule
	}
	return out
}

// Evaluate decides the recovery action for failures. The first rule (in
// table order) that matches any failure wins; failure keys are visited in
// sorted order so the result does not depend on map iteration.
func (p *Policy) Evaluate(failures map[string]string, restartCount int) types.DiagnosisAction {
	keys := make([]string, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i := range p.rules {
		r := &p.rules[i]
		for _, k := range keys {
			if r.matches(k, failures[k]) {
				return p.decide(r, k, restartCount)
			}
		}
	}

	return types.NewAction(types.ActionContinue, map[string]string{
		"reason":        "no known failure matched",
		"restart_count": strconv.Itoa(restartCount),
	})
}

func (p *Policy) decide(r *compiledRule, key string, restartCount int) types.DiagnosisAction {
	threshold := p.threshold
	if r.Threshold > 0 {
		threshold = r.Threshold
	}
	params := map[string]string{
		"rule":          r.Name,
		"category":      r.Category,
		"failure_key":   key,
		"restart_count": strconv.Itoa(restartCount),
		"threshold":     strconv.Itoa(threshold),
	}

	switch {
	case r.Unrecoverable:
		params["reason"] = "unrecoverable failure"
		return types.NewAction(types.ActionFailFast, params)
	case restartCount < threshold:
		params["reason"] = "restart count below threshold"
		return types.NewAction(types.ActionRestartWorker, params)
	default:
		params["reason"] = "restart threshold reached"
		return types.NewAction(types.ActionRelaunchFull, params)
	}
}
