// Package redact scrubs credentials from transcript text before it is sent
// to the language model or published, using the gitleaks rule set.
package redact

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/logging"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Match  string
}

// Redactor replaces detected secrets with [REDACTED:rule:preview] markers.
// It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *logging.Logger
}

// New builds a redactor on the default gitleaks rules plus allowlist, which
// may be nil.
func New(allowlist *Allowlist, logger *logging.Logger) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create secret detector: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Redactor{detector: detector, logger: logger}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{
		Description: "conceptd transcript allowlist",
		StopWords:   allowlist.StopWords,
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Detect returns the secrets found in text.
func (r *Redactor) Detect(text string) []Finding {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r.mu.Lock()
	raw := r.detector.DetectString(text)
	r.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Match: f.Secret})
	}
	return findings
}

// Redact returns text with every detected secret replaced.
func (r *Redactor) Redact(ctx context.Context, text string) string {
	findings := r.Detect(text)
	if len(findings) == 0 {
		return text
	}

	// Longest first, so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Match) > len(findings[j].Match)
	})
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		text = strings.ReplaceAll(text, f.Match, marker(f))
		rules = append(rules, f.RuleID)
	}

	r.logger.Info(ctx, "redacted secrets from transcript",
		zap.Int("count", len(findings)),
		zap.Strings("rules", rules))
	return text
}

func marker(f Finding) string {
	return fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
