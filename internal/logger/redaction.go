package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

// minSecretLength keeps short literal secrets from masking ordinary words.
const minSecretLength = 4

type redactionRule struct {
	re          *regexp.Regexp
	replacement string
}

// Credential shapes. Rules that keep a captured prefix leave JSON keys and
// header names intact so redacted lines still parse.
var defaultRules = []redactionRule{
	{re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`), replacement: redacted},
	{re: regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), replacement: redacted},
	{re: regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), replacement: redacted},
	// Telegram bot tokens, including inside api.telegram.org/bot<token>/ URLs.
	{re: regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`), replacement: redacted},
	{re: regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._~+/-]+=*`), replacement: "${1}" + redacted},
	{re: regexp.MustCompile(`(?i)(x-scribe-secret["']?\s*[:=]\s*["']?)[^\s"',}]+`), replacement: "${1}" + redacted},
	{re: regexp.MustCompile(`(?i)((?:password|pwd|secret|api_key|apikey|token)["']?\s*[:=]\s*["']?)[^\s"',}]+`), replacement: "${1}" + redacted},
}

// Redactor masks credentials in log output.
type Redactor struct {
	mu       sync.RWMutex
	rules    []redactionRule
	literals *strings.Replacer
	secrets  []string
}

// NewRedactor returns a redactor with the default rules. secrets are masked
// verbatim wherever they appear; empty and very short values are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{
		rules: append([]redactionRule(nil), defaultRules...),
	}
	r.AddSecrets(secrets...)
	return r
}

// AddPattern masks every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.rules = append(r.rules, redactionRule{re: re, replacement: redacted})
	r.mu.Unlock()
	return nil
}

// AddSecrets masks each secret verbatim.
func (r *Redactor) AddSecrets(secrets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, secret := range secrets {
		if len(secret) < minSecretLength {
			continue
		}
		r.secrets = append(r.secrets, secret)
	}
	if len(r.secrets) == 0 {
		return
	}

	pairs := make([]string, 0, len(r.secrets)*2)
	for _, secret := range r.secrets {
		pairs = append(pairs, secret, redacted)
	}
	r.literals = strings.NewReplacer(pairs...)
}

// Redact returns s with every credential masked.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.literals != nil {
		s = r.literals.Replace(s)
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.replacement)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success even when redaction changed the length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	out := w.redactor.Redact(string(p))
	n, err := io.WriteString(w.writer, out)
	if err != nil {
		return 0, err
	}
	if n < len(out) {
		return 0, io.ErrShortWrite
	}
	return len(p), nil
}
