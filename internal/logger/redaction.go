package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// minSecretLen keeps short literals like "abc" from blanking ordinary log text.
const minSecretLen = 8

// credentialPatterns cover provider keys and the gateway's own credentials.
// Order matters: the anthropic prefix must be tried before the openai one.
var credentialPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`AIza[0-9A-Za-z_-]{35}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`signature["\s:=]+[a-fA-F0-9]{32,}`,
	`(?i)x-jobats-secret["\s:=]+[^\s",}]+`,
	`(?i)(api_key|apikey|shared_secret|password|secret)["\s:=]+[^\s",}]+`,
}

// Redactor scrubs credentials from log lines before they reach any writer.
// Besides the built-in patterns it masks literal values registered with
// AddSecret, such as the configured shared secret.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  *regexp.Regexp
	literals []string
}

func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range credentialPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// AddSecret masks exact occurrences of values. Values shorter than eight
// characters are ignored.
func (r *Redactor) AddSecret(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range values {
		if len(v) >= minSecretLen {
			r.literals = append(r.literals, regexp.QuoteMeta(v))
		}
	}
	if len(r.literals) == 0 {
		return
	}
	alt := r.literals[0]
	for _, l := range r.literals[1:] {
		alt += "|" + l
	}
	r.secrets = regexp.MustCompile(alt)
}

func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.secrets != nil {
		s = r.secrets.ReplaceAllLiteralString(s, redacted)
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllLiteralString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts every line written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

// Write reports len(p) on success; the redacted line is usually a different length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
