package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Default model per provider, offered by the wizard.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-2.0-flash",
}

const secretAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard. base supplies existing
// values; nil starts from defaults.
func (w *Wizard) Run(base *Config) (*Config, error) {
	w.println("=== Jobats Configuration Wizard ===")
	w.println()

	cfg := DefaultConfig()
	if base != nil {
		clone := *base
		clone.AI.Profiles = append([]AIProfile(nil), base.AI.Profiles...)
		cfg = &clone
	}
	validator := NewValidator()

	// Provider
	w.println("AI Provider:")
	var provider string
	for {
		w.printf("Provider (openai/anthropic/gemini) [openai]: ")
		p, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if p == "" {
			p = "openai"
		}
		if err := validator.ValidateProvider(p); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		provider = p
		break
	}

	var apiKey string
	for {
		w.printf("%s API Key: ", provider)
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key, provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		apiKey = key
		break
	}

	w.printf("Model name [%s]: ", defaultModels[provider])
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultModels[provider]
	}

	profile := AIProfile{
		ID:       provider,
		Provider: provider,
		APIKey:   apiKey,
		Model:    model,
	}
	cfg.AI.Profiles = upsertProfile(cfg.AI.Profiles, profile)
	if cfg.AI.DefaultProfile == "" {
		cfg.AI.DefaultProfile = cfg.DefaultProfileID()
	}

	w.println()

	// Gateway
	w.println("Gateway:")
	w.printf("Shared secret (press Enter to generate): ")
	secret, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if secret == "" {
		secret, err = gonanoid.Generate(secretAlphabet, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate shared secret: %w", err)
		}
		w.printf("Generated secret: %s\n", secret)
	} else if err := validator.ValidateSharedSecret(secret); err != nil {
		w.printf("Warning: %v\n", err)
	}
	cfg.Gateway.SharedSecret = secret

	w.println()

	// Log Level
	w.println("Logging:")
	w.printf("Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println()
	w.println("Configuration complete!")

	return cfg, nil
}

func upsertProfile(profiles []AIProfile, p AIProfile) []AIProfile {
	for i := range profiles {
		if profiles[i].ID == p.ID {
			profiles[i] = p
			return profiles
		}
	}
	return append(profiles, p)
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) printf(format string, args ...interface{}) {
	fmt.Fprintf(w.out, format, args...)
}

func (w *Wizard) println(args ...interface{}) {
	fmt.Fprintln(w.out, args...)
}
