package scenario

import (
	"fmt"
	"strings"

	"github.com/ringcast/ringcast/internal/apperr"
)

// VADMode selects the model's turn-detection variant.
type VADMode string

const (
	VADServer   VADMode = "server_vad"
	VADSemantic VADMode = "semantic_vad"
)

// VADPolicy is the turn-detection config sent in session.update. Exactly
// the fields of the selected mode are marshalled.
type VADPolicy struct {
	Mode              VADMode
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
	Eagerness         string
}

// ServerVAD returns the server_vad defaults.
func ServerVAD() VADPolicy {
	return VADPolicy{
		Mode:              VADServer,
		Threshold:         0.5,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 700,
	}
}

// SemanticVAD returns a semantic_vad policy with the given eagerness.
func SemanticVAD(eagerness string) VADPolicy {
	if eagerness == "" {
		eagerness = "auto"
	}
	return VADPolicy{Mode: VADSemantic, Eagerness: eagerness}
}

// VADForScenario picks a turn-detection policy from scenario-name keywords.
// Calm, listening-heavy scenarios get low eagerness; urgent ones get high.
func VADForScenario(name string) VADPolicy {
	n := strings.ToLower(name)
	for _, kw := range []string{"therapy", "counseling", "interview", "conversation"} {
		if strings.Contains(n, kw) {
			return SemanticVAD("low")
		}
	}
	for _, kw := range []string{"support", "help", "emergency", "urgent"} {
		if strings.Contains(n, kw) {
			return SemanticVAD("high")
		}
	}
	return SemanticVAD("auto")
}

// Validate checks mode and parameter ranges.
func (p VADPolicy) Validate() error {
	switch p.Mode {
	case VADServer:
		if p.Threshold < 0 || p.Threshold > 1 {
			return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, "vad threshold must be within [0,1]")
		}
		if p.PrefixPaddingMS < 0 || p.PrefixPaddingMS > 2000 {
			return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, "vad prefix_padding_ms must be within [0,2000]")
		}
		if p.SilenceDurationMS < 100 || p.SilenceDurationMS > 5000 {
			return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, "vad silence_duration_ms must be within [100,5000]")
		}
	case VADSemantic:
		switch p.Eagerness {
		case "low", "medium", "high", "auto":
		default:
			return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("unknown vad eagerness %q", p.Eagerness))
		}
	default:
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("unknown vad mode %q", p.Mode))
	}
	return nil
}

// TurnDetection renders the session.update turn_detection payload.
func (p VADPolicy) TurnDetection() map[string]any {
	switch p.Mode {
	case VADServer:
		return map[string]any{
			"type":                p.Mode,
			"threshold":           p.Threshold,
			"prefix_padding_ms":   p.PrefixPaddingMS,
			"silence_duration_ms": p.SilenceDurationMS,
			"create_response":     true,
			"interrupt_response":  true,
		}
	default:
		return map[string]any{
			"type":               p.Mode,
			"eagerness":          p.Eagerness,
			"create_response":    true,
			"interrupt_response": true,
		}
	}
}
