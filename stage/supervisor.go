package stage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
)

// Supervisor routes the turn to a target domain based on the extracted
// intent. When the model's choice is unusable the static intent-to-domain
// mapping decides instead.
type Supervisor struct {
	base
}

var _ bankchat.Stage = (*Supervisor)(nil)

// NewSupervisor creates the supervisor stage.
func NewSupervisor(cfg *config.StageConfig, shared config.Shared, model llm.LLM, logger *slog.Logger) *Supervisor {
	return &Supervisor{base: newBase(cfg, shared, model, logger)}
}

// Execute selects the target domain for the turn.
func (s *Supervisor) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	values := s.commonValues(pctx)
	values["normalized_text"] = in.String(bankchat.FieldNormalizedText)
	values["intent"] = in.String(bankchat.FieldIntent)
	values["slot"] = strings.Join(in.Strings(bankchat.FieldSlot), ", ")
	values["intent_domain_mapping_list"] = formatMapping(s.cfg.IntentDomain)

	raw, err := s.callModel(ctx, values)
	if err != nil {
		return bankchat.StageResult{}, err
	}

	fields, err := parseReply(s.name, raw)
	if err != nil {
		s.logger.Warn("falling back to mapped domain", "error", err)
		return s.Fallback(in, pctx), nil
	}

	domain := fields.String(bankchat.FieldTargetDomain)
	if domain == "" {
		domain = s.mappedDomain(in.String(bankchat.FieldIntent))
	}

	return s.result(s.routed(in, domain)), nil
}

// Fallback routes by the static mapping.
func (s *Supervisor) Fallback(in bankchat.Fields, _ *bankchat.PipelineContext) bankchat.StageResult {
	result := s.fallbackResult(s.routed(in, s.mappedDomain(in.String(bankchat.FieldIntent))))
	return result
}

// routed builds the stage output: the chosen domain plus the predecessor
// fields the domain stage still needs.
func (s *Supervisor) routed(in bankchat.Fields, domain string) bankchat.Fields {
	return bankchat.Fields{
		bankchat.FieldTargetDomain:   domain,
		bankchat.FieldNormalizedText: in.String(bankchat.FieldNormalizedText),
		bankchat.FieldIntent:         in.String(bankchat.FieldIntent),
		bankchat.FieldSlot:           in.Strings(bankchat.FieldSlot),
	}
}

func (s *Supervisor) mappedDomain(intent string) string {
	if domain, ok := s.cfg.IntentDomain[intent]; ok {
		return domain
	}
	return s.cfg.DefaultDomain
}
