package stage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bankchat/bankchat-go/bankchat"
)

// renderTemplate joins the configured prompt fragments with newlines and
// substitutes {name} placeholders from values. Unknown placeholders are left
// in place so a template typo is visible in the stage logs rather than
// silently dropped.
func renderTemplate(fragments []string, values map[string]string) string {
	text := strings.Join(fragments, "\n")
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// summarizeHistory renders the most recent turns as numbered lines carrying
// the user query plus the intent, tool, and accounts extracted from that
// turn's stage outputs.
func summarizeHistory(history []bankchat.Turn, maxEntries int) string {
	if len(history) == 0 {
		return "이전 대화 없음"
	}
	if maxEntries > 0 && len(history) > maxEntries {
		history = history[len(history)-maxEntries:]
	}

	var lines []string
	for i, turn := range history {
		line := fmt.Sprintf("대화 %d: %s", i+1, turn.UserText)
		if pre, ok := turn.StageOutput("preprocessing"); ok {
			if intent := pre.Fields.String(bankchat.FieldIntent); intent != "" {
				line += fmt.Sprintf(" (의도: %s)", intent)
			}
		}
		if dom, ok := turn.StageOutput("domain"); ok {
			if tool := dom.Fields.String(bankchat.FieldToolName); tool != "" {
				line += fmt.Sprintf(" (도구: %s)", tool)
			}
			if accounts := turnAccounts(dom); len(accounts) > 0 {
				line += fmt.Sprintf(" (계좌: %s)", strings.Join(accounts, ", "))
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// formatState renders the current-state map for prompt injection.
func formatState(state bankchat.Fields) string {
	var lines []string
	if account := state.String("selected_account"); account != "" {
		lines = append(lines, "- 선택된 계좌: "+account)
	}
	if intent := state.String("last_intent"); intent != "" {
		lines = append(lines, "- 이전 의도: "+intent)
	}
	if slots := state.Strings("last_slots"); len(slots) > 0 {
		lines = append(lines, "- 이전 슬롯: "+strings.Join(slots, ", "))
	}
	if pending := state.String("pending_action"); pending != "" {
		lines = append(lines, "- 진행 중인 작업: "+pending)
	}
	if len(lines) == 0 {
		return "상태 정보 없음"
	}
	return strings.Join(lines, "\n")
}

// referenceGuide lists the accounts and prior intent a rewrite can resolve
// references against ("그 계좌" and the like).
func referenceGuide(history []bankchat.Turn, state bankchat.Fields) string {
	var lines []string
	if accounts := accountsFromHistory(history); len(accounts) > 0 {
		lines = append(lines, "- 언급된 계좌: "+strings.Join(accounts, ", "))
	}
	if account := state.String("selected_account"); account != "" {
		lines = append(lines, "- 현재 선택된 계좌: "+account)
	}
	if intent := state.String("last_intent"); intent != "" {
		lines = append(lines, "- 이전 의도: "+intent)
	}
	if len(lines) == 0 {
		return "참조 해결 가이드 없음"
	}
	return strings.Join(lines, "\n")
}

// accountsFromHistory collects the distinct account numbers surfaced by
// prior domain-stage tool outputs, oldest first.
func accountsFromHistory(history []bankchat.Turn) []string {
	seen := make(map[string]bool)
	var accounts []string
	for _, turn := range history {
		dom, ok := turn.StageOutput("domain")
		if !ok {
			continue
		}
		for _, account := range turnAccounts(dom) {
			if !seen[account] {
				seen[account] = true
				accounts = append(accounts, account)
			}
		}
	}
	return accounts
}

func turnAccounts(dom bankchat.StageResult) []string {
	out := dom.Fields.Map(bankchat.FieldToolOutput)
	if out == nil {
		return nil
	}
	if account := out.String("account_number"); account != "" {
		return []string{account}
	}
	return nil
}

// formatMapping renders a string map as "- key -> value" lines in sorted
// order, for the intent mapping tables embedded in prompts.
func formatMapping(mapping map[string]string) string {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s -> %s", k, mapping[k]))
	}
	return strings.Join(lines, "\n")
}

// formatCatalog renders a name->description map as "- name: description"
// lines in sorted order.
func formatCatalog(catalog map[string]string) string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, catalog[k]))
	}
	return strings.Join(lines, "\n")
}
