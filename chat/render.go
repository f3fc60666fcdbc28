package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bankchat/bankchat-go/bankchat"
)

// Renderer turns the terminal stage's tool result into the user-facing
// answer. Each known tool has its own Korean template; tools without one get
// a generic rendering of the payload. A degraded tool result renders the
// configured tool-error answer instead.
type Renderer struct {
	toolErrorAnswer string
}

// NewRenderer creates a renderer with the configured degraded-tool answer.
func NewRenderer(toolErrorAnswer string) *Renderer {
	if toolErrorAnswer == "" {
		toolErrorAnswer = "죄송합니다. 요청을 처리하지 못했습니다. 다시 한 번 말씀해 주시겠어요?"
	}
	return &Renderer{toolErrorAnswer: toolErrorAnswer}
}

// Render builds the answer from the terminal stage fields and the customer
// profile. The customer name, when known, personalizes the greeting.
func (r *Renderer) Render(fields bankchat.Fields, customer bankchat.Fields) string {
	output := fields.Map(bankchat.FieldToolOutput)
	if output == nil || output.String("status") == "error" {
		return r.toolErrorAnswer
	}

	prefix := ""
	if name := customer.String("name"); name != "" {
		prefix = name + "님, "
	}

	switch fields.String(bankchat.FieldToolName) {
	case "account_balance":
		return prefix + renderBalance(output)
	case "transaction_history":
		return prefix + renderTransactions(output)
	case "transfer":
		return prefix + renderTransfer(output)
	case "card_info":
		return prefix + renderCard(output)
	default:
		return prefix + renderGeneric(output)
	}
}

func renderBalance(output bankchat.Fields) string {
	account := output.String("account_number")
	balance := formatNumber(output["balance"])
	if account == "" {
		return fmt.Sprintf("현재 잔액은 %s원입니다.", balance)
	}
	return fmt.Sprintf("계좌 %s의 현재 잔액은 %s원입니다.", account, balance)
}

func renderTransactions(output bankchat.Fields) string {
	items, _ := output["transactions"].([]any)
	if len(items) == 0 {
		return "조회된 거래 내역이 없습니다."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "최근 거래 내역 %d건입니다.\n", len(items))
	for _, item := range items {
		tx, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := bankchat.Fields(tx)
		fmt.Fprintf(&b, "- %s %s %s원\n",
			entry.String("date"),
			entry.String("description"),
			formatNumber(entry["amount"]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTransfer(output bankchat.Fields) string {
	recipient := output.String("recipient")
	amount := formatNumber(output["amount"])
	if recipient == "" {
		return fmt.Sprintf("%s원 이체가 완료되었습니다.", amount)
	}
	return fmt.Sprintf("%s님께 %s원 이체가 완료되었습니다.", recipient, amount)
}

func renderCard(output bankchat.Fields) string {
	card := output.String("card_name")
	status := output.String("card_status")
	if card == "" {
		return "카드 정보를 조회했습니다."
	}
	if status == "" {
		return fmt.Sprintf("%s 카드 정보를 조회했습니다.", card)
	}
	return fmt.Sprintf("%s 카드의 상태는 %s입니다.", card, status)
}

// renderGeneric reports the raw payload for tools without a template.
func renderGeneric(output bankchat.Fields) string {
	data, err := json.Marshal(output)
	if err != nil {
		return "요청하신 작업을 처리했습니다."
	}
	return "요청하신 조회 결과입니다: " + string(data)
}

// formatNumber renders a JSON number or numeric string with thousands
// separators, the way amounts read in Korean banking UIs.
func formatNumber(v any) string {
	var digits string
	switch n := v.(type) {
	case float64:
		digits = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		digits = strconv.Itoa(n)
	case int64:
		digits = strconv.FormatInt(n, 10)
	case json.Number:
		digits = n.String()
	case string:
		digits = n
	default:
		return "0"
	}

	whole, frac, _ := strings.Cut(digits, ".")
	sign := ""
	if strings.HasPrefix(whole, "-") {
		sign = "-"
		whole = whole[1:]
	}

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := sign + strings.Join(groups, ",")
	if frac != "" {
		out += "." + frac
	}
	return out
}
