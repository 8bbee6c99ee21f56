package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nidhogg/timberline/internal/market"
)

// rawDecision mirrors the JSON shape the oracle is asked to produce.
// Params stays loosely typed on purpose: the oracle's declared types
// are never trusted.
type rawDecision struct {
	Reasoning string         `json:"reasoning"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
}

// ParseDecision turns raw oracle output into a typed action. It never
// fails: malformed JSON, unknown commands, or fields that cannot be
// coerced to their declared numeric types all degrade to wait, so a
// hallucinating oracle can refuse to act but can never corrupt the
// round.
func ParseDecision(raw string) market.Action {
	payload := extractJSON(raw)
	if payload == "" {
		return market.Wait("oracle output contained no JSON object")
	}

	var d rawDecision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return market.Wait("oracle output was not valid JSON")
	}

	switch command(d.Command) {
	case market.ActionAccept:
		return parseAccept(d)
	case market.ActionPost:
		return parsePost(d)
	default:
		return market.Wait(d.Reasoning)
	}
}

// command normalizes the oracle's command vocabulary. Both the
// canonical names and the buy/post shorthand are accepted.
func command(cmd string) market.ActionKind {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	switch {
	case strings.Contains(cmd, "accept") || strings.Contains(cmd, "buy"):
		return market.ActionAccept
	case strings.Contains(cmd, "post") || strings.Contains(cmd, "sell"):
		return market.ActionPost
	default:
		return market.ActionWait
	}
}

func parseAccept(d rawDecision) market.Action {
	offerID, ok := coerceInt(pick(d.Params, "offer_id", "id"))
	if !ok {
		return market.Wait("accept_offer without a usable offer_id")
	}

	qty := market.QuantityAll // omitted quantity means the whole offer
	if v, present := lookup(d.Params, "quantity", "qty"); present {
		q, ok := coerceInt(v)
		if !ok || q <= 0 {
			return market.Wait("accept_offer with a non-positive quantity")
		}
		qty = q
	}

	return market.Action{
		Kind:      market.ActionAccept,
		OfferID:   offerID,
		Quantity:  qty,
		Rationale: d.Reasoning,
	}
}

func parsePost(d rawDecision) market.Action {
	price, ok := coerceDecimal(pick(d.Params, "unit_price", "price"))
	if !ok {
		return market.Wait("post_offer without a usable price")
	}
	qty, ok := coerceInt(pick(d.Params, "quantity", "qty"))
	if !ok || qty <= 0 {
		return market.Wait("post_offer with a non-positive quantity")
	}

	return market.Action{
		Kind:      market.ActionPost,
		UnitPrice: price,
		Quantity:  qty,
		Rationale: d.Reasoning,
	}
}

// extractJSON returns the first balanced JSON object in s, tolerating
// prose or markdown fences around it.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

func lookup(params map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pick(params map[string]any, keys ...string) any {
	v, _ := lookup(params, keys...)
	return v
}

// coerceInt normalizes anything syntactically numeric ("5", "5.0",
// 5, 5.0) to an integer. Fractional values round to nearest.
func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n + 0.5*sign(n)), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return coerceInt(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return coerceInt(f)
	default:
		return 0, false
	}
}

// coerceDecimal normalizes anything syntactically numeric to a decimal.
func coerceDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}
