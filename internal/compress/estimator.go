package compress

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xiy/lore-mcp/pkg/types"
)

// EstimateTokens approximates the prompt-token cost of a payload: serialize
// to a canonical textual form and divide character length by four, rounding
// up. Works for any payload shape; never fails and never returns less than 1.
func EstimateTokens(p types.Payload) int {
	s := canonicalString(p)
	t := int(math.Ceil(float64(len([]rune(s))) / 4.0))
	if t < 1 {
		return 1
	}
	return t
}

func canonicalString(p types.Payload) string {
	switch p.Kind {
	case types.PayloadText:
		return p.Text
	case types.PayloadRecord:
		b, err := json.Marshal(p.Record)
		if err != nil {
			return fmt.Sprintf("%v", p.Record)
		}
		return string(b)
	case types.PayloadOpaque:
		b, err := json.Marshal(p.Opaque)
		if err != nil {
			return fmt.Sprintf("%v", p.Opaque)
		}
		return string(b)
	default:
		return ""
	}
}
