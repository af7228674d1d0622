package action

import (
	"fmt"

	"github.com/quailyquaily/screenbridge/internal/jsonutil"
)

// Parse decodes a proposal from raw planner output. Model output is rarely
// clean JSON (markdown fences, prose around the object), so decoding goes
// through jsonutil's candidate extraction and repair before unmarshal.
func Parse(text string) (Proposal, error) {
	var p Proposal
	if err := jsonutil.DecodeWithFallback(text, &p); err != nil {
		return Proposal{}, fmt.Errorf("parse proposal: %w", err)
	}
	p.normalize()
	if p.Action == "" {
		return Proposal{}, fmt.Errorf("parse proposal: missing action")
	}
	return p, nil
}
