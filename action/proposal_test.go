package action

import (
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Proposal
		wantErr string
	}{
		{"click with point", Proposal{Action: KindClick, X: intPtr(100), Y: intPtr(200)}, ""},
		{"click without point", Proposal{Action: KindClick}, "requires x and y"},
		{"click with only x", Proposal{Action: KindClick, X: intPtr(100)}, "requires x and y"},
		{"type with text", Proposal{Action: KindType, Text: "hello"}, ""},
		{"type without text", Proposal{Action: KindType}, "requires text"},
		{"scroll up", Proposal{Action: KindScroll, Direction: DirectionUp}, ""},
		{"scroll down", Proposal{Action: KindScroll, Direction: DirectionDown}, ""},
		{"scroll without direction", Proposal{Action: KindScroll}, "requires direction"},
		{"scroll sideways", Proposal{Action: KindScroll, Direction: "left"}, "invalid scroll direction"},
		{"extract full screen", Proposal{Action: KindExtract}, ""},
		{"extract with region", Proposal{Action: KindExtract, Region: []int{0, 0, 800, 600}}, ""},
		{"extract bad region", Proposal{Action: KindExtract, Region: []int{0, 0, 800}}, "region must be"},
		{"done", Proposal{Action: KindDone}, ""},
		{"ask", Proposal{Action: KindAsk, Text: "which tab?"}, ""},
		{"missing action", Proposal{}, "missing action"},
		{"unknown action", Proposal{Action: "drag"}, "unknown action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %q, want it to contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestScrollAmount(t *testing.T) {
	if got := (Proposal{Action: KindScroll}).ScrollAmount(); got != 3 {
		t.Fatalf("default ScrollAmount() = %d, want 3", got)
	}
	if got := (Proposal{Action: KindScroll, Amount: 7}).ScrollAmount(); got != 7 {
		t.Fatalf("ScrollAmount() = %d, want 7", got)
	}
	if got := (Proposal{Action: KindScroll, Amount: -2}).ScrollAmount(); got != 3 {
		t.Fatalf("negative ScrollAmount() = %d, want 3", got)
	}
}

func TestParse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		p, err := Parse(`{"action": "click", "x": 120, "y": 340, "description": "open inbox", "confidence": 0.9}`)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if p.Action != KindClick || !p.HasPoint() || *p.X != 120 || *p.Y != 340 {
			t.Fatalf("unexpected proposal: %+v", p)
		}
		if p.Confidence != 0.9 {
			t.Fatalf("confidence = %v, want 0.9", p.Confidence)
		}
	})

	t.Run("fenced json with prose", func(t *testing.T) {
		raw := "Here is the next step.\n```json\n{\"action\": \"type\", \"text\": \"hello\", \"description\": \"fill the field\", \"confidence\": 0.8}\n```\n"
		p, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if p.Action != KindType || p.Text != "hello" {
			t.Fatalf("unexpected proposal: %+v", p)
		}
	})

	t.Run("uppercase action normalized", func(t *testing.T) {
		p, err := Parse(`{"action": "SCROLL", "direction": "Down"}`)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if p.Action != KindScroll || p.Direction != DirectionDown {
			t.Fatalf("unexpected proposal: %+v", p)
		}
	})

	t.Run("confidence clamped", func(t *testing.T) {
		p, err := Parse(`{"action": "done", "confidence": 1.7}`)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if p.Confidence != 1 {
			t.Fatalf("confidence = %v, want clamped to 1", p.Confidence)
		}
	})

	t.Run("no action key", func(t *testing.T) {
		if _, err := Parse(`{"x": 1, "y": 2}`); err == nil {
			t.Fatal("Parse accepted a payload without an action")
		}
	})

	t.Run("not json at all", func(t *testing.T) {
		if _, err := Parse("I could not decide on an action."); err == nil {
			t.Fatal("Parse accepted non-JSON text")
		}
	})
}
