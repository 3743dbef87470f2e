package types

import (
	"strings"
	"testing"
)

func TestParseDecision(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		d, err := ParseDecision(`{"label":"exfiltration","severity":"high","reasons":["dump"]}`)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if d.Label != LabelExfiltration || d.Severity != SeverityHigh || len(d.Reasons) != 1 {
			t.Fatalf("d=%+v", d)
		}
	})

	t.Run("json wrapped in prose", func(t *testing.T) {
		d, err := ParseDecision("Here you go:\n```json\n{\"label\":\"Sensitive\"}\n```")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if d.Label != LabelSensitive || d.Severity != SeverityLow {
			t.Fatalf("d=%+v", d)
		}
		if d.Reasons == nil {
			t.Fatal("reasons should be non-nil")
		}
	})

	t.Run("unparseable falls back", func(t *testing.T) {
		raw := strings.Repeat("x", 100)
		d, err := ParseDecision(raw)
		if !IsClassificationError(err) {
			t.Fatalf("err=%v", err)
		}
		if d.Label != LabelSafe || d.Severity != SeverityLow {
			t.Fatalf("d=%+v", d)
		}
		if len(d.Reasons) != 1 || d.Reasons[0] != "fallback_parse:"+strings.Repeat("x", 60) {
			t.Fatalf("reasons=%v", d.Reasons)
		}
	})

	t.Run("unknown label falls back", func(t *testing.T) {
		d, err := ParseDecision(`{"label":"maybe"}`)
		if !IsClassificationError(err) {
			t.Fatalf("err=%v", err)
		}
		if d.Label != LabelSafe {
			t.Fatalf("d=%+v", d)
		}
	})

	t.Run("bad json falls back", func(t *testing.T) {
		if _, err := ParseDecision(`{"label":}`); !IsClassificationError(err) {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestTruncateBytes_RuneBoundary(t *testing.T) {
	got := truncateBytes("ab日本", 4)
	if got != "ab" {
		t.Fatalf("got=%q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("short", 10); got != "short" {
		t.Fatalf("got=%q", got)
	}
	if got := TruncateRunes("Salary: $150,000", 6); got != "Salary..." {
		t.Fatalf("got=%q", got)
	}
}

func TestLabelBlocks(t *testing.T) {
	if LabelSafe.Blocks() || !LabelSensitive.Blocks() || !LabelExfiltration.Blocks() {
		t.Fatal("unexpected Blocks result")
	}
}

func TestClauseValidate(t *testing.T) {
	ok := Clause{Text: "Start date: Jan 1", Sensitivity: SensitivityPublic, Type: ClauseTypeGeneral}
	if err := ok.Validate(); err != nil {
		t.Fatalf("err=%v", err)
	}
	cases := []Clause{
		{Text: "  ", Sensitivity: SensitivityPublic, Type: ClauseTypeGeneral},
		{Text: "x", Sensitivity: "secret", Type: ClauseTypeGeneral},
		{Text: "x", Sensitivity: SensitivityPublic, Type: "other"},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestParseSensitivity(t *testing.T) {
	s, err := ParseSensitivity(" Protected ")
	if err != nil || s != SensitivityProtected {
		t.Fatalf("s=%q err=%v", s, err)
	}
	if _, err := ParseSensitivity("internal"); err == nil {
		t.Fatal("expected error")
	}
}
