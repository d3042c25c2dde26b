package nlp

import "testing"

func TestParseLabsFlagsOutOfRange(t *testing.T) {
	text := "Hb: 9.5 g/dL\nWBC 12,300 /uL\nLDL - 160 mg/dL\nSodium 140 mmol/L"
	results := ParseLabs(text)
	if len(results) != 4 {
		t.Fatalf("parsed %d rows, want 4: %+v", len(results), results)
	}

	byName := map[string]int{}
	for i, r := range results {
		byName[r.TestName] = i
	}

	hb := results[byName["Hb"]]
	if !hb.HasRange || !hb.OutOfRange {
		t.Errorf("Hb 9.5 should be flagged low: %+v", hb)
	}
	if hb.Value != 9.5 || hb.Unit != "g/dL" {
		t.Errorf("Hb parsed wrong: %+v", hb)
	}

	wbc := results[byName["WBC"]]
	if wbc.Value != 12300 {
		t.Errorf("WBC value = %v, want 12300 (comma stripped)", wbc.Value)
	}
	if !wbc.OutOfRange {
		t.Errorf("WBC 12300 should be flagged high")
	}

	ldl := results[byName["LDL"]]
	if !ldl.OutOfRange {
		t.Errorf("LDL 160 should be flagged high")
	}

	na := results[byName["Sodium"]]
	if na.OutOfRange {
		t.Errorf("Sodium 140 is in range, flagged anyway: %+v", na)
	}
}

func TestParseLabsUnknownTestHasNoRange(t *testing.T) {
	results := ParseLabs("Obscurin: 42 units")
	if len(results) != 1 {
		t.Fatalf("parsed %d rows, want 1", len(results))
	}
	r := results[0]
	if r.HasRange || r.OutOfRange {
		t.Errorf("unknown test must not carry a range: %+v", r)
	}
	if r.Value != 42 {
		t.Errorf("value = %v", r.Value)
	}
}

func TestParseLabsNameNormalization(t *testing.T) {
	results := ParseLabs("SGPT: 80 U/L\nGlucose Fasting 130 mg/dL")
	if len(results) != 2 {
		t.Fatalf("parsed %d rows, want 2: %+v", len(results), results)
	}
	if !results[0].OutOfRange {
		t.Errorf("SGPT 80 should flag against the ALT range")
	}
	if !results[1].OutOfRange {
		t.Errorf("fasting glucose 130 should flag high")
	}
}

func TestParseLabsSkipsNoise(t *testing.T) {
	text := "CITY DIAGNOSTIC CENTER\n----------------\n\nHb: 13.0 g/dL"
	results := ParseLabs(text)
	if len(results) != 1 {
		t.Fatalf("parsed %d rows, want 1 (noise lines skipped): %+v", len(results), results)
	}
	if results[0].OutOfRange {
		t.Errorf("Hb 13.0 is normal")
	}
}

func TestParseLabsDefaultUnitFromReference(t *testing.T) {
	results := ParseLabs("Creatinine: 1.1")
	if len(results) != 1 {
		t.Fatalf("parsed %d rows, want 1", len(results))
	}
	if results[0].Unit != "mg/dL" {
		t.Errorf("unit = %q, want reference default mg/dL", results[0].Unit)
	}
}
