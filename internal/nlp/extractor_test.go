package nlp

import (
	"testing"

	"github.com/mediscan/backend/internal/analysis"
)

func kinds(entities []analysis.MedicalEntity, kind analysis.EntityKind) []analysis.MedicalEntity {
	var out []analysis.MedicalEntity
	for _, e := range entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func hasEntity(entities []analysis.MedicalEntity, kind analysis.EntityKind, normalized string) bool {
	for _, e := range entities {
		if e.Kind == kind && e.NormalizedValue == normalized {
			return true
		}
	}
	return false
}

func TestExtractPrescription(t *testing.T) {
	// NER disabled so the test does not depend on model data files.
	ex := NewExtractor(false)

	text := "Rx\nAmoxicillin 500mg\nTake 1 tablet three times daily for 7 days\nIbuprofen 200 mg for 5 days"
	entities := ex.Extract(text)

	if !hasEntity(entities, analysis.EntityMedicine, "amoxicillin") {
		t.Errorf("missing medicine amoxicillin in %+v", entities)
	}
	if !hasEntity(entities, analysis.EntityMedicine, "ibuprofen") {
		t.Errorf("missing medicine ibuprofen")
	}
	if !hasEntity(entities, analysis.EntityDosage, "500mg") {
		t.Errorf("missing dosage 500mg")
	}
	if !hasEntity(entities, analysis.EntityDosage, "200mg") {
		t.Errorf("missing dosage 200 mg (normalized)")
	}
	if !hasEntity(entities, analysis.EntityDuration, "7days") {
		t.Errorf("missing duration 7 days")
	}
	if !hasEntity(entities, analysis.EntityDuration, "5days") {
		t.Errorf("missing duration 5 days")
	}
}

func TestExtractDeduplicates(t *testing.T) {
	ex := NewExtractor(false)

	// Same drug and dose mentioned twice with different spacing.
	text := "Metformin 500mg morning\nMetformin 500 mg evening"
	entities := ex.Extract(text)

	meds := kinds(entities, analysis.EntityMedicine)
	if len(meds) != 1 {
		t.Errorf("medicines = %d, want 1 after dedupe: %+v", len(meds), meds)
	}
	doses := kinds(entities, analysis.EntityDosage)
	if len(doses) != 1 {
		t.Errorf("dosages = %d, want 1 after dedupe: %+v", len(doses), doses)
	}
}

func TestExtractSuffixPattern(t *testing.T) {
	ex := NewExtractor(false)

	entities := ex.Extract("Pantocid vs Esomeprazole 40mg at night")
	if !hasEntity(entities, analysis.EntityMedicine, "esomeprazole") {
		t.Errorf("suffix pattern missed esomeprazole: %+v", entities)
	}
}

func TestExtractOverlapPrefersLongerSpan(t *testing.T) {
	ex := NewExtractor(false)

	// "2 tablets" should win over a bare "2 tablet" submatch.
	entities := ex.Extract("Take 2 tablets after meals")
	doses := kinds(entities, analysis.EntityDosage)
	if len(doses) != 1 {
		t.Fatalf("dosages = %d, want 1: %+v", len(doses), doses)
	}
	if doses[0].Text != "2 tablets" {
		t.Errorf("dosage text = %q, want %q", doses[0].Text, "2 tablets")
	}
}

func TestResolveOverlapsEqualLengthKeepsEarlierCandidate(t *testing.T) {
	// Many equal-length overlapping pairs, with mixed-length noise between
	// them so the sort has enough elements to reorder if it were unstable.
	var candidates []analysis.MedicalEntity
	var want []string
	for i := 0; i < 50; i++ {
		base := i * 40
		first := analysis.MedicalEntity{
			Kind:            analysis.EntityMedicine,
			Text:            "first",
			NormalizedValue: "first",
			Span:            analysis.Span{Start: base, End: base + 8},
		}
		second := first
		second.Text = "second"
		second.NormalizedValue = "second"
		second.Span = analysis.Span{Start: base + 4, End: base + 12}
		candidates = append(candidates, first, second)
		candidates = append(candidates, analysis.MedicalEntity{
			Kind:            analysis.EntityDosage,
			Text:            "noise",
			NormalizedValue: "noise",
			Span:            analysis.Span{Start: base + 20, End: base + 20 + 3 + i%5},
		})
		want = append(want, "first")
	}

	resolved := resolveOverlaps(candidates)

	var got []string
	for _, ent := range resolved {
		if ent.Kind == analysis.EntityMedicine {
			got = append(got, ent.Text)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("kept %d medicine candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pair %d: kept %q, extraction order requires %q", i, got[i], want[i])
		}
	}
}

func TestExtractStopwordsFiltered(t *testing.T) {
	ex := NewExtractor(false)

	entities := ex.Extract("Patient should take Aspirin 75mg daily")
	if hasEntity(entities, analysis.EntityMedicine, "patient") {
		t.Errorf("stopword 'Patient' leaked into medicines: %+v", entities)
	}
	if !hasEntity(entities, analysis.EntityMedicine, "aspirin") {
		t.Errorf("missing aspirin")
	}
}

func TestExtractEmptyText(t *testing.T) {
	ex := NewExtractor(false)
	if got := ex.Extract("   \n  "); got != nil {
		t.Errorf("Extract(blank) = %+v, want nil", got)
	}
}

func TestExtractOrderedBySpan(t *testing.T) {
	ex := NewExtractor(false)

	entities := ex.Extract("Aspirin 75mg for 30 days")
	for i := 1; i < len(entities); i++ {
		if entities[i].Span.Start < entities[i-1].Span.Start {
			t.Errorf("entities out of reading order: %+v", entities)
		}
	}
}
