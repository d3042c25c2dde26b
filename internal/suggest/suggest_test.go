package suggest

import (
	"strings"
	"testing"
)

func TestDiagnosisNoMedicines(t *testing.T) {
	if got := Diagnosis(nil); got != nil {
		t.Fatalf("Diagnosis(nil) = %+v, want nil", got)
	}
}

func TestDiagnosisConvergingMedicines(t *testing.T) {
	// Two antihypertensives should converge on Hypertension with high
	// overall confidence.
	s := Diagnosis([]string{"Metoprolol", "Amlodipine"})
	if s == nil {
		t.Fatal("expected suggestions")
	}
	if len(s.PossibleConditions) == 0 {
		t.Fatal("expected at least one condition")
	}
	if s.PossibleConditions[0].Condition != "Hypertension" {
		t.Errorf("top condition = %q, want Hypertension", s.PossibleConditions[0].Condition)
	}
	if s.PossibleConditions[0].MedicineCount != 2 {
		t.Errorf("medicine count = %d, want 2", s.PossibleConditions[0].MedicineCount)
	}
	if s.Confidence != "High" {
		t.Errorf("overall confidence = %q, want High", s.Confidence)
	}
	if s.Disclaimer == "" {
		t.Error("disclaimer must always be set")
	}
}

func TestDiagnosisSingleMedicine(t *testing.T) {
	s := Diagnosis([]string{"Metformin"})
	if s == nil {
		t.Fatal("expected suggestions")
	}
	if s.Confidence != "Medium" {
		t.Errorf("overall confidence = %q, want Medium for one medicine", s.Confidence)
	}
	found := false
	for _, c := range s.PossibleConditions {
		if c.Condition == "Type 2 Diabetes" {
			found = true
		}
	}
	if !found {
		t.Errorf("metformin should suggest Type 2 Diabetes: %+v", s.PossibleConditions)
	}
}

func TestDiagnosisSuffixFallback(t *testing.T) {
	// Carvedilol has no direct entry; the -olol class match should apply.
	s := Diagnosis([]string{"Carvedilol"})
	if s == nil {
		t.Fatal("expected suggestions")
	}
	if s.PossibleConditions[0].Condition != "Hypertension" {
		t.Errorf("top condition = %q, want Hypertension via class match", s.PossibleConditions[0].Condition)
	}
	if !strings.Contains(s.PossibleConditions[0].SupportingMedicines[0], "class match") {
		t.Errorf("class-match source not marked: %+v", s.PossibleConditions[0].SupportingMedicines)
	}
}

func TestDiagnosisUnknownMedicine(t *testing.T) {
	s := Diagnosis([]string{"Placebozine"})
	if s == nil {
		t.Fatal("expected a suggestion envelope even with no matches")
	}
	if len(s.PossibleConditions) != 0 {
		t.Errorf("unknown medicine produced conditions: %+v", s.PossibleConditions)
	}
	if s.Confidence != "Low" {
		t.Errorf("confidence = %q, want Low", s.Confidence)
	}
	if len(s.Specialists) != 1 || s.Specialists[0].Specialist != "General Physician" {
		t.Errorf("expected General Physician fallback, got %+v", s.Specialists)
	}
}

func TestDiagnosisSpecialistsCapped(t *testing.T) {
	s := Diagnosis([]string{"Metoprolol", "Metformin", "Albuterol", "Omeprazole", "Sertraline"})
	if s == nil {
		t.Fatal("expected suggestions")
	}
	if len(s.Specialists) > 3 {
		t.Errorf("specialists = %d, want at most 3", len(s.Specialists))
	}
	if len(s.PossibleConditions) > 5 {
		t.Errorf("conditions = %d, want at most 5", len(s.PossibleConditions))
	}
}

func TestDiagnosisDeterministic(t *testing.T) {
	meds := []string{"Metoprolol", "Omeprazole", "Amoxicillin"}
	a := Diagnosis(meds)
	b := Diagnosis(meds)
	if len(a.PossibleConditions) != len(b.PossibleConditions) {
		t.Fatal("condition count differs between runs")
	}
	for i := range a.PossibleConditions {
		if a.PossibleConditions[i].Condition != b.PossibleConditions[i].Condition {
			t.Fatalf("condition order differs at %d: %q vs %q",
				i, a.PossibleConditions[i].Condition, b.PossibleConditions[i].Condition)
		}
	}
}

func TestImagingKnownLabels(t *testing.T) {
	for _, label := range []string{"Normal", "Pneumonia", "Tumor", "Fracture"} {
		advice := Imaging(label)
		if advice == nil {
			t.Fatalf("no advice for %s", label)
		}
		if advice.Severity == "" || advice.Specialist == "" || len(advice.NextSteps) == 0 {
			t.Errorf("incomplete advice for %s: %+v", label, advice)
		}
	}
}

func TestImagingSeverityOrdering(t *testing.T) {
	if Imaging("Normal").Severity != "LOW" {
		t.Error("normal study should be low severity")
	}
	if Imaging("Tumor").Severity != "HIGH" {
		t.Error("tumor finding should be high severity")
	}
}

func TestImagingUnknownLabel(t *testing.T) {
	advice := Imaging("Cardiomegaly")
	if advice == nil {
		t.Fatal("unknown label should still produce generic advice")
	}
	if advice.Severity != "UNDETERMINED" {
		t.Errorf("severity = %q, want UNDETERMINED", advice.Severity)
	}
}
