// Package suggest derives advisory follow-up guidance from analysis
// output: possible conditions from the prescribed medicines, and clinical
// recommendations from an imaging classification. Everything here is
// reference material for a clinician, never a diagnosis.
package suggest

import (
	"sort"
	"strings"

	"github.com/mediscan/backend/internal/analysis"
)

const disclaimer = "AI-suggested diagnosis for reference only. Doctor verification required."

// medicineConditions maps a lowercase medicine name fragment to the
// conditions it is commonly prescribed for. Kept as a slice so matching
// order is deterministic.
var medicineConditions = []struct {
	name       string
	conditions []string
}{
	{"betaloc", []string{"Hypertension", "Angina", "Heart Failure", "Arrhythmia"}},
	{"metoprolol", []string{"Hypertension", "Angina", "Heart Failure"}},
	{"atenolol", []string{"Hypertension", "Angina"}},
	{"propranolol", []string{"Hypertension", "Migraine", "Anxiety"}},
	{"amlodipine", []string{"Hypertension", "Angina"}},
	{"losartan", []string{"Hypertension", "Diabetic Nephropathy"}},
	{"lisinopril", []string{"Hypertension", "Heart Failure"}},
	{"warfarin", []string{"Atrial Fibrillation", "DVT", "Pulmonary Embolism"}},
	{"aspirin", []string{"Cardiovascular Disease Prevention", "Pain", "Fever"}},
	{"omeprazole", []string{"GERD", "Peptic Ulcer", "Gastritis"}},
	{"pantoprazole", []string{"GERD", "Peptic Ulcer"}},
	{"ranitidine", []string{"GERD", "Peptic Ulcer"}},
	{"cimetidine", []string{"GERD", "Peptic Ulcer", "Gastritis"}},
	{"dorzolamide", []string{"Glaucoma", "Ocular Hypertension"}},
	{"timolol", []string{"Glaucoma", "Ocular Hypertension"}},
	{"amoxicillin", []string{"Bacterial Infection", "Respiratory Infection", "UTI"}},
	{"azithromycin", []string{"Bacterial Infection", "Respiratory Infection"}},
	{"ciprofloxacin", []string{"Bacterial Infection", "UTI"}},
	{"metformin", []string{"Type 2 Diabetes", "PCOS"}},
	{"insulin", []string{"Type 1 Diabetes", "Type 2 Diabetes"}},
	{"glipizide", []string{"Type 2 Diabetes"}},
	{"albuterol", []string{"Asthma", "COPD", "Bronchospasm"}},
	{"fluticasone", []string{"Asthma", "Allergic Rhinitis"}},
	{"montelukast", []string{"Asthma", "Allergic Rhinitis"}},
	{"ibuprofen", []string{"Pain", "Inflammation", "Fever"}},
	{"paracetamol", []string{"Pain", "Fever"}},
	{"diclofenac", []string{"Pain", "Inflammation", "Arthritis"}},
	{"naproxen", []string{"Pain", "Inflammation", "Arthritis"}},
	{"sertraline", []string{"Depression", "Anxiety", "OCD", "PTSD"}},
	{"escitalopram", []string{"Depression", "Anxiety"}},
	{"alprazolam", []string{"Anxiety", "Panic Disorder"}},
}

// suffixConditions covers drug-class suffixes when no direct entry matches.
var suffixConditions = []struct {
	suffix     string
	conditions []string
}{
	{"olol", []string{"Hypertension", "Cardiac Condition"}},
	{"prazole", []string{"Acid Reflux", "Gastritis"}},
}

var specialistRules = []struct {
	specialist string
	keywords   []string
	reason     string
}{
	{"Cardiologist", []string{"hypertension", "angina", "arrhythmia", "heart", "cardiac"}, "Heart and blood pressure management"},
	{"Endocrinologist", []string{"diabetes", "glucose"}, "Diabetes and hormonal disorder management"},
	{"Pulmonologist", []string{"asthma", "copd", "respiratory", "bronchospasm"}, "Lung and breathing condition management"},
	{"Gastroenterologist", []string{"gerd", "ulcer", "gastritis"}, "Digestive system and stomach issues"},
	{"Ophthalmologist", []string{"glaucoma", "ocular"}, "Eye pressure and vision problems"},
	{"Psychiatrist", []string{"anxiety", "depression", "ocd", "ptsd"}, "Mental health medication management"},
	{"Nephrologist", []string{"uti", "nephropathy", "kidney"}, "Kidney function monitoring"},
	{"General Physician", []string{"infection", "fever", "pain"}, "Overall health assessment and medication review"},
}

// Diagnosis suggests possible conditions from a prescription's medicines.
// Returns nil when no medicines were extracted.
func Diagnosis(medicines []string) *analysis.DiagnosisSuggestion {
	if len(medicines) == 0 {
		return nil
	}

	counts := make(map[string]int)
	sources := make(map[string][]string)
	var order []string

	record := func(condition, medicine string) {
		if counts[condition] == 0 {
			order = append(order, condition)
		}
		counts[condition]++
		sources[condition] = append(sources[condition], medicine)
	}

	for _, medicine := range medicines {
		lower := strings.ToLower(medicine)

		matched := false
		for _, entry := range medicineConditions {
			if strings.Contains(lower, entry.name) {
				matched = true
				for _, condition := range entry.conditions {
					record(condition, medicine)
				}
			}
		}
		if matched {
			continue
		}
		for _, entry := range suffixConditions {
			if strings.HasSuffix(lower, entry.suffix) {
				for _, condition := range entry.conditions {
					record(condition, medicine+" (class match)")
				}
			}
		}
	}

	// Frequency order, first-seen breaking ties.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	out := &analysis.DiagnosisSuggestion{
		Confidence: "Low",
		Disclaimer: disclaimer,
	}

	top := order
	if len(top) > 5 {
		top = top[:5]
	}
	for _, condition := range top {
		out.PossibleConditions = append(out.PossibleConditions, analysis.ConditionSuggestion{
			Condition:           condition,
			Confidence:          conditionConfidence(counts[condition], len(medicines)),
			SupportingMedicines: sources[condition],
			MedicineCount:       counts[condition],
		})
	}

	if len(order) > 0 {
		switch max := counts[order[0]]; {
		case max >= 2:
			out.Confidence = "High"
		case max == 1 && len(medicines) <= 2:
			out.Confidence = "Medium"
		}
	}

	out.Specialists = suggestSpecialists(top)
	return out
}

func conditionConfidence(count, totalMedicines int) string {
	if totalMedicines < 1 {
		totalMedicines = 1
	}
	ratio := float64(count) / float64(totalMedicines)
	switch {
	case ratio >= 0.5 && count >= 2:
		return "High"
	case ratio >= 0.3 || count >= 2:
		return "Medium"
	default:
		return "Low"
	}
}

func suggestSpecialists(conditions []string) []analysis.SpecialistReferral {
	seen := make(map[string]bool)
	var out []analysis.SpecialistReferral

	for _, condition := range conditions {
		lower := strings.ToLower(condition)
		for _, rule := range specialistRules {
			if seen[rule.specialist] {
				continue
			}
			for _, kw := range rule.keywords {
				if strings.Contains(lower, kw) {
					seen[rule.specialist] = true
					out = append(out, analysis.SpecialistReferral{
						Specialist: rule.specialist,
						Reason:     rule.reason,
						Condition:  condition,
					})
					break
				}
			}
		}
	}

	if len(out) == 0 {
		out = append(out, analysis.SpecialistReferral{
			Specialist: "General Physician",
			Reason:     "Comprehensive health evaluation",
			Condition:  "General Health",
		})
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

var imagingAdvice = map[string]analysis.ImagingAdvice{
	"normal": {
		Severity:   "LOW",
		Specialist: "Primary Care",
		Urgency:    "Routine, per screening schedule",
		Meaning:    "No significant abnormalities detected on this imaging study.",
		NextSteps: []string{
			"Discuss results with your doctor",
			"Follow the routine screening schedule",
			"Report any new or persistent symptoms",
		},
	},
	"pneumonia": {
		Severity:   "MODERATE-HIGH",
		Specialist: "Pulmonologist or Internal Medicine",
		Urgency:    "Within 24-48 hours, immediate if severe",
		Meaning:    "Lung infection causing inflammation; can be bacterial, viral, or fungal.",
		NextSteps: []string{
			"Antibiotic course if not already started",
			"Follow-up chest imaging in 4-6 weeks to confirm resolution",
			"Monitor temperature and oxygen saturation",
			"Seek emergency care for difficulty breathing or chest pain",
		},
	},
	"tumor": {
		Severity:   "HIGH",
		Specialist: "Oncologist and Surgeon",
		Urgency:    "Urgent, within 48-72 hours",
		Meaning:    "An abnormal growth that needs biopsy to determine if benign or malignant.",
		NextSteps: []string{
			"Multidisciplinary consultation (oncology, surgery, radiology)",
			"Tissue biopsy for definitive diagnosis",
			"Staging workup with additional imaging and blood tests",
		},
	},
	"fracture": {
		Severity:   "MODERATE-HIGH",
		Specialist: "Orthopedic Surgeon",
		Urgency:    "Within 1-3 days for stable fractures, immediate for displaced",
		Meaning:    "A bone break; treatment depends on location, severity, and alignment.",
		NextSteps: []string{
			"Orthopedic consultation for a treatment plan",
			"Immobilization if not already done",
			"Follow-up imaging in 1-2 weeks to monitor healing",
			"Seek emergency care for circulation loss or signs of infection",
		},
	},
}

// Imaging returns follow-up guidance for a classification label. Labels
// outside the known set get generic review advice rather than nothing.
func Imaging(label string) *analysis.ImagingAdvice {
	if advice, ok := imagingAdvice[strings.ToLower(label)]; ok {
		return &advice
	}
	return &analysis.ImagingAdvice{
		Severity:   "UNDETERMINED",
		Specialist: "Radiologist and Referring Physician",
		Urgency:    "Per physician review",
		Meaning:    "The finding needs physician review to determine its significance.",
		NextSteps: []string{
			"Review the study with the referring physician",
			"Compare against prior imaging when available",
		},
	}
}
