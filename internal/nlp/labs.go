package nlp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mediscan/backend/internal/analysis"
)

// refRange is an adult reference interval for one lab test.
type refRange struct {
	low, high float64
	unit      string
}

// Adult reference ranges keyed by normalized test name.
var labRefs = map[string]refRange{
	"hemoglobin":        {12.0, 16.0, "g/dL"},
	"hb":                {12.0, 16.0, "g/dL"},
	"wbc":               {4000, 11000, "/uL"},
	"rbc":               {3.8, 5.8, "million/uL"},
	"platelets":         {150, 450, "k/uL"},
	"esr":               {0, 20, "mm/hr"},
	"crp":               {0, 0.5, "mg/dL"},
	"glucose fasting":   {70, 99, "mg/dL"},
	"glucose random":    {70, 140, "mg/dL"},
	"hba1c":             {4.0, 5.6, "%"},
	"creatinine":        {0.6, 1.3, "mg/dL"},
	"urea":              {10, 50, "mg/dL"},
	"sodium":            {135, 145, "mmol/L"},
	"potassium":         {3.5, 5.1, "mmol/L"},
	"chloride":          {98, 107, "mmol/L"},
	"cholesterol total": {0, 200, "mg/dL"},
	"ldl":               {0, 100, "mg/dL"},
	"hdl":               {40, 80, "mg/dL"},
	"triglycerides":     {0, 150, "mg/dL"},
	"bilirubin total":   {0.1, 1.2, "mg/dL"},
	"ast":               {0, 40, "U/L"},
	"alt":               {0, 41, "U/L"},
	"alp":               {40, 129, "U/L"},
}

var unitAliases = map[string]string{
	"mg%":       "mg/dL",
	"g%":        "g/dL",
	"10^3/ul":   "k/uL",
	"x10^3/ul":  "k/uL",
	"x10^6/ul":  "million/uL",
}

// Matches "Hb: 11.2 g/dL", "WBC 12,300 /uL", "LDL - 160 mg/dL".
var labLineRe = regexp.MustCompile(`^\s*([A-Za-z %/+-]+?)\s*[:\-]?\s*([0-9,]+(?:\.[0-9]+)?)\s*([a-zA-Z%/^.0-9-]*)`)

// ParseLabs pulls structured test rows out of lab-report OCR text. Lines
// that do not look like a test result are skipped silently; OCR noise is
// expected here.
func ParseLabs(text string) []analysis.LabResult {
	var results []analysis.LabResult
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if len(line) < 2 {
			continue
		}
		m := labLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}

		name := strings.TrimSpace(m[1])
		key := normalizeTestName(name)
		unit := normalizeUnit(m[3])

		result := analysis.LabResult{
			TestName: name,
			Value:    value,
			Unit:     unit,
		}
		if ref, ok := labRefs[key]; ok {
			if unit == "" {
				result.Unit = ref.unit
			}
			result.RefLow = ref.low
			result.RefHigh = ref.high
			result.HasRange = true
			result.OutOfRange = value < ref.low || value > ref.high
		}
		results = append(results, result)
	}
	return results
}

func normalizeTestName(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.ReplaceAll(k, "sgot", "ast")
	k = strings.ReplaceAll(k, "sgpt", "alt")
	switch {
	case strings.Contains(k, "glucose") && (strings.Contains(k, "fast") || strings.Contains(k, "fbs")):
		return "glucose fasting"
	case strings.Contains(k, "glucose") && (strings.Contains(k, "pp") || strings.Contains(k, "random")):
		return "glucose random"
	case k == "hgb":
		return "hb"
	case strings.Contains(k, "cholesterol") && !strings.Contains(k, "ldl") &&
		!strings.Contains(k, "hdl") && !strings.Contains(k, "trig"):
		return "cholesterol total"
	case strings.Contains(k, "bilirubin") && strings.Contains(k, "total"):
		return "bilirubin total"
	}
	return k
}

func normalizeUnit(u string) string {
	u = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(u), " ", ""))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	// Preserve canonical casing for the common units.
	switch u {
	case "g/dl":
		return "g/dL"
	case "mg/dl":
		return "mg/dL"
	case "mmol/l":
		return "mmol/L"
	case "u/l":
		return "U/L"
	case "/ul":
		return "/uL"
	}
	return u
}
