// Package nlp extracts structured medical entities from OCR text. The
// extraction is rule-based: curated drug-name and suffix patterns plus
// dosage and duration grammars, with an NER pass used to reject person
// and place names that the looser patterns would otherwise pick up.
package nlp

import (
	"regexp"
	"sort"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/pkg/logger"
)

var (
	// Drug-class suffixes: -cillin, -prazole, -olol and friends.
	medicineSuffixRe = regexp.MustCompile(`\b[A-Za-z][a-z]+(?:cillin|mycin|fenac|profen|azole|prazole|dipine|olol|statin|sartan|floxacin|tidine|mab|zolam|amide)\b`)

	// Common prescription drugs seen in handwritten scripts.
	medicineNameRe = regexp.MustCompile(`(?i)\b(Amoxicillin|Ibuprofen|Paracetamol|Acetaminophen|Aspirin|Multivitamin|Vitamin|Azithromycin|Ciprofloxacin|Metformin|Omeprazole|Losartan|Amlodipine|Atorvastatin|Simvastatin|Lisinopril|Metoprolol|Levothyroxine|Gabapentin|Sertraline|Citalopram|Escitalopram|Fluoxetine|Alprazolam|Lorazepam|Clonazepam|Prednisone|Dexamethasone|Cetirizine|Loratadine|Montelukast|Albuterol|Fluticasone|Warfarin|Clopidogrel|Insulin|Glipizide|Hydrochlorothiazide|Furosemide|Spironolactone|Pantoprazole|Ranitidine|Tramadol|Codeine|Morphine|Oxycodone|Diclofenac|Naproxen|Celecoxib|Tamsulosin|Finasteride|Sildenafil|Tadalafil|Betaloc|Dorzolamide|Cimetidine|Carvedilol|Bisoprolol|Atenolol|Propranolol|Timolol|Labetalol)\b`)

	// Capitalized word immediately followed by a dose amount.
	medicineDoseRe = regexp.MustCompile(`\b([A-Z][a-z]{3,})\s*\d+\s*(?:mg|ml|g|mcg)\b`)

	// "Drugname 500mg - 10 tabs" style prescription lines.
	medicineTabsRe = regexp.MustCompile(`\b([A-Z][a-z]{4,})\s*\d+\s*(?:mg|ml)?\s*[-]\s*\d+\s*tabs?\b`)

	// Candidate word for the near-dosage heuristic; RE2 has no lookahead,
	// so the "near a dose" part is checked per line in code.
	capitalWordRe = regexp.MustCompile(`\b[A-Z][a-z]{4,}\b`)
	doseHintRe    = regexp.MustCompile(`(?i)\d+\s*(?:mg|ml|tab)`)

	dosageRe   = regexp.MustCompile(`(?i)\b\d+\s?(?:mg|ml|g|mcg|tablets?|capsules?)\b`)
	durationRe = regexp.MustCompile(`(?i)\b\d+\s?(?:days?|weeks?|months?)\b`)
)

// Words the loose patterns match that are never drug names.
var medicineStopwords = map[string]bool{
	"patient": true, "doctor": true, "hospital": true, "clinic": true,
	"morning": true, "evening": true, "night": true, "daily": true,
	"after": true, "before": true, "weeks": true, "months": true,
	"take": true, "apply": true, "signature": true, "address": true,
}

type Extractor struct {
	useNER bool
}

// NewExtractor builds an extractor. NER filtering can be disabled for
// environments where the model data is unavailable.
func NewExtractor(useNER bool) *Extractor {
	return &Extractor{useNER: useNER}
}

// Extract returns the medical entities in reading order. Entities are
// deduplicated by kind and normalized value, and overlapping candidates of
// the same kind resolve to the longer span.
func (e *Extractor) Extract(text string) []analysis.MedicalEntity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var candidates []analysis.MedicalEntity
	candidates = append(candidates, e.medicines(text)...)
	candidates = append(candidates, matchAll(text, dosageRe, analysis.EntityDosage)...)
	candidates = append(candidates, matchAll(text, durationRe, analysis.EntityDuration)...)

	resolved := resolveOverlaps(candidates)
	deduped := dedupe(resolved)

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Span.Start != deduped[j].Span.Start {
			return deduped[i].Span.Start < deduped[j].Span.Start
		}
		return deduped[i].Kind < deduped[j].Kind
	})
	return deduped
}

func (e *Extractor) medicines(text string) []analysis.MedicalEntity {
	var out []analysis.MedicalEntity
	out = append(out, matchAll(text, medicineSuffixRe, analysis.EntityMedicine)...)
	out = append(out, matchAll(text, medicineNameRe, analysis.EntityMedicine)...)
	out = append(out, matchGroup(text, medicineDoseRe, analysis.EntityMedicine)...)
	out = append(out, matchGroup(text, medicineTabsRe, analysis.EntityMedicine)...)
	out = append(out, nearDoseCandidates(text)...)

	out = filterStopwords(out)
	if e.useNER {
		out = e.filterNamedEntities(text, out)
	}
	return out
}

// nearDoseCandidates flags capitalized words on lines that also mention a
// dose amount. This is the loosest pattern and relies on the downstream
// stopword and NER filters.
func nearDoseCandidates(text string) []analysis.MedicalEntity {
	var out []analysis.MedicalEntity
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if doseHintRe.MatchString(line) {
			for _, loc := range capitalWordRe.FindAllStringIndex(line, -1) {
				word := line[loc[0]:loc[1]]
				out = append(out, entity(analysis.EntityMedicine, word, offset+loc[0], offset+loc[1]))
			}
		}
		offset += len(line) + 1
	}
	return out
}

func filterStopwords(entities []analysis.MedicalEntity) []analysis.MedicalEntity {
	out := entities[:0]
	for _, ent := range entities {
		if !medicineStopwords[ent.NormalizedValue] {
			out = append(out, ent)
		}
	}
	return out
}

// filterNamedEntities drops medicine candidates that the NER model tags as
// a person or place; prescriptions carry patient and doctor names that the
// capitalized-word patterns otherwise match.
func (e *Extractor) filterNamedEntities(text string, entities []analysis.MedicalEntity) []analysis.MedicalEntity {
	doc, err := prose.NewDocument(text, prose.WithExtraction(true), prose.WithTagging(true), prose.WithSegmentation(false))
	if err != nil {
		logger.Debug("NER pass unavailable, keeping all candidates", zap.Error(err))
		return entities
	}

	names := make(map[string]bool)
	for _, ent := range doc.Entities() {
		if ent.Label != "PERSON" && ent.Label != "GPE" {
			continue
		}
		for _, word := range strings.Fields(ent.Text) {
			names[strings.ToLower(word)] = true
		}
	}
	if len(names) == 0 {
		return entities
	}

	out := entities[:0]
	for _, ent := range entities {
		// Known drug names are kept even when the model thinks they are
		// people; NER often tags unfamiliar drug names as PERSON.
		if names[ent.NormalizedValue] && !medicineNameRe.MatchString(ent.Text) {
			continue
		}
		out = append(out, ent)
	}
	return out
}

func matchAll(text string, re *regexp.Regexp, kind analysis.EntityKind) []analysis.MedicalEntity {
	var out []analysis.MedicalEntity
	for _, loc := range re.FindAllStringIndex(text, -1) {
		out = append(out, entity(kind, text[loc[0]:loc[1]], loc[0], loc[1]))
	}
	return out
}

// matchGroup extracts the first capture group of each match, so patterns
// that anchor on surrounding context still yield just the name.
func matchGroup(text string, re *regexp.Regexp, kind analysis.EntityKind) []analysis.MedicalEntity {
	var out []analysis.MedicalEntity
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 || loc[2] < 0 {
			continue
		}
		out = append(out, entity(kind, text[loc[2]:loc[3]], loc[2], loc[3]))
	}
	return out
}

func entity(kind analysis.EntityKind, text string, start, end int) analysis.MedicalEntity {
	return analysis.MedicalEntity{
		Kind:            kind,
		Text:            text,
		NormalizedValue: normalize(text),
		Span:            analysis.Span{Start: start, End: end},
	}
}

// normalize lowercases and collapses internal whitespace so "500 mg" and
// "500mg" deduplicate to one entity.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// resolveOverlaps keeps the longer span when two candidates of the same
// kind overlap. Equal-length overlaps resolve by extraction order, so the
// sort must be stable.
func resolveOverlaps(entities []analysis.MedicalEntity) []analysis.MedicalEntity {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Span.Len() > entities[j].Span.Len()
	})

	var kept []analysis.MedicalEntity
	for _, ent := range entities {
		shadowed := false
		for _, k := range kept {
			if k.Kind == ent.Kind && k.Span.Overlaps(ent.Span) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, ent)
		}
	}
	return kept
}

func dedupe(entities []analysis.MedicalEntity) []analysis.MedicalEntity {
	type key struct {
		kind  analysis.EntityKind
		value string
	}
	seen := make(map[key]bool)
	var out []analysis.MedicalEntity
	for _, ent := range entities {
		k := key{ent.Kind, ent.NormalizedValue}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ent)
	}
	return out
}
