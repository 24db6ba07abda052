package word

// Weights is a completeness weight table for ComputeQualityScore.
// Per-item weights are summed up to their matching Max field.
type Weights struct {
	Definition        int
	EnglishDefinition int
	Example           int
	ExamplesMax       int
	Pronunciation     int
	Etymology         int
	Synonym           int
	SynonymsMax       int
	Antonym           int
	AntonymsMax       int
	PartOfSpeech      int
	Difficulty        int
	Frequency         int
	Cap               int
}

// DefaultWeights is the documented default weight table. A record with every
// optional field populated scores exactly 100.
var DefaultWeights = Weights{
	Definition:        20,
	EnglishDefinition: 15,
	Example:           5,
	ExamplesMax:       15,
	Pronunciation:     10,
	Etymology:         10,
	Synonym:           2,
	SynonymsMax:       10,
	Antonym:           2,
	AntonymsMax:       5,
	PartOfSpeech:      5,
	Difficulty:        5,
	Frequency:         5,
	Cap:               100,
}

// ComputeQualityScore scores w with DefaultWeights.
func ComputeQualityScore(w *Word) int {
	return DefaultWeights.Score(w)
}

// Score returns the weighted completeness of w, between 0 and the cap.
func (wt Weights) Score(w *Word) int {
	if w == nil {
		return 0
	}

	score := 0
	if HasText(w.Definition) {
		score += wt.Definition
	}
	if HasText(w.EnglishDefinition) {
		score += wt.EnglishDefinition
	}
	score += capped(countText(w.Examples)*wt.Example, wt.ExamplesMax)
	if HasText(w.Pronunciation) {
		score += wt.Pronunciation
	}
	if HasText(w.Etymology) {
		score += wt.Etymology
	}
	score += capped(countText(w.Synonyms)*wt.Synonym, wt.SynonymsMax)
	score += capped(countText(w.Antonyms)*wt.Antonym, wt.AntonymsMax)
	if countText(w.PartOfSpeech) > 0 {
		score += wt.PartOfSpeech
	}
	if w.Difficulty != nil {
		score += wt.Difficulty
	}
	if w.Frequency != nil {
		score += wt.Frequency
	}

	if score < 0 {
		return 0
	}
	if wt.Cap > 0 && score > wt.Cap {
		return wt.Cap
	}
	return score
}

func capped(v, max int) int {
	if v > max {
		return max
	}
	return v
}

func countText(values []string) int {
	n := 0
	for _, v := range values {
		if HasText(&v) {
			n++
		}
	}
	return n
}
