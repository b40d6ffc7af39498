package linkage

import (
	"context"
	"errors"
	"sort"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"smr/internal/models"
	"smr/internal/repository"
)

// Strategy names recorded on matched rows
const (
	StrategyExact    = "exact"
	StrategyOverride = "manual"
	StrategyFuzzy    = "fuzzy"
)

// MatchQuery is one name to resolve within an upload
type MatchQuery struct {
	UploadID int64
	Name     string
}

// Candidate is a possible artist for a submitted name
type Candidate struct {
	ArtistID   int64   `json:"artist_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy"`
}

// ArtistMatcher proposes ranked candidates for a name, best first
type ArtistMatcher interface {
	Strategy() string
	Match(ctx context.Context, q MatchQuery) ([]Candidate, error)
}

// ExactMatcher finds artists whose normalized name equals the query's
type ExactMatcher struct {
	directory Directory
}

func NewExactMatcher(directory Directory) *ExactMatcher {
	return &ExactMatcher{directory: directory}
}

func (m *ExactMatcher) Strategy() string { return StrategyExact }

func (m *ExactMatcher) Match(ctx context.Context, q MatchQuery) ([]Candidate, error) {
	normalized := models.NormalizeName(q.Name)
	if normalized == "" {
		return nil, nil
	}
	artists, err := m.directory.Lookup(ctx, normalized)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(artists))
	for i, a := range artists {
		candidates[i] = Candidate{
			ArtistID:   a.ID,
			Name:       a.Name,
			Confidence: 1 / float64(len(artists)),
			Strategy:   StrategyExact,
		}
	}
	return candidates, nil
}

// OverrideMatcher returns the reviewer's binding for this exact submitted name
type OverrideMatcher struct {
	mappings repository.MappingRepository
}

func NewOverrideMatcher(mappings repository.MappingRepository) *OverrideMatcher {
	return &OverrideMatcher{mappings: mappings}
}

func (m *OverrideMatcher) Strategy() string { return StrategyOverride }

func (m *OverrideMatcher) Match(ctx context.Context, q MatchQuery) ([]Candidate, error) {
	mapping, err := m.mappings.Find(ctx, q.UploadID, q.Name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []Candidate{{
		ArtistID:   mapping.ArtistID,
		Name:       mapping.SubmittedName,
		Confidence: 1,
		Strategy:   StrategyOverride,
	}}, nil
}

// FuzzySuggester ranks directory entries by edit distance. Its candidates are
// shown to reviewers and never applied automatically.
type FuzzySuggester struct {
	directory Directory
	limit     int
}

func NewFuzzySuggester(directory Directory, limit int) *FuzzySuggester {
	if limit <= 0 {
		limit = 5
	}
	return &FuzzySuggester{directory: directory, limit: limit}
}

func (m *FuzzySuggester) Strategy() string { return StrategyFuzzy }

func (m *FuzzySuggester) Match(ctx context.Context, q MatchQuery) ([]Candidate, error) {
	if q.Name == "" {
		return nil, nil
	}
	artists, err := m.directory.All(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}

	candidates := make(map[int64]Candidate)
	consider := func(idx int, confidence float64) {
		a := artists[idx]
		if existing, ok := candidates[a.ID]; ok && existing.Confidence >= confidence {
			return
		}
		candidates[a.ID] = Candidate{ArtistID: a.ID, Name: a.Name, Confidence: confidence, Strategy: StrategyFuzzy}
	}

	// Query contained in a directory name ("Khaled" -> "DJ Khaled")
	for _, r := range fuzzy.RankFindNormalizedFold(q.Name, names) {
		consider(r.OriginalIndex, similarity(r.Distance, q.Name, r.Target))
	}
	// Directory name contained in the query ("DJ Khaled feat. Rihanna" -> "DJ Khaled")
	for i, name := range names {
		if fuzzy.MatchNormalizedFold(name, q.Name) {
			consider(i, similarity(fuzzy.LevenshteinDistance(name, q.Name), name, q.Name))
		}
	}

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ArtistID < out[j].ArtistID
	})
	if len(out) > m.limit {
		out = out[:m.limit]
	}
	return out, nil
}

func similarity(distance int, a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	s := 1 - float64(distance)/float64(longest)
	if s < 0 {
		return 0
	}
	return s
}
