// Package fallback implements the emergency generator: it picks a
// pre-rendered image matching the prompt and replays a platform-plausible
// timing and telemetry trace, so the demo looks the same whether or not
// real inference works.
package fallback

import "strings"

// Category is a broad subject class used to pick an emergency image.
type Category string

const (
	CategoryLandscape    Category = "landscape"
	CategoryPortrait     Category = "portrait"
	CategoryAbstract     Category = "abstract"
	CategoryArchitecture Category = "architecture"
	CategoryFantasy      Category = "fantasy"
	CategoryTechnology   Category = "technology"
	CategoryAnimals      Category = "animals"
	CategoryVehicles     Category = "vehicles"
	CategoryFood         Category = "food"
	CategorySpace        Category = "space"
)

// categoryKeywords is ordered; earlier categories win score ties.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryLandscape, []string{"landscape", "mountain", "ocean", "forest", "nature", "scenic", "valley", "sunset", "sunrise"}},
	{CategoryPortrait, []string{"person", "face", "human", "portrait", "character", "man", "woman", "child"}},
	{CategoryAbstract, []string{"abstract", "pattern", "geometric", "colorful", "artistic", "modern"}},
	{CategoryArchitecture, []string{"building", "house", "city", "urban", "structure", "architecture", "cityscape"}},
	{CategoryFantasy, []string{"dragon", "magic", "fantasy", "mythical", "unicorn", "castle", "fairy"}},
	{CategoryTechnology, []string{"robot", "futuristic", "sci-fi", "cyberpunk", "tech", "computer", "ai"}},
	{CategoryAnimals, []string{"cat", "dog", "bird", "animal", "wildlife", "pet", "horse", "elephant"}},
	{CategoryVehicles, []string{"car", "truck", "plane", "ship", "vehicle", "motorcycle", "train"}},
	{CategoryFood, []string{"food", "meal", "cooking", "restaurant", "kitchen", "delicious"}},
	{CategorySpace, []string{"space", "planet", "star", "galaxy", "astronaut", "cosmos", "universe"}},
}

// Categories returns every category in tie-break order.
func Categories() []Category {
	out := make([]Category, len(categoryKeywords))
	for i, ck := range categoryKeywords {
		out[i] = ck.category
	}
	return out
}

// Categorize scores each category by the number of its keywords found as
// substrings of the lowercased prompt. The highest score wins; a prompt
// with no hits is abstract.
func Categorize(prompt string) Category {
	p := strings.ToLower(prompt)

	best, bestScore := CategoryAbstract, 0
	for _, ck := range categoryKeywords {
		score := 0
		for _, kw := range ck.keywords {
			if strings.Contains(p, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ck.category, score
		}
	}
	return best
}
