package processor

import (
	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// Normalizer coerces a CandidateRecipe into a canonical Recipe
type Normalizer struct {
	tagger *Tagger
}

// NewNormalizer creates a normalizer; a nil tagger uses the built-in vocabulary.
func NewNormalizer(tagger *Tagger) *Normalizer {
	if tagger == nil {
		tagger = NewTagger(DefaultTagVocabulary())
	}
	return &Normalizer{tagger: tagger}
}

// Normalize validates and repairs a candidate. Running it on its own output
// (via CandidateFromRecipe) yields an identical Recipe.
func (n *Normalizer) Normalize(c *CandidateRecipe) (*Recipe, error) {
	if c == nil {
		return nil, errors.NewUnrecoverableSchemaError("interpreter returned no recipe object")
	}

	recipe := &Recipe{
		Title:        cleanEntry(coerceText(c.Title), false),
		Ingredients:  coerceList(c.Ingredients, false),
		Instructions: coerceList(c.Instructions, true),
		Servings:     1,
	}

	if len(recipe.Ingredients) == 0 && len(recipe.Instructions) == 0 {
		return nil, errors.NewUnrecoverableSchemaError("no ingredients or instructions found")
	}

	if recipe.Title == "" {
		recipe.Title = DefaultTitle
	}
	if v, ok := coerceMinutes(c.PrepTime); ok {
		recipe.PrepTime = v
	}
	if v, ok := coerceMinutes(c.CookTime); ok {
		recipe.CookTime = v
	}
	if v, ok := coerceServings(c.Servings); ok {
		recipe.Servings = v
	}

	recipe.Tags = MergeTags(coerceTags(c.Tags), n.tagger.Derive(recipe.Title, recipe.Ingredients))
	return recipe, nil
}
