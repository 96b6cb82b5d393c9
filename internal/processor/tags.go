/**
 * Tag Derivation - deterministic keyword scan
 *
 * Pass 1 matches the title against cuisine and meal-type keywords.
 * Pass 2 infers dietary tags from the ABSENCE of keywords in the ingredient
 * text: a recipe with no meat or fish keyword is tagged vegetarian. This is
 * best-effort classification; an unlisted meat synonym yields a wrong tag.
 */

package processor

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Dietary tag names produced by the absence rules
const (
	TagVegetarian = "vegetarian"
	TagVegan      = "vegan"
	TagDairyFree  = "dairy-free"
)

// TagVocabulary is the keyword configuration, as read from YAML.
type TagVocabulary struct {
	// Title maps a tag to the title keywords that imply it.
	Title map[string][]string `yaml:"title"`
	// Meat lists meat and fish keywords (vegetarian, vegan).
	Meat []string `yaml:"meat"`
	// Dairy lists dairy keywords (vegan, dairy-free).
	Dairy []string `yaml:"dairy"`
	// Animal lists other animal products (vegan).
	Animal []string `yaml:"animal"`
}

// DefaultTagVocabulary returns the built-in English and Hebrew keywords.
func DefaultTagVocabulary() TagVocabulary {
	return TagVocabulary{
		Title: map[string][]string{
			"breakfast":      {"breakfast", "pancake", "waffle", "omelet", "omelette", "granola", "porridge", "french toast", "ארוחת בוקר", "חביתה", "פנקייק"},
			"dessert":        {"dessert", "cake", "cookie", "brownie", "pie", "tart", "pudding", "mousse", "ice cream", "cheesecake", "muffin", "cupcake", "עוגה", "עוגת", "עוגיות", "קינוח", "מוס", "מאפינס"},
			"soup":           {"soup", "chowder", "broth", "bisque", "gazpacho", "מרק"},
			"salad":          {"salad", "slaw", "סלט"},
			"bread":          {"bread", "loaf", "focaccia", "challah", "baguette", "bun", "לחם", "חלה", "לחמניות", "פיתה"},
			"italian":        {"pasta", "pizza", "risotto", "lasagna", "lasagne", "spaghetti", "gnocchi", "pesto", "carbonara", "bolognese", "focaccia", "פסטה", "פיצה", "ריזוטו"},
			"mexican":        {"taco", "burrito", "enchilada", "quesadilla", "salsa", "guacamole", "nachos", "fajita"},
			"asian":          {"stir fry", "ramen", "sushi", "teriyaki", "pad thai", "dumpling", "noodle", "wok", "סושי", "נודלס"},
			"indian":         {"curry", "masala", "tikka", "dal", "dahl", "biryani", "naan", "korma", "קארי"},
			"middle-eastern": {"hummus", "falafel", "shakshuka", "tahini", "shawarma", "kebab", "tabbouleh", "majadra", "חומוס", "פלאפל", "שקשוקה", "טחינה", "שווארמה", "קבב", "מג'דרה", "טאבולה"},
			"french":         {"crepe", "quiche", "ratatouille", "souffle", "soufflé", "croissant", "tarte", "קרפ", "קיש"},
			"drink":          {"smoothie", "cocktail", "lemonade", "milkshake", "latte", "משקה", "שייק", "לימונדה"},
		},
		Meat: []string{
			"meat", "beef", "pork", "chicken", "lamb", "veal", "mutton", "turkey", "duck", "goose", "venison",
			"bacon", "ham", "sausage", "salami", "pepperoni", "prosciutto", "chorizo", "pancetta", "steak", "mince",
			"brisket", "ribs", "meatball", "liver", "gelatin", "gelatine", "lard",
			"fish", "salmon", "tuna", "cod", "tilapia", "trout", "sardine", "anchovy", "anchovies", "mackerel", "halibut",
			"shrimp", "prawn", "crab", "lobster", "clam", "mussel", "oyster", "scallop", "squid", "calamari", "octopus",
			"fish sauce", "worcestershire",
			"בשר", "עוף", "פרגית", "פרגיות", "בקר", "טלה", "כבש", "עגל", "נקניק", "נקניקיות", "סלמי", "קבב", "שניצל",
			"כבד", "כבדים", "קציצות", "המבורגר", "שוקיים", "כנפיים", "חזה", "אנטריקוט",
			"דג", "דגים", "סלמון", "טונה", "אמנון", "דניס", "לברק", "בקלה", "סרדינים", "אנשובי", "שרימפס", "פירות ים", "ג'לטין",
		},
		Dairy: []string{
			"milk", "butter", "cream", "cheese", "yogurt", "yoghurt", "buttermilk", "ghee", "kefir", "whey",
			"mozzarella", "parmesan", "ricotta", "cheddar", "feta", "mascarpone", "gouda", "brie", "halloumi", "labneh",
			"חלב", "חמאה", "שמנת", "גבינה", "גבינת", "גבינות", "יוגורט", "לבנה", "קוטג'", "מוצרלה", "פרמזן", "ריקוטה", "צפתית", "בולגרית", "מסקרפונה",
		},
		Animal: []string{
			"egg", "yolk", "honey", "mayonnaise", "mayo", "meringue",
			"ביצה", "ביצים", "חלמון", "חלמונים", "חלבון", "חלבונים", "דבש", "מיונז",
		},
	}
}

// LoadTagVocabulary reads a YAML vocabulary. Sections missing from the file
// keep their built-in defaults.
func LoadTagVocabulary(path string) (TagVocabulary, error) {
	vocab := DefaultTagVocabulary()
	if path == "" {
		return vocab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, fmt.Errorf("failed to read tag vocabulary: %w", err)
	}

	var override TagVocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return vocab, fmt.Errorf("failed to parse tag vocabulary %s: %w", path, err)
	}

	if len(override.Title) > 0 {
		vocab.Title = override.Title
	}
	if len(override.Meat) > 0 {
		vocab.Meat = override.Meat
	}
	if len(override.Dairy) > 0 {
		vocab.Dairy = override.Dairy
	}
	if len(override.Animal) > 0 {
		vocab.Animal = override.Animal
	}
	return vocab, nil
}

// keyword is a pre-tokenized vocabulary entry
type keyword []string

type titleRule struct {
	tag      string
	keywords []keyword
}

// Tagger derives tags from recipe text. It is immutable after construction
// and safe for concurrent use.
type Tagger struct {
	titleRules []titleRule
	meat       []keyword
	dairy      []keyword
	animal     []keyword
}

// NewTagger compiles a vocabulary into a Tagger
func NewTagger(vocab TagVocabulary) *Tagger {
	tags := make([]string, 0, len(vocab.Title))
	for tag := range vocab.Title {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	t := &Tagger{
		meat:   compileKeywords(vocab.Meat),
		dairy:  compileKeywords(vocab.Dairy),
		animal: compileKeywords(vocab.Animal),
	}
	for _, tag := range tags {
		name := strings.ToLower(strings.TrimSpace(tag))
		if name == "" {
			continue
		}
		t.titleRules = append(t.titleRules, titleRule{tag: name, keywords: compileKeywords(vocab.Title[tag])})
	}
	return t
}

func compileKeywords(words []string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		if tokens := tokenize(w); len(tokens) > 0 {
			out = append(out, tokens)
		}
	}
	return out
}

// Derive runs both passes and returns sorted, deduplicated tags.
func (t *Tagger) Derive(title string, ingredients []string) []string {
	set := make(map[string]struct{})

	titleTokens := tokenize(title)
	for _, rule := range t.titleRules {
		if containsAny(titleTokens, rule.keywords) {
			set[rule.tag] = struct{}{}
		}
	}

	if len(ingredients) > 0 {
		tokens := tokenize(strings.Join(ingredients, "\n"))
		hasMeat := containsAny(tokens, t.meat)
		hasDairy := containsAny(tokens, t.dairy)
		hasAnimal := containsAny(tokens, t.animal)

		if !hasMeat {
			set[TagVegetarian] = struct{}{}
			if !hasDairy && !hasAnimal {
				set[TagVegan] = struct{}{}
			}
		}
		if !hasDairy {
			set[TagDairyFree] = struct{}{}
		}
	}

	return sortedTags(set)
}

// MergeTags unions tag lists into a sorted, deduplicated slice.
func MergeTags(lists ...[]string) []string {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, tag := range list {
			if tag != "" {
				set[tag] = struct{}{}
			}
		}
	}
	return sortedTags(set)
}

func sortedTags(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

var apostrophes = strings.NewReplacer("׳", "'", "’", "'", "`", "'")

func tokenize(s string) []string {
	return strings.FieldsFunc(apostrophes.Replace(strings.ToLower(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(tokens []string, keywords []keyword) bool {
	for _, kw := range keywords {
		if containsPhrase(tokens, kw) {
			return true
		}
	}
	return false
}

func containsPhrase(tokens []string, kw keyword) bool {
	for i := 0; i+len(kw) <= len(tokens); i++ {
		matched := true
		for j, want := range kw {
			if !tokenMatches(tokens[i+j], want) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// hebrewPrefixes are the one-letter prepositions and conjunctions that
// attach to the following word.
const hebrewPrefixes = "והבלמשכ"

func tokenMatches(token, want string) bool {
	if token == want {
		return true
	}

	r := []rune(token)
	if len(r) == 0 {
		return false
	}

	if isHebrew(r[0]) {
		for i := 0; i < 2 && i < len(r)-2; i++ {
			if !strings.ContainsRune(hebrewPrefixes, r[i]) {
				break
			}
			if string(r[i+1:]) == want {
				return true
			}
		}
		return false
	}

	// English plurals: egg/eggs, tomato/tomatoes, anchovy/anchovies
	switch {
	case token == want+"s", token == want+"es":
		return true
	case strings.HasSuffix(want, "y") && token == strings.TrimSuffix(want, "y")+"ies":
		return true
	}
	return false
}

func isHebrew(r rune) bool {
	return unicode.Is(unicode.Hebrew, r)
}
