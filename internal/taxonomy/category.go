// Package taxonomy defines the fixed photo categories, their score vectors
// and the versioned CLIP prompt bank.
package taxonomy

import "strings"

// CategoryKey identifies one of the eight photo categories.
type CategoryKey string

const (
	ScreenshotDocument CategoryKey = "screenshot_document"
	People             CategoryKey = "people"
	FoodCafe           CategoryKey = "food_cafe"
	NatureLandscape    CategoryKey = "nature_landscape"
	CityStreetTravel   CategoryKey = "city_street_travel"
	PetsAnimals        CategoryKey = "pets_animals"
	ProductsObjects    CategoryKey = "products_objects"
	Other              CategoryKey = "other"
)

// NumCategories is the size of the taxonomy.
const NumCategories = 8

var ordered = [NumCategories]CategoryKey{
	ScreenshotDocument,
	People,
	FoodCafe,
	NatureLandscape,
	CityStreetTravel,
	PetsAnimals,
	ProductsObjects,
	Other,
}

var labels = map[CategoryKey]string{
	ScreenshotDocument: "스크린샷_문서",
	People:             "사람",
	FoodCafe:           "음식_카페",
	NatureLandscape:    "자연_풍경",
	CityStreetTravel:   "도시_여행",
	PetsAnimals:        "동물",
	ProductsObjects:    "사물",
	Other:              "기타",
}

// Categories returns all keys in canonical order.
func Categories() []CategoryKey {
	out := make([]CategoryKey, NumCategories)
	copy(out, ordered[:])
	return out
}

// ParseCategory maps a string to its key. Unknown strings become Other.
func ParseCategory(s string) CategoryKey {
	key := CategoryKey(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := labels[key]; ok {
		return key
	}
	return Other
}

// Label returns the export folder name for the category.
func (k CategoryKey) Label() string {
	if l, ok := labels[k]; ok {
		return l
	}
	return labels[Other]
}

// Index returns the canonical position of k, or -1.
func (k CategoryKey) Index() int {
	for i, c := range ordered {
		if c == k {
			return i
		}
	}
	return -1
}

// Labels returns every export folder name in canonical order.
func Labels() []string {
	out := make([]string, 0, NumCategories)
	for _, k := range ordered {
		out = append(out, labels[k])
	}
	return out
}

// FromLabel resolves an export folder name back to its category.
func FromLabel(label string) (CategoryKey, bool) {
	for k, l := range labels {
		if l == label {
			return k, true
		}
	}
	return "", false
}
