package taxonomy

// PromptBankVersion identifies the prompt set used to build text prototypes.
const PromptBankVersion = "v1"

var categoryPrompts = map[CategoryKey][]string{
	ScreenshotDocument: {
		"a screenshot of a document",
		"a screenshot with text and UI",
		"a photographed document or paper",
	},
	People: {
		"a photo of people",
		"a portrait of a person",
		"people in a social scene",
	},
	FoodCafe: {
		"a photo of food",
		"a cafe or restaurant scene",
		"a drink or dessert on a table",
	},
	NatureLandscape: {
		"a nature landscape photo",
		"mountains, forest, ocean, or sky",
		"a scenic outdoor view",
	},
	CityStreetTravel: {
		"a city street photo",
		"a travel landmark or tourist place",
		"buildings and urban scenery",
	},
	PetsAnimals: {
		"a photo of an animal",
		"a pet dog or cat",
		"wildlife or animals outdoors",
	},
	ProductsObjects: {
		"a photo of an object or product",
		"an item on a table",
		"a close-up of a thing",
	},
	Other: {
		"a miscellaneous photo",
		"an abstract or unclear scene",
		"something else",
	},
}

var keepPrompts = []string{
	"a valuable personal photo worth keeping",
	"a meaningful photo to keep in a personal album",
	"a high quality photo worth saving",
	"an important screenshot to keep",
}

var dropPrompts = []string{
	"a low quality photo not worth keeping",
	"a blurry or accidental photo",
	"a duplicate or unimportant screenshot",
	"a meaningless image to delete",
}

// PromptsFor returns the prompts of one category.
func PromptsFor(k CategoryKey) []string {
	return append([]string(nil), categoryPrompts[k]...)
}

// CategoryPromptBatch flattens every category's prompts in canonical order.
// counts[i] is the number of prompts belonging to Categories()[i].
func CategoryPromptBatch() (prompts []string, counts []int) {
	for _, k := range ordered {
		p := categoryPrompts[k]
		prompts = append(prompts, p...)
		counts = append(counts, len(p))
	}
	return prompts, counts
}

// KeepPrompts describes photos worth keeping.
func KeepPrompts() []string { return append([]string(nil), keepPrompts...) }

// DropPrompts describes photos not worth keeping.
func DropPrompts() []string { return append([]string(nil), dropPrompts...) }
