package vision

// Definition is one zero-shot label: the tag it produces, the prompt the
// backend scores, and the group used for collapsing.
type Definition struct {
	Name   string
	Prompt string
	Group  string
}

var DefaultCatalog = []Definition{
	{"scene:landscape", "a wide scenic natural landscape photograph", "scene"},
	{"scene:urban", "a busy modern city skyline at street level", "scene"},
	{"scene:indoor", "an indoor scene lit by artificial lighting", "scene"},
	{"scene:night", "a night scene or dark low-light environment", "scene"},
	{"subject:people", "a portrait of a person or people", "subject"},
	{"subject:group", "a group of people together", "subject"},
	{"subject:animals", "animals or wildlife", "subject"},
	{"subject:pets", "domestic pets such as cats or dogs", "subject"},
	{"subject:food", "food, meals, or cuisine", "subject"},
	{"subject:vehicle", "cars, trains, planes, or other vehicles", "subject"},
	{"subject:architecture", "architectural details or buildings", "subject"},
	{"subject:nature", "lush forests, trees, or vegetation", "subject"},
	{"subject:water", "oceans, lakes, rivers, or waterfalls", "subject"},
	{"event:sports", "sports, fitness, or fast motion scenes", "event"},
	{"event:travel", "travel or vacation imagery", "event"},
	{"mood:dramatic", "dramatic, high-contrast lighting", "mood"},
	{"mood:calm", "calm, peaceful, or serene atmosphere", "mood"},
	{"detail:macro", "macro or close-up photography", "detail"},
	{"detail:minimal", "minimalist compositions with lots of negative space", "detail"},
}
