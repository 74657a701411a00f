package domain

// Planet identifies the category of analysis content a purchase grants
// access to. Moon is the free tier and is never dispatched through the
// paid pipeline; it stays in the enum for result-row compatibility.
type Planet string

const (
	PlanetMoon    Planet = "moon"
	PlanetSun     Planet = "sun"
	PlanetMercury Planet = "mercury"
	PlanetVenus   Planet = "venus"
	PlanetMars    Planet = "mars"
)

// PaidPlanetOrder is the fixed total order the bundle sequencer walks.
var PaidPlanetOrder = []Planet{PlanetSun, PlanetMercury, PlanetVenus, PlanetMars}

// PlanetDescriptor parameterizes the generic worker for one planet:
// which queues it consumes, which prediction column it writes, and how
// the delivered message is titled.
type PlanetDescriptor struct {
	Planet    Planet
	QueueName string
	// RecommendationsQueue carries follow-up recommendation requests for
	// an already-delivered analysis.
	RecommendationsQueue string
	Title                string
	Emoji                string
	// Column is the predictions table column holding this planet's
	// generated analysis.
	Column string
}

var planetDescriptors = map[Planet]PlanetDescriptor{
	PlanetSun: {
		Planet:               PlanetSun,
		QueueName:            "sun_predictions",
		RecommendationsQueue: "sun_recommendations",
		Title:                "Sun",
		Emoji:                "☀️",
		Column:               "sun_analysis",
	},
	PlanetMercury: {
		Planet:               PlanetMercury,
		QueueName:            "mercury_predictions",
		RecommendationsQueue: "mercury_recommendations",
		Title:                "Mercury",
		Emoji:                "☿️",
		Column:               "mercury_analysis",
	},
	PlanetVenus: {
		Planet:               PlanetVenus,
		QueueName:            "venus_predictions",
		RecommendationsQueue: "venus_recommendations",
		Title:                "Venus",
		Emoji:                "♀️",
		Column:               "venus_analysis",
	},
	PlanetMars: {
		Planet:               PlanetMars,
		QueueName:            "mars_predictions",
		RecommendationsQueue: "mars_recommendations",
		Title:                "Mars",
		Emoji:                "♂️",
		Column:               "mars_analysis",
	},
}

// DescriptorFor returns the descriptor for a paid planet. The second
// return is false for moon and for unknown values.
func DescriptorFor(p Planet) (PlanetDescriptor, bool) {
	d, ok := planetDescriptors[p]
	return d, ok
}

// ParsePlanet validates a wire value against the known planets.
func ParsePlanet(s string) (Planet, bool) {
	switch Planet(s) {
	case PlanetMoon, PlanetSun, PlanetMercury, PlanetVenus, PlanetMars:
		return Planet(s), true
	}
	return "", false
}

// PaidPlanetIndex returns the position of p in the bundle order, or -1
// when p is not part of the paid sequence.
func PaidPlanetIndex(p Planet) int {
	for i, candidate := range PaidPlanetOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}
