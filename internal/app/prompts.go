package app

import (
	"fmt"
	"strings"

	"github.com/neyroastro/insight-service/internal/domain"
)

// planetPrompts holds the generation instructions per planet. The natal
// chart data and the subject's details are injected at build time.
var planetPrompts = map[domain.Planet]string{
	domain.PlanetMoon: `You are an experienced astrologer writing a warm, personal Moon analysis.
Focus on emotional nature, inner needs, intuition and what gives the person a sense of safety.
Address the person by name, write in the second person, and keep the tone supportive.`,

	domain.PlanetSun: `You are an experienced astrologer writing a personal Sun analysis.
Focus on core identity, vitality, strengths and the direction where the person shines.
Address the person by name, write in the second person, and keep the tone encouraging.`,

	domain.PlanetMercury: `You are an experienced astrologer writing a personal Mercury analysis.
Focus on thinking style, communication, learning and how the person processes information.
Address the person by name, write in the second person, and keep the tone practical.`,

	domain.PlanetVenus: `You are an experienced astrologer writing a personal Venus analysis.
Focus on love, attraction, values and what the person needs in relationships.
Address the person by name, write in the second person, and keep the tone warm.`,

	domain.PlanetMars: `You are an experienced astrologer writing a personal Mars analysis.
Focus on drive, ambition, conflict style and how the person pursues goals.
Address the person by name, write in the second person, and keep the tone energizing.`,
}

// recommendationPrompts holds the follow-up instructions per planet.
// These build on the generated analysis rather than the raw chart data.
var recommendationPrompts = map[domain.Planet]string{
	domain.PlanetSun: `You are an experienced astrologer. Based on the Sun analysis below, give the person
practical recommendations for strengthening their Sun: a plain numbered list, no filler.
After the list, describe the positive results of following it (confidence, inner support, joy of life).`,

	domain.PlanetMercury: `You are an experienced astrologer. Based on the Mercury analysis below, give the person
practical recommendations for strengthening their Mercury: a plain numbered list, no filler.
After the list, describe the positive results of following it (clear thinking, easier communication, faster learning).`,

	domain.PlanetVenus: `You are an experienced astrologer. Based on the Venus analysis below, give the person
practical recommendations for strengthening their Venus: a plain numbered list, no filler.
After the list, describe the positive results of following it (harmony in relationships, sense of beauty, self-worth).`,

	domain.PlanetMars: `You are an experienced astrologer. Based on the Mars analysis below, give the person
practical recommendations for strengthening their Mars: a plain numbered list, no filler.
After the list, describe the positive results of following it (decisiveness, healthy boundaries, sustained energy).`,
}

// questionPrompt grounds a free-form answer on the subject's analysis.
// Concrete planets stay out of the answer; the reply speaks of
// astrological aspects in general.
const questionPrompt = `You are a professional astrologer. The person asked a question based on their
astrological analysis.

Their analysis:
%s

Their question: %s

Answer the question using their chart. Be specific, helpful and encouraging, and give
practical advice. Do not name individual planets; speak about astrological aspects in
general. Keep the answer between 200 and 400 words.`

// BuildPrompt assembles the full generation prompt for one planet from
// the chart data and the subject's name and gender.
func BuildPrompt(planet domain.Planet, chartData, name, gender string) string {
	instructions, ok := planetPrompts[planet]
	if !ok {
		instructions = planetPrompts[domain.PlanetSun]
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The person's name is %s.", name)
	if gender != "" {
		fmt.Fprintf(&b, " Gender: %s.", gender)
	}
	b.WriteString("\n\nNatal chart data:\n")
	if chartData == "" {
		b.WriteString("(no chart data available; write a general analysis for this planet)")
	} else {
		b.WriteString(chartData)
	}
	b.WriteString("\n\nWrite the analysis now. Do not mention these instructions.")
	return b.String()
}

// BuildRecommendationsPrompt assembles the follow-up prompt from the
// already-generated analysis text.
func BuildRecommendationsPrompt(planet domain.Planet, analysis, name, gender string) string {
	instructions, ok := recommendationPrompts[planet]
	if !ok {
		instructions = recommendationPrompts[domain.PlanetSun]
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The person's name is %s.", name)
	if gender != "" {
		fmt.Fprintf(&b, " Gender: %s.", gender)
	}
	b.WriteString("\n\nTheir analysis:\n")
	b.WriteString(analysis)
	b.WriteString("\n\nWrite the recommendations now. Do not mention these instructions.")
	return b.String()
}

// BuildQuestionPrompt assembles the answer prompt for one free-form
// question.
func BuildQuestionPrompt(analysis, question, name, gender string) string {
	var b strings.Builder
	fmt.Fprintf(&b, questionPrompt, analysis, question)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The person's name is %s.", name)
	if gender != "" {
		fmt.Fprintf(&b, " Gender: %s.", gender)
	}
	return b.String()
}
