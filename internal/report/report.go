// Package report writes beginner-friendly diagnostic reports for a predicted disease label.
package report

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyReport is returned when the model answers with no text.
var ErrEmptyReport = errors.New("empty report")

// ErrNoLabel is returned when a text-only request has no label to talk about.
var ErrNoLabel = errors.New("label must be provided")

// Generator produces markdown write-ups for a predicted label.
type Generator interface {
	// Generate diagnoses a classified leaf image (summary and symptoms).
	Generate(ctx context.Context, label string, image []byte, mimeType string) (string, error)
	// Recommendations gives general, location-independent treatment advice.
	Recommendations(ctx context.Context, label string) (string, error)
	// Info is a standalone information sheet about the disease.
	Info(ctx context.Context, label string) (string, error)
}

const promptTemplate = `You are an agricultural diagnostic assistant.
A plant disease classifier looked at the attached leaf photo and predicted: %s (plant: %s, condition: %s).

Write a short markdown report in simple English for a beginner gardener, with this structure:

**1. Diagnostic Summary**
   - **Plant Type:** the plant named above.
   - **Detected Disease:** the condition named above, or "Healthy".
   - **Description:** 2-4 lines on the cause (fungus, bacteria, virus), the affected plant parts and how it spreads.

**2. Symptoms Observed**
   - a bulleted list of symptoms typical of this condition that are visible on the photo.

Do not contradict the classifier's label. Output only the report.`

const recommendationsTemplate = `You are an expert plant pathologist.
A plant has been diagnosed and needs general, non-location-specific treatment advice.

**Diagnosis Details:**
- **Plant Type:** %[1]s
- **Detected Disease:** %[2]s

Continue a previous analysis as markdown, starting with section 3. Give general best practices for managing this disease, not based on weather or a specific location. Be scientific, straightforward and honest. Use simple English and clear step-by-step instructions a non-expert can follow.

**3. Recommended Treatments & Management (General Advice)**
- **Risk Assessment:** the general conditions under which this disease thrives.
- **Cultural & Organic Control:** a bulleted list of cultural, biological and organic control methods.
- **Fertilization & Soil Health:** soil and fertilizer advice to help the plant recover, with a sample search link such as [YouTube: How to fertilize %[1]s with %[2]s](https://www.youtube.com/results?search_query=%[3]s).
- **Chemical Control Guide:** if chemicals are commonly used for this disease:
  - **Active Ingredients:** specific active ingredients suitable for this disease.
  - **Application Timing:** general advice on when and how often to apply.
  - **Safety Precautions:** a disclaimer to always follow the product label and wear protective equipment.
  - **Where to Buy:** common suppliers and a sample, non-affiliate Google Shopping search link.

**4. Environmental Impact Estimate**
   - **Estimated CO2e:** a very rough estimate in grams of CO2 equivalent for the whole analysis.
   - **Note:** a brief note that the model runs in data centers committed to carbon neutrality.

**5. API Usage Estimate**
   - **Estimated Total Input Tokens:** a rough estimate for both analysis steps.
   - **Estimated Total Output Tokens:** a rough estimate for the full report.

Generate ONLY these sections, starting with the "**3. Recommended Treatments & Management**" heading.`

const infoTemplate = `You are a plant pathologist and agricultural expert.
Write an easy-to-understand information sheet for the plant disease below, in markdown with clear headings, bullet points and concise simple English. Assume the reader has no background in botany or agriculture.

**Disease Name:** %[1]s

### Overview of %[1]s
A 2-3 sentence summary of what the disease is, what causes it and which plants it typically affects.

### Common Causes & Conditions
A bulleted list of environmental factors and plant conditions that help the disease grow and spread.

### Key Symptoms to Identify
A detailed bulleted list of visual symptoms on leaves, stems, fruits or roots.

### General Prevention & Management Strategies
- **Cultural Practices:** non-chemical methods such as crop rotation, removing infected parts, spacing and resistant varieties.
- **Organic Control:** organic-approved treatments such as neem oil, copper fungicides or biological controls.

Generate ONLY the markdown content of this template.`

// Humanize splits a label such as "Apple___Black_rot" into "Apple" and "Black rot".
func Humanize(label string) (plant, condition string) {
	plant, condition, found := strings.Cut(label, "___")
	if !found {
		return strings.ReplaceAll(label, "_", " "), ""
	}
	plant = strings.ReplaceAll(plant, "_", " ")
	condition = strings.ReplaceAll(condition, "_", " ")
	return strings.TrimSpace(plant), strings.TrimSpace(condition)
}

func Prompt(label string) string {
	plant, condition := Humanize(label)
	if condition == "" {
		condition = "unspecified"
	}
	return fmt.Sprintf(promptTemplate, label, plant, condition)
}

func RecommendationsPrompt(label string) (string, error) {
	plant, condition := Humanize(label)
	if plant == "" {
		return "", ErrNoLabel
	}
	if condition == "" {
		condition = "unspecified"
	}
	query := url.QueryEscape(fmt.Sprintf("how to fertilize %s with %s", plant, condition))
	return fmt.Sprintf(recommendationsTemplate, plant, condition, query), nil
}

// InfoPrompt names the disease as "<condition> (<plant>)" so the sheet is about the right host.
func InfoPrompt(label string) (string, error) {
	plant, condition := Humanize(label)
	if plant == "" {
		return "", ErrNoLabel
	}
	name := plant
	if condition != "" {
		name = fmt.Sprintf("%s (%s)", condition, plant)
	}
	return fmt.Sprintf(infoTemplate, name), nil
}

// GeminiReporter asks a Gemini model for the report.
type GeminiReporter struct {
	client *genai.Client
	model  string
}

var _ Generator = (*GeminiReporter)(nil)

func NewGeminiReporter(ctx context.Context, apiKey, model string) (*GeminiReporter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiReporter{client: client, model: model}, nil
}

func (g *GeminiReporter) Generate(ctx context.Context, label string, image []byte, mimeType string) (string, error) {
	parts := []*genai.Part{}
	if len(image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(image, mimeType))
	}
	parts = append(parts, genai.NewPartFromText(Prompt(label)))
	return g.generate(ctx, parts)
}

func (g *GeminiReporter) Recommendations(ctx context.Context, label string) (string, error) {
	prompt, err := RecommendationsPrompt(label)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)})
}

func (g *GeminiReporter) Info(ctx context.Context, label string) (string, error) {
	prompt, err := InfoPrompt(label)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)})
}

func (g *GeminiReporter) generate(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini API request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyReport
	}
	return text, nil
}
