package gemini

// WithGenerator exposes the genai backend override to external tests.
var WithGenerator = withGenerator

// ContentGenerator is the backend contract accepted by WithGenerator.
type ContentGenerator = contentGenerator
