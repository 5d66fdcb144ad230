package piidetect

import "regexp"

// recognizer is a single compiled pattern plus the confidence score
// assigned to every match it produces (spec §12.2: "fixed confidence
// score per type").
type recognizer struct {
	entityType string
	pattern    *regexp.Regexp
	score      float64
}

// recognizers is the fixed set of PII patterns the bundled analyzer
// looks for. This is a deliberately small reference set — the real
// detector (Microsoft Presidio in the original system) is out of scope
// per spec §1; AnalyzeFile is swappable precisely so a real detector can
// replace this one without touching the Scheduler.
var recognizers = []recognizer{
	{
		entityType: "US_SSN",
		pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		score:      0.9,
	},
	{
		entityType: "EMAIL_ADDRESS",
		pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		score:      0.95,
	},
	{
		entityType: "CREDIT_CARD",
		pattern:    regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`),
		score:      0.85,
	},
	{
		entityType: "PHONE_NUMBER",
		pattern:    regexp.MustCompile(`\b(?:\+?1[- ]?)?\(?\d{3}\)?[- ]?\d{3}[- ]?\d{4}\b`),
		score:      0.7,
	},
	{
		entityType: "US_ZIP",
		pattern:    regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`),
		score:      0.4,
	},
}
