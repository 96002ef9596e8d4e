package prompt

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultScanLines is how many trailing lines Scan looks at.
const DefaultScanLines = 5

// Detection represents a detected prompt.
type Detection struct {
	Pattern           Pattern
	Line              string // the line that matched
	SuggestedResponse string
}

// Detector finds prompts in the last few lines of output. It is safe for
// concurrent use; patterns are compiled once and shared by every scan.
type Detector struct {
	patterns       []Pattern
	customPatterns []Pattern
	scanLines      int
	mu             sync.RWMutex
}

// NewDetector creates a detector that scans the last scanLines lines.
// A non-positive scanLines uses DefaultScanLines.
func NewDetector(scanLines int) *Detector {
	if scanLines <= 0 {
		scanLines = DefaultScanLines
	}
	return &Detector{
		patterns:  DefaultPatterns(),
		scanLines: scanLines,
	}
}

// AddPattern adds a custom pattern to the detector.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customPatterns = append(d.customPatterns, p)
}

// AddPatternFromConfig adds a pattern from configuration.
func (d *Detector) AddPatternFromConfig(name, regex, promptType string, maskInput bool) error {
	re, err := regexp.Compile(regex)
	if err != nil {
		return err
	}

	var pt PromptType
	switch promptType {
	case "password":
		pt = PromptTypePassword
	case "confirmation":
		pt = PromptTypeConfirmation
	case "editor":
		pt = PromptTypeEditor
	case "pager":
		pt = PromptTypePager
	default:
		pt = PromptTypeText
	}

	d.AddPattern(Pattern{
		Name:      name,
		Regex:     re,
		Type:      pt,
		MaskInput: maskInput,
	})

	return nil
}

// IsCredentialPrompt reports whether text contains a credential marker.
func IsCredentialPrompt(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range CredentialMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// credentialPattern describes a marker hit so it reads like any other match.
var credentialPattern = Pattern{
	Name:      "credential_marker",
	Type:      PromptTypePassword,
	MaskInput: true,
}

// Scan checks the trailing lines for a prompt. Credential markers win over
// every other pattern; custom patterns win over the defaults.
func (d *Detector) Scan(lines []string) *Detection {
	if len(lines) > d.scanLines {
		lines = lines[len(lines)-d.scanLines:]
	}

	// The newest line is the one a prompt sits on, so scan backwards.
	for i := len(lines) - 1; i >= 0; i-- {
		if IsCredentialPrompt(lines[i]) {
			return &Detection{Pattern: credentialPattern, Line: lines[i]}
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	last := lastNonEmpty(lines)
	if last == "" {
		return nil
	}
	for _, set := range [][]Pattern{d.customPatterns, d.patterns} {
		for _, p := range set {
			if p.Regex.MatchString(last) {
				return &Detection{
					Pattern:           p,
					Line:              last,
					SuggestedResponse: p.SuggestedResponse,
				}
			}
		}
	}
	return nil
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// IsPasswordPrompt returns true if the detection is for a password prompt.
func (det *Detection) IsPasswordPrompt() bool {
	return det.Pattern.Type == PromptTypePassword
}

// IsConfirmation returns true if the detection is for a confirmation prompt.
func (det *Detection) IsConfirmation() bool {
	return det.Pattern.Type == PromptTypeConfirmation
}

// Hint returns a human-readable hint for the prompt.
func (det *Detection) Hint() string {
	switch det.Pattern.Type {
	case PromptTypePassword:
		return "Password required. No stored credential was used; enter it to continue."
	case PromptTypeConfirmation:
		if det.SuggestedResponse != "" {
			return "Confirmation required. Suggested response: " + det.SuggestedResponse
		}
		return "Confirmation required."
	case PromptTypeEditor:
		return "Interactive editor detected. Interrupt the block or send the editor's exit command."
	case PromptTypePager:
		if det.SuggestedResponse != "" {
			return "Pager detected. Send '" + det.SuggestedResponse + "' to quit."
		}
		return "Pager detected."
	default:
		return "Input required."
	}
}
