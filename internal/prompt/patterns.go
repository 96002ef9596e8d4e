// Package prompt detects interactive prompts, credential prompts first, in
// the tail of a command's terminal output.
package prompt

import "regexp"

// PromptType indicates the type of prompt detected.
type PromptType string

const (
	PromptTypePassword     PromptType = "password"
	PromptTypeConfirmation PromptType = "confirmation"
	PromptTypeText         PromptType = "text"
	PromptTypeEditor       PromptType = "editor"
	PromptTypePager        PromptType = "pager"
)

// CredentialMarkers are the lowercase substrings that identify a credential
// prompt. They are matched case-insensitively anywhere in a line.
var CredentialMarkers = []string{"password:", "passphrase:", "password for"}

// Pattern represents a prompt detection pattern.
type Pattern struct {
	Name              string
	Regex             *regexp.Regexp
	Type              PromptType
	MaskInput         bool
	SuggestedResponse string
}

// DefaultPatterns returns the built-in non-credential prompt patterns.
// Credential prompts are found through CredentialMarkers.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// SSH host key confirmation
		{
			Name:              "ssh_host_key",
			Regex:             regexp.MustCompile(`(?i)are you sure you want to continue connecting \(yes/no(/\[fingerprint\])?\)\?`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "yes",
		},

		// Package manager confirmations
		{
			Name:              "apt_confirmation",
			Regex:             regexp.MustCompile(`(?i)do you want to continue\?\s*\[Y/n\]\s*$`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "Y",
		},
		{
			Name:              "yum_confirmation",
			Regex:             regexp.MustCompile(`(?i)is this ok \[y/d/N\]:\s*$`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "y",
		},

		// Git credential helper
		{
			Name:  "git_username",
			Regex: regexp.MustCompile(`(?i)username for '.*':\s*$`),
			Type:  PromptTypeText,
		},

		// Transfer overwrite questions
		{
			Name:              "overwrite_confirm",
			Regex:             regexp.MustCompile(`(?i)overwrite.*\?\s*\[y/N\]`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "y",
		},

		// Generic yes/no
		{
			Name:              "yes_no_generic",
			Regex:             regexp.MustCompile(`(?i)\[yes/no\]\s*$`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "yes",
		},
		{
			Name:              "y_n_generic",
			Regex:             regexp.MustCompile(`(?i)\[y/n\]\s*$`),
			Type:              PromptTypeConfirmation,
			SuggestedResponse: "y",
		},

		// Editors and pagers
		{
			Name:              "nano_editor",
			Regex:             regexp.MustCompile(`(?i)GNU nano`),
			Type:              PromptTypeEditor,
			SuggestedResponse: "Ctrl+X",
		},
		{
			Name:              "less_pager",
			Regex:             regexp.MustCompile(`(?i)\(END\)\s*$`),
			Type:              PromptTypePager,
			SuggestedResponse: "q",
		},
		{
			Name:              "more_pager",
			Regex:             regexp.MustCompile(`--More--`),
			Type:              PromptTypePager,
			SuggestedResponse: "q",
		},

		// REPLs
		{
			Name:  "python_prompt",
			Regex: regexp.MustCompile(`>>>\s*$`),
			Type:  PromptTypeText,
		},
		{
			Name:  "mysql_prompt",
			Regex: regexp.MustCompile(`mysql>\s*$`),
			Type:  PromptTypeText,
		},
		{
			Name:  "redis_prompt",
			Regex: regexp.MustCompile(`\d+\.\d+\.\d+\.\d+:\d+>\s*$`),
			Type:  PromptTypeText,
		},
	}
}
