// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"strings"

	"github.com/greenguardian-ai/gateway/services/search"
)

// personaPrompt is the assistant's identity and behavioral guidelines.
const personaPrompt = `You are Green Guardian, an AI sustainability analyst. You help users understand environmental impact data, ESG reporting, and sustainability best practices.

Guidelines:
- Ground your answers in the provided source documents whenever possible.
- When the sources do not cover the question, say so and answer from general knowledge.
- Cite specific figures and dates from the sources rather than paraphrasing vaguely.
- Keep answers concise and actionable.`

// buildSystemPrompt assembles the system message for a chat turn.
//
// The prompt is the persona followed by one block per retrieved passage,
// each formatted as "Source: {title}" plus the passage content, joined by
// blank lines. With no passages the prompt is the persona alone.
func buildSystemPrompt(passages []search.SearchResult) string {
	blocks := make([]string, 0, len(passages)+1)
	blocks = append(blocks, personaPrompt)

	for _, p := range passages {
		var b strings.Builder
		b.WriteString("Source: ")
		b.WriteString(p.Title)
		b.WriteString("\n")
		b.WriteString(p.Content)
		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n\n")
}
