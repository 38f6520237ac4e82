package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"waker/internal/checks"
)

// Telegram rejects messages longer than this many characters.
const maxMessageLen = 4096

// FormatDigest renders the run summary in Telegram's legacy Markdown. When
// the digest would exceed the message limit, responses are shortened so that
// every target keeps its block and every code fence stays closed.
func FormatDigest(title string, results []checks.Result) string {
	header := fmt.Sprintf("🚀 *%s*", escapeMarkdown(title))

	responses := make([]string, len(results))
	fixed := utf8.RuneCountInString(header)
	for i, r := range results {
		responses[i] = fenceSafe(prettyResponse(r.Response))
		fixed += len("\n\n") + utf8.RuneCountInString(formatResultBlock(r, ""))
	}
	fitResponses(responses, maxMessageLen-fixed)

	blocks := make([]string, 0, len(results)+1)
	blocks = append(blocks, header)
	for i, r := range results {
		blocks = append(blocks, formatResultBlock(r, responses[i]))
	}
	// Only reached when the headers alone overflow the limit.
	return truncate(strings.Join(blocks, "\n\n"), maxMessageLen)
}

func formatResultBlock(r checks.Result, response string) string {
	return fmt.Sprintf("*%s*: %s\n_Response_: ```\n%s\n```\n_Time taken_: %s",
		escapeMarkdown(r.Name), r.Status, response, r.TimeTaken)
}

// fitResponses shrinks responses in place so their total rune count is at
// most budget. Short responses are kept whole and their unused share goes
// to the longer ones.
func fitResponses(responses []string, budget int) {
	if budget < 0 {
		budget = 0
	}

	order := make([]int, len(responses))
	lengths := make([]int, len(responses))
	total := 0
	for i, r := range responses {
		order[i] = i
		lengths[i] = utf8.RuneCountInString(r)
		total += lengths[i]
	}
	if total <= budget {
		return
	}
	sort.SliceStable(order, func(a, b int) bool { return lengths[order[a]] < lengths[order[b]] })

	remaining := budget
	for k, idx := range order {
		share := remaining / (len(order) - k)
		if lengths[idx] > share {
			responses[idx] = truncate(responses[idx], share)
		}
		remaining -= utf8.RuneCountInString(responses[idx])
	}
}

var fenceReplacer = strings.NewReplacer("`", "ˋ")

// fenceSafe keeps backticks in a response from closing its code block.
func fenceSafe(s string) string {
	return fenceReplacer.Replace(s)
}

func prettyResponse(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown protects free text from Telegram's legacy Markdown parser.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func summaryLine(results []checks.Result) string {
	okay := 0
	for _, r := range results {
		if r.Status == checks.StatusOkay {
			okay++
		}
	}
	return fmt.Sprintf("%d/%d okay", okay, len(results))
}

// truncate cuts on rune boundaries so multi-byte emoji survive.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
