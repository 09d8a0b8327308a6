// Package interview bounds an interview history into the context block sent
// to the language model.
package interview

import (
	"fmt"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
)

// NoConversation is returned for an empty history.
const NoConversation = "This is the start of the conversation."

// Anchor window sizes: the opening pairs and the most recent pairs are kept
// verbatim, everything in between is reduced to a count.
const (
	HeadPairs = 2
	TailPairs = 3
	maxFull   = HeadPairs + TailPairs
)

// Summarize renders pairs, in the order given, into a bounded text block.
func Summarize(pairs []domain.QAPair) string {
	n := len(pairs)
	if n == 0 {
		return NoConversation
	}
	if n <= maxFull {
		return joinPairs(pairs)
	}

	var b strings.Builder
	b.WriteString(joinPairs(pairs[:HeadPairs]))
	b.WriteString("\n\n")
	b.WriteString(ElisionLine(n - maxFull))
	b.WriteString("\n\n")
	b.WriteString(joinPairs(pairs[n-TailPairs:]))
	return b.String()
}

// SummarizeHistory summarizes h in canonical timestamp order.
func SummarizeHistory(h *domain.InterviewHistory) string {
	return Summarize(h.Ordered())
}

// ElisionLine is the single line standing in for omitted pairs.
func ElisionLine(omitted int) string {
	return fmt.Sprintf("[%d additional questions and answers were discussed...]", omitted)
}

// FormatPair renders one pair as a two-line block.
func FormatPair(p domain.QAPair) string {
	return "Q: " + p.Question + "\nA: " + p.Answer
}

// QABlock renders every pair for the draft prompt, newline separated.
func QABlock(pairs []domain.QAPair) string {
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		lines = append(lines, FormatPair(p))
	}
	return strings.Join(lines, "\n")
}

func joinPairs(pairs []domain.QAPair) string {
	blocks := make([]string, 0, len(pairs))
	for _, p := range pairs {
		blocks = append(blocks, FormatPair(p))
	}
	return strings.Join(blocks, "\n\n")
}
