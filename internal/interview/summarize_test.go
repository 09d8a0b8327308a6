package interview

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/lumi/internal/domain"
)

func makePairs(n int) []domain.QAPair {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	pairs := make([]domain.QAPair, n)
	for i := range pairs {
		pairs[i] = domain.QAPair{
			ID:        fmt.Sprintf("qa-%d", i),
			Question:  fmt.Sprintf("Q%d", i),
			Answer:    fmt.Sprintf("A%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return pairs
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	if got := Summarize(nil); got != NoConversation {
		t.Fatalf("Summarize(nil) = %q", got)
	}
}

func TestSummarizeUpToFiveKeepsEverything(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 5; n++ {
		pairs := makePairs(n)
		got := Summarize(pairs)

		if strings.Contains(got, "additional questions") {
			t.Fatalf("n=%d: unexpected elision marker in %q", n, got)
		}
		last := -1
		for _, p := range pairs {
			idx := strings.Index(got, FormatPair(p))
			if idx < 0 {
				t.Fatalf("n=%d: pair %s missing", n, p.ID)
			}
			if idx <= last {
				t.Fatalf("n=%d: pair %s out of order", n, p.ID)
			}
			last = idx
		}
		if blocks := strings.Split(got, "\n\n"); len(blocks) != n {
			t.Fatalf("n=%d: expected %d blocks, got %d", n, n, len(blocks))
		}
	}
}

func TestSummarizeElidesMiddle(t *testing.T) {
	t.Parallel()

	for _, n := range []int{6, 7, 12, 40} {
		pairs := makePairs(n)
		got := Summarize(pairs)

		want := strings.Join([]string{
			FormatPair(pairs[0]),
			FormatPair(pairs[1]),
			ElisionLine(n - 5),
			FormatPair(pairs[n-3]),
			FormatPair(pairs[n-2]),
			FormatPair(pairs[n-1]),
		}, "\n\n")
		if got != want {
			t.Fatalf("n=%d:\ngot  %q\nwant %q", n, got, want)
		}
		for i := 2; i < n-3; i++ {
			if strings.Contains(got, fmt.Sprintf("Q%d\n", i)) {
				t.Fatalf("n=%d: omitted pair %d leaked into summary", n, i)
			}
		}
	}
}

func TestElisionLine(t *testing.T) {
	t.Parallel()

	if got := ElisionLine(2); got != "[2 additional questions and answers were discussed...]" {
		t.Fatalf("ElisionLine(2) = %q", got)
	}
}

func TestSummarizeHistoryUsesTimestampOrder(t *testing.T) {
	t.Parallel()

	pairs := makePairs(3)
	h := &domain.InterviewHistory{Pairs: []domain.QAPair{pairs[2], pairs[0], pairs[1]}}
	if got, want := SummarizeHistory(h), Summarize(pairs); got != want {
		t.Fatalf("SummarizeHistory() = %q, want %q", got, want)
	}
}

func TestQABlock(t *testing.T) {
	t.Parallel()

	got := QABlock(makePairs(2))
	if got != "Q: Q0\nA: A0\nQ: Q1\nA: A1" {
		t.Fatalf("QABlock() = %q", got)
	}
}
