package domain

import (
	"sort"
	"time"
)

// QAPair is one question/answer exchange recorded during an interview.
type QAPair struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
}

// InterviewHistory is the ordered question/answer log owned by a single scene.
type InterviewHistory struct {
	ID        string    `json:"id"`
	SceneID   string    `json:"scene_id"`
	Pairs     []QAPair  `json:"pairs"`
	CreatedAt time.Time `json:"created_at"`
}

// Len returns the number of recorded pairs.
func (h *InterviewHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Pairs)
}

// Ordered returns the pairs sorted by timestamp, the canonical order.
// Ties keep their stored order.
func (h *InterviewHistory) Ordered() []QAPair {
	if h == nil {
		return nil
	}
	out := make([]QAPair, len(h.Pairs))
	copy(out, h.Pairs)
	SortPairs(out)
	return out
}

// SortPairs orders pairs by creation time in place.
func SortPairs(pairs []QAPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Timestamp.Before(pairs[j].Timestamp)
	})
}
