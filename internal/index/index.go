// Package index orders the stored messages of a process and slices them by cursor.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/eldtechnologies/sequencer/internal/models"
)

var ErrRange = errors.New("invalid range")

// SortedMessages is a read view over one process's messages, ordered by
// sequence key then id. It is recomputed on every read and never stored.
type SortedMessages struct {
	Messages []models.Message
}

// MarshalJSON renders the view as a JSON array; an empty view is [].
func (s *SortedMessages) MarshalJSON() ([]byte, error) {
	if s == nil || s.Messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Messages)
}

// Len returns the number of messages in the view.
func (s *SortedMessages) Len() int {
	return len(s.Messages)
}

// less is the total order of the index. Ledger confirmation plays no part.
func less(a, b *models.Message) bool {
	if a.SequenceKey != b.SequenceKey {
		return a.SequenceKey < b.SequenceKey
	}
	return a.ID < b.ID
}

// FromMessages sorts msgs and returns the inclusive slice [from, to].
//
// Bounds are sequence keys. A bound that matches no message clamps to the
// nearest key inside the range: from to the first key >= from, to to the last
// key <= to. Nil bounds are open. An empty string is a bound like any other:
// from "" admits every key and to "" admits none. HTTP callers map an empty
// query value to nil, so "?to=" reads as an open bound. The input slice is not
// modified.
func FromMessages(msgs []models.Message, from, to *string) (*SortedMessages, error) {
	if from != nil && to != nil && *from > *to {
		return nil, fmt.Errorf("%w: from %q is after to %q", ErrRange, *from, *to)
	}

	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(&sorted[i], &sorted[j])
	})

	lo, hi := 0, len(sorted)
	if from != nil {
		lo = sort.Search(len(sorted), func(i int) bool {
			return sorted[i].SequenceKey >= *from
		})
	}
	if to != nil {
		hi = sort.Search(len(sorted), func(i int) bool {
			return sorted[i].SequenceKey > *to
		})
	}
	if lo > hi {
		lo = hi
	}

	return &SortedMessages{Messages: sorted[lo:hi:hi]}, nil
}
