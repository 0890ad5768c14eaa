// Package stream produces the text processing event sequence and frames it
// as server-sent events.
package stream

import (
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultDelay is the pause before each event
const DefaultDelay = time.Second

// Event is one derived form of the input text
type Event struct {
	Label string
	Value string
}

func (e Event) String() string {
	return e.Label + ": " + e.Value
}

// Sleeper pauses the stream between events. It is not cancellable.
type Sleeper func(time.Duration)

// Process yields the uppercase, lowercase, reversed and length forms of text,
// sleeping for delay before each. The sequence is finite: four events, then
// it ends. A nil sleep uses time.Sleep.
func Process(text string, delay time.Duration, sleep Sleeper) iter.Seq[Event] {
	if sleep == nil {
		sleep = time.Sleep
	}
	steps := []func() Event{
		func() Event { return Event{Label: "Uppercase", Value: strings.ToUpper(text)} },
		func() Event { return Event{Label: "Lowercase", Value: strings.ToLower(text)} },
		func() Event { return Event{Label: "Reversed", Value: reverse(text)} },
		func() Event { return Event{Label: "Length", Value: strconv.Itoa(utf8.RuneCountInString(text))} },
	}
	return func(yield func(Event) bool) {
		for _, step := range steps {
			sleep(delay)
			if !yield(step()) {
				return
			}
		}
	}
}

// Write frames e as a single SSE data event
func Write(w io.Writer, e Event) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", e)
	return err
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
