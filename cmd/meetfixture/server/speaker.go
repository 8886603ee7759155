package server

import (
	"sort"
	"sync"
)

// speakingThreshold is the minimum average loudness (127 minus the RFC 6464
// level) for a participant to count as speaking during a window.
const speakingThreshold = 10

// SpeakerDetector elects the dominant speaker of a room from RFC 6464 audio
// levels, where 0 is the loudest and 127 is silence.
//
// Levels are accumulated between elections. Each Elect picks the loudest
// eligible participant of the window that just ended and keeps the current
// speaker when nobody spoke.
type SpeakerDetector struct {
	mu      sync.Mutex
	sums    map[string]int
	counts  map[string]int
	current string
}

// NewSpeakerDetector returns a detector with no current speaker.
func NewSpeakerDetector() *SpeakerDetector {
	return &SpeakerDetector{
		sums:   make(map[string]int),
		counts: make(map[string]int),
	}
}

// Observe records one audio level sample for id.
func (d *SpeakerDetector) Observe(id string, level uint8) {
	if level > 127 {
		level = 127
	}
	d.mu.Lock()
	d.sums[id] += 127 - int(level)
	d.counts[id]++
	d.mu.Unlock()
}

// Elect closes the current window. eligible filters out participants that
// cannot be dominant, e.g. muted ones. It returns the dominant speaker and
// whether it changed.
func (d *SpeakerDetector) Elect(eligible func(id string) bool) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.counts))
	for id := range d.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best, bestLoudness := "", 0
	for _, id := range ids {
		if eligible != nil && !eligible(id) {
			continue
		}
		loudness := d.sums[id] / d.counts[id]
		if loudness < speakingThreshold {
			continue
		}
		if loudness > bestLoudness || (loudness == bestLoudness && id == d.current) {
			best, bestLoudness = id, loudness
		}
	}
	clear(d.sums)
	clear(d.counts)

	if best == "" || best == d.current {
		return d.current, false
	}
	d.current = best
	return best, true
}

// Current returns the dominant speaker, or "" when nobody has spoken yet.
func (d *SpeakerDetector) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Forget drops id's samples and clears it as the current speaker.
func (d *SpeakerDetector) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sums, id)
	delete(d.counts, id)
	if d.current == id {
		d.current = ""
	}
}
