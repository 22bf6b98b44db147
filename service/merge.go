package service

import (
	"sort"

	"worker-transcribe/entities"
	"worker-transcribe/pkg/diarization"
)

// assignSpeakers tags each segment with the speaker whose turn overlaps it the most.
// Turns are ordered by start and a later turn must strictly beat the best overlap, so
// exact ties go to the earliest turn. Segments that overlap no turn keep an empty tag.
func assignSpeakers(transcript entities.Transcript, turns []diarization.Turn) entities.Transcript {
	ordered := sortedTurns(turns)

	out := make(entities.Transcript, len(transcript))
	for i, seg := range transcript {
		seg.Speaker = ""
		best := 0.0
		for _, turn := range ordered {
			if turn.Start >= seg.End {
				break
			}
			if o := overlap(seg.Start, seg.End, turn.Start, turn.End); o > best {
				best = o
				seg.Speaker = turn.Speaker
			}
		}
		out[i] = seg
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	return min(aEnd, bEnd) - max(aStart, bStart)
}

func sortedTurns(turns []diarization.Turn) []diarization.Turn {
	ordered := make([]diarization.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Speaker != "" && t.End > t.Start {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})
	return ordered
}

// distinctSpeakers lists turn speakers in order of first appearance by start time.
func distinctSpeakers(turns []diarization.Turn) []string {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	for _, t := range sortedTurns(turns) {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			speakers = append(speakers, t.Speaker)
		}
	}
	return speakers
}
