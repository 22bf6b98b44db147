package repository

import "worker-transcribe/constant"

// jobTransitions is the allowed TranscriptionJob.status table. Entries into pending are
// the manual retry paths; processing -> pending is the stalled-job override.
var jobTransitions = map[constant.JobStatus][]constant.JobStatus{
	constant.JobStatusPending:    {constant.JobStatusProcessing, constant.JobStatusPending},
	constant.JobStatusProcessing: {constant.JobStatusProcessing, constant.JobStatusCompleted, constant.JobStatusFailed, constant.JobStatusPending},
	constant.JobStatusCompleted:  {constant.JobStatusPending},
	constant.JobStatusFailed:     {constant.JobStatusPending},
}

var diarizationTransitions = map[constant.DiarizationStatus][]constant.DiarizationStatus{
	constant.DiarizationNotAttempted: {constant.DiarizationNotAttempted, constant.DiarizationInProgress},
	constant.DiarizationInProgress:   {constant.DiarizationSuccess, constant.DiarizationNoSpeakersDetected, constant.DiarizationFailed},
}

func CanTransition(from, to constant.JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to the given status.
func sourcesOf(to constant.JobStatus) []constant.JobStatus {
	var sources []constant.JobStatus
	for from := range jobTransitions {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func CanTransitionDiarization(from, to constant.DiarizationStatus) bool {
	for _, s := range diarizationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func diarizationSourcesOf(to constant.DiarizationStatus) []constant.DiarizationStatus {
	var sources []constant.DiarizationStatus
	for from := range diarizationTransitions {
		if CanTransitionDiarization(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
