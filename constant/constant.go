package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) String() string {
	return string(s)
}

type DiarizationStatus string

const (
	DiarizationNotAttempted       DiarizationStatus = "not_attempted"
	DiarizationInProgress         DiarizationStatus = "in_progress"
	DiarizationSuccess            DiarizationStatus = "success"
	DiarizationFailed             DiarizationStatus = "failed"
	DiarizationNoSpeakersDetected DiarizationStatus = "no_speakers_detected"
)

func (s DiarizationStatus) String() string {
	return string(s)
}

type TriggerMode string

const (
	TriggerModeLocal TriggerMode = "local"
	TriggerModeAMQP  TriggerMode = "amqp"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// RetryNote is written to last_error when a user re-queues a job.
const RetryNote = "Retry requested by user"
