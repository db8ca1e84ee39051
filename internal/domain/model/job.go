package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
)

type JobStatus string

const (
	JobStatusPending         JobStatus = "pending"
	JobStatusDownloading     JobStatus = "downloading"
	JobStatusExtractingAudio JobStatus = "extracting_audio"
	JobStatusTranscribing    JobStatus = "transcribing"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusError           JobStatus = "error"
)

// Steps recorded next to the status. A step is finer grained than a status.
const (
	StepQueued           = "queued"
	StepDownloading      = "downloading"
	StepExtractingAudio  = "extracting_audio"
	StepTranscribing     = "transcribing"
	StepGeneratingGuide  = "generating_guide"
	StepPipelineComplete = "pipeline_complete"
	StepError            = "error"
)

// TranscriptionStep is the step name used while the provider reports sub-status s.
func TranscriptionStep(s string) string { return "transcription_" + s }

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:         {JobStatusDownloading, JobStatusError},
	JobStatusDownloading:     {JobStatusExtractingAudio, JobStatusError},
	JobStatusExtractingAudio: {JobStatusTranscribing, JobStatusError},
	JobStatusTranscribing:    {JobStatusCompleted, JobStatusError},
	JobStatusCompleted:       {},
	JobStatusError:           {},
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// CanTransition reports whether a job may move from s to next. Staying in the
// same non-terminal status is allowed so progress and step can advance.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	for _, candidate := range jobTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Word is one timed token of a transcript. Times are milliseconds from the start of the audio.
type Word struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

func (t *Transcript) Empty() bool {
	return t == nil || (t.Text == "" && len(t.Words) == 0)
}

// Job is one end-to-end pipeline run for a (user, video) pair.
type Job struct {
	ID                 string
	VideoID            string
	UserID             string
	SourceURL          string
	GuideConfig        GuideConfig
	Status             JobStatus
	Progress           int
	Step               string
	FailedStage        string
	Error              string
	TranscriptionJobID string
	Transcript         *Transcript
	GuideID            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

func NewJob(userID, videoID, sourceURL string, cfg GuideConfig) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		VideoID:     videoID,
		UserID:      userID,
		SourceURL:   sourceURL,
		GuideConfig: cfg,
		Status:      JobStatusPending,
		Step:        StepQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance moves the job to status with the given progress and step.
// Terminal jobs are immutable.
func (j *Job) Advance(status JobStatus, progress int, step string) error {
	if j.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	if !j.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, status)
	}
	j.Status = status
	j.Progress = clampProgress(progress)
	j.Step = step
	j.UpdatedAt = time.Now().UTC()
	if status.IsTerminal() {
		at := j.UpdatedAt
		j.CompletedAt = &at
	}
	return nil
}

// Fail moves the job to error, recording the stage that was running and the cause.
func (j *Job) Fail(stage, message string) error {
	if j.Status.IsTerminal() {
		return domain.ErrJobTerminal
	}
	progress := j.Progress
	if err := j.Advance(JobStatusError, progress, StepError); err != nil {
		return err
	}
	j.FailedStage = stage
	j.Error = message
	return nil
}

func (j *Job) OwnedBy(userID string) bool { return userID != "" && j.UserID == userID }

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// JobEvent is the status message pushed to observers of a job.
type JobEvent struct {
	Type       string      `json:"type"`
	JobID      string      `json:"job_id"`
	Status     JobStatus   `json:"status"`
	Progress   int         `json:"progress"`
	Step       string      `json:"step"`
	Error      string      `json:"error,omitempty"`
	GuideID    string      `json:"guide_id,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
	At         time.Time   `json:"at"`
}

// Event snapshots the job. The transcript is only attached when withTranscript is set
// since word lists can be large.
func (j *Job) Event(withTranscript bool) JobEvent {
	ev := JobEvent{
		Type:     "status",
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Step:     j.Step,
		Error:    j.Error,
		GuideID:  j.GuideID,
		At:       j.UpdatedAt,
	}
	if withTranscript && !j.Transcript.Empty() {
		ev.Transcript = j.Transcript
	}
	return ev
}
