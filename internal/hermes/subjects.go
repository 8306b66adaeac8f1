package hermes

const (
	SubjectResultsCleared    = "mashup.results.cleared"
	SubjectBandsUpdated      = "mashup.bands.updated"
	SubjectSubmissionFailed  = "mashup.submission.failed"
	SubjectResultRecordedAll = "mashup.result.*.recorded"

	StreamName   = "MASHUP_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectResultRecorded(fingerprint string) string {
	return "mashup.result." + fingerprint + ".recorded"
}
