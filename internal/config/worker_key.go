package config

type WorkerKeyStruct struct {
	// SubmitStationQueue holds non-final station submissions awaiting
	// relay to the grading endpoint.
	SubmitStationQueue string

	// JournalResultsQueue holds graded final results awaiting insertion
	// into the PostgreSQL journal.
	JournalResultsQueue string
}

var WorkerKey = WorkerKeyStruct{
	SubmitStationQueue:  "submit_station_queue",
	JournalResultsQueue: "journal_results_queue",
}
