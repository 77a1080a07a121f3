package config

type WorkerKeyStruct struct {
	ReportViolationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ReportViolationsQueue: "report_violations_queue",
}
