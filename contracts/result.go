package contracts

// Result is the outcome of a single send. Success implies an empty
// ErrorMessage. Partition and Offset are populated only by the log
// transport; the queue transport always leaves them nil.
type Result struct {
	Success      bool
	MessageID    string
	Destination  string
	Partition    *int32
	Offset       *int64
	ErrorMessage string
}

// SuccessResult builds a success outcome without placement metadata.
func SuccessResult(messageID, destination string) Result {
	return Result{
		Success:     true,
		MessageID:   messageID,
		Destination: destination,
	}
}

// PlacedResult builds a success outcome carrying the partition and offset
// assigned by the log transport.
func PlacedResult(messageID, destination string, partition int32, offset int64) Result {
	return Result{
		Success:     true,
		MessageID:   messageID,
		Destination: destination,
		Partition:   &partition,
		Offset:      &offset,
	}
}

// FailureResult builds a failed outcome from the transport error.
func FailureResult(messageID, destination string, err error) Result {
	r := Result{
		MessageID:   messageID,
		Destination: destination,
	}
	if err != nil {
		r.ErrorMessage = err.Error()
	} else {
		r.ErrorMessage = "unknown send failure"
	}
	return r
}
