// Package stream feeds readings from message brokers into intake.
package stream

import (
	"context"
	"errors"
	"log"

	"wellhead-monitor/internal/telemetry/application"
	telemetry "wellhead-monitor/internal/telemetry/domain"
	"wellhead-monitor/internal/telemetry/interfaces/payload"
)

// Acceptor is the intake entry point.
type Acceptor interface {
	Accept(ctx context.Context, transport string, in telemetry.ReadingInput) (*application.Result, error)
}

// Summary counts the outcome of one message.
type Summary struct {
	Accepted   int
	Duplicates int
	Rejected   int
}

// process decodes one message and accepts every reading in it. Malformed
// payloads and rejected readings are logged and dropped; the returned error
// is set only when a reading could not be stored and the message should be
// redelivered.
func process(ctx context.Context, intake Acceptor, transport string, raw []byte, logger *log.Logger) (Summary, error) {
	var summary Summary
	inputs, err := payload.Decode(raw)
	if err != nil {
		logger.Printf("%s intake: drop message: err=%v", transport, err)
		summary.Rejected++
		return summary, nil
	}
	var errs []error
	for _, in := range inputs {
		result, err := intake.Accept(ctx, transport, in)
		switch {
		case errors.Is(err, telemetry.ErrValidation):
			summary.Rejected++
			logger.Printf("%s intake: rejected reading: device=%s parameter=%s err=%v", transport, in.DeviceID, in.ParameterCode, err)
		case err != nil:
			errs = append(errs, err)
		case result.Duplicate:
			summary.Duplicates++
		default:
			summary.Accepted++
		}
	}
	return summary, errors.Join(errs...)
}
