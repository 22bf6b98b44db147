package handler

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-transcribe/dto"
	"worker-transcribe/service"
)

type ServiceDependencies struct {
	Intake   service.Intake
	Worker   service.Worker
	Recovery service.Recovery
	Query    service.Query
	Checker  service.ConsistencyChecker
}

// TriggerHandler runs one worker batch per trigger message. The message only says
// "look for work"; the batch picks up every pending job regardless of which file it names.
func TriggerHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var trigger dto.TriggerMessage
	if err := json.Unmarshal(msg.Body, &trigger); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal trigger message")
		return err
	}

	event := zerolog.Ctx(ctx).Info().Str("reason", trigger.Reason)
	if trigger.FileId != nil {
		event = event.Str("file_id", trigger.FileId.String())
	}
	event.Msg("received worker trigger")

	_, err := deps.Worker.ProcessPending(ctx)
	return err
}
