package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"example.com/cadence/internal/cadence"
	"example.com/cadence/internal/domain"
	"example.com/cadence/internal/events"
)

// Advancer runs the cadence orchestrator for one trigger.
type Advancer interface {
	Advance(ctx context.Context, trig domain.Trigger) (cadence.AdvanceResult, error)
}

// AdvanceHandler turns lead.stage_changed events into orchestrator runs.
type AdvanceHandler struct {
	advancer Advancer
	logger   logrus.FieldLogger
}

// NewAdvanceHandler constructs an AdvanceHandler.
func NewAdvanceHandler(advancer Advancer, logger logrus.FieldLogger) *AdvanceHandler {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("component", "advance_handler")
	}
	return &AdvanceHandler{advancer: advancer, logger: logger}
}

// Handle advances the lead named by msg. Malformed or foreign events are acknowledged and dropped;
// unresolved pipelines and store failures are returned so the processor retries them.
func (h *AdvanceHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "" && msg.EventType != events.LeadStageChangedType {
		recordIgnored("event_type")
		return nil
	}

	var evt events.LeadStageChanged
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		h.logger.WithError(err).WithField("offset", msg.Offset).Warn("dropping malformed stage change")
		recordIgnored("malformed")
		return nil
	}
	if msg.TenantID != "" && msg.TenantID != evt.TenantID {
		h.logger.WithFields(logrus.Fields{
			"header_tenant":  msg.TenantID,
			"payload_tenant": evt.TenantID,
			"lead_id":        evt.LeadID,
		}).WithError(domain.ErrTenantMismatch).Warn("dropping stage change with conflicting tenant")
		recordIgnored("tenant_mismatch")
		return nil
	}

	trig := domain.Trigger{
		TenantID:          evt.TenantID,
		LeadID:            evt.LeadID,
		PipelineID:        evt.PipelineID,
		TargetStage:       evt.TargetStage,
		StageEnteredAt:    evt.StageEnteredAt,
		PipelineEnteredAt: evt.PipelineEnteredAt,
		OwnerID:           evt.OwnerID,
		Attributes:        evt.Attributes,
	}

	result, err := h.advancer.Advance(ctx, trig)
	if errors.Is(err, domain.ErrInvalidTrigger) {
		h.logger.WithError(err).WithField("lead_id", evt.LeadID).Warn("dropping invalid stage change")
		recordIgnored("invalid")
		return nil
	}
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": trig.TenantID,
		"lead_id":   trig.LeadID,
		"stage":     trig.TargetStage,
		"created":   result.Created,
	}).Debug("stage change handled")
	return nil
}

// Replay runs a parked trigger again. It has the signature of outbox.Replayer so the DLQ manager
// can hand parked lead.stage_changed entries straight back to the engine.
func (h *AdvanceHandler) Replay(ctx context.Context, tenantID string, payload []byte) error {
	return h.Handle(ctx, Message{
		EventType: events.LeadStageChangedType,
		TenantID:  tenantID,
		Payload:   payload,
	})
}
