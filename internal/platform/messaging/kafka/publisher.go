package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/studiobook/studiobook/internal/migration/domain/model"
	"github.com/studiobook/studiobook/internal/shared/events"
)

const aggregateType = "migration_run"

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Host     string
}

// RunReportPublisher publishes migration run reports to Kafka
type RunReportPublisher struct {
	producer sarama.SyncProducer
	topic    string
	host     string
}

// NewRunReportPublisher creates a publisher with a synchronous producer
func NewRunReportPublisher(cfg *Config) (*RunReportPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return NewRunReportPublisherWithProducer(producer, cfg.Topic, cfg.Host), nil
}

// NewRunReportPublisherWithProducer wraps an existing producer
func NewRunReportPublisherWithProducer(producer sarama.SyncProducer, topic, host string) *RunReportPublisher {
	return &RunReportPublisher{producer: producer, topic: topic, host: host}
}

// PublishRunReport sends one event describing report, keyed by run ID
func (p *RunReportPublisher) PublishRunReport(ctx context.Context, report *model.RunReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	run := NewRunCompleted(report, p.host)
	event, err := events.NewEvent(report.RunID, aggregateType, events.GetEventType(run), run)
	if err != nil {
		return fmt.Errorf("failed to build event: %w", err)
	}
	event.CorrelationID = report.RunID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.AggregateID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("eventType"),
				Value: []byte(event.EventType),
			},
			{
				Key:   []byte("correlationId"),
				Value: []byte(event.CorrelationID),
			},
			{
				Key:   []byte("aggregateType"),
				Value: []byte(event.AggregateType),
			},
		},
		Timestamp: event.Timestamp,
	}

	if _, _, err := p.producer.SendMessage(message); err != nil {
		return fmt.Errorf("failed to publish run report: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *RunReportPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

// NewRunCompleted converts a run report into its event payload
func NewRunCompleted(report *model.RunReport, host string) *events.MigrationRunCompleted {
	run := &events.MigrationRunCompleted{
		RunID:      report.RunID,
		Mode:       "up",
		ExitCode:   report.ExitCode,
		Pending:    []string{},
		Applied:    []events.MigrationApplied{},
		Host:       host,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		DurationMs: report.Duration().Milliseconds(),
	}
	if report.DryRun {
		run.Mode = "status"
	}
	if report.Err != nil {
		run.FailedIn = string(report.FailedIn)
		run.Error = report.Err.Error()
	}

	if report.Plan != nil {
		run.Pending = report.Plan.PendingFilenames()
		run.Missing = report.Plan.Missing
		for _, m := range report.Plan.Mismatches {
			run.Mismatches = append(run.Mismatches, events.ChecksumMismatched{
				Filename: m.Filename,
				Recorded: m.Recorded,
				Current:  m.Current,
			})
		}
	}

	for _, o := range report.Outcomes {
		switch o.Kind {
		case model.OutcomeApplied:
			run.Applied = append(run.Applied, events.MigrationApplied{
				Filename:   o.Filename,
				Checksum:   o.Checksum,
				AppliedAt:  o.AppliedAt,
				DurationMs: o.Duration.Milliseconds(),
			})
		case model.OutcomeFailed:
			failed := &events.MigrationFailed{
				Filename:   o.Filename,
				DurationMs: o.Duration.Milliseconds(),
			}
			if o.Err != nil {
				failed.Error = o.Err.Error()
			}
			run.Failed = failed
		case model.OutcomeSkipped:
			run.Skipped = append(run.Skipped, o.Filename)
		}
	}

	return run
}
