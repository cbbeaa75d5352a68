package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewPrometheusMeterProvider builds an otel MeterProvider backed by a
// Prometheus exporter/registry. Callers that don't care about metrics
// (e.g. unit tests) can pass the result's Meter straight into NewMetrics.
func NewPrometheusMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}

// Metrics holds the counters and histograms shared across the control
// plane's workflows. A nil *Metrics is safe to call methods on — every
// method is a no-op when the receiver or its instruments are unset, so
// packages can accept an optional *Metrics without branching everywhere.
type Metrics struct {
	commandExecutions  metric.Int64Counter
	commandDuration    metric.Float64Histogram
	retryAttempts      metric.Int64Counter
	retryExhaustions   metric.Int64Counter
	tokenRenewals      metric.Int64Counter
	tofuAcceptances    metric.Int64Counter
	iacInvocations     metric.Int64Counter
	rke2NodeInstalls   metric.Int64Counter
	objectStoreUserOps metric.Int64Counter
}

// NewMetrics creates every instrument up front so later recordings never
// need nil checks for individual fields.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.commandExecutions, err = meter.Int64Counter(
		"amoebius_command_executions_total",
		metric.WithDescription("Total subprocess invocations by exit status"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: command_executions_total: %w", err)
	}

	m.commandDuration, err = meter.Float64Histogram(
		"amoebius_command_duration_seconds",
		metric.WithDescription("Subprocess wall-clock duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1, 5, 15, 60, 180),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: command_duration_seconds: %w", err)
	}

	m.retryAttempts, err = meter.Int64Counter(
		"amoebius_retry_attempts_total",
		metric.WithDescription("Retry attempts made by the retry decorator"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: retry_attempts_total: %w", err)
	}

	m.retryExhaustions, err = meter.Int64Counter(
		"amoebius_retry_exhaustions_total",
		metric.WithDescription("Retry budgets exhausted without success"),
		metric.WithUnit("{exhaustion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: retry_exhaustions_total: %w", err)
	}

	m.tokenRenewals, err = meter.Int64Counter(
		"amoebius_secretclient_token_renewals_total",
		metric.WithDescription("Secret manager token renewals and logins"),
		metric.WithUnit("{renewal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: token_renewals_total: %w", err)
	}

	m.tofuAcceptances, err = meter.Int64Counter(
		"amoebius_ssh_tofu_acceptances_total",
		metric.WithDescription("Trust-on-first-use host key acceptances"),
		metric.WithUnit("{acceptance}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: ssh_tofu_acceptances_total: %w", err)
	}

	m.iacInvocations, err = meter.Int64Counter(
		"amoebius_iacdriver_invocations_total",
		metric.WithDescription("Provisioning-tool invocations by action"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: iacdriver_invocations_total: %w", err)
	}

	m.rke2NodeInstalls, err = meter.Int64Counter(
		"amoebius_rke2_node_installs_total",
		metric.WithDescription("RKE2 node install/join operations by role"),
		metric.WithUnit("{install}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: rke2_node_installs_total: %w", err)
	}

	m.objectStoreUserOps, err = meter.Int64Counter(
		"amoebius_objectstore_user_ops_total",
		metric.WithDescription("Object-store user lifecycle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: objectstore_user_ops_total: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordCommand(ctx context.Context, seconds float64, ok bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !ok {
		status = StatusError
	}
	if m.commandExecutions != nil {
		m.commandExecutions.Add(ctx, 1, metric.WithAttributes(statusAttr(status)))
	}
	if m.commandDuration != nil {
		m.commandDuration.Record(ctx, seconds, metric.WithAttributes(statusAttr(status)))
	}
}

func (m *Metrics) RecordRetryAttempt(ctx context.Context) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1)
}

func (m *Metrics) RecordRetryExhausted(ctx context.Context) {
	if m == nil || m.retryExhaustions == nil {
		return
	}
	m.retryExhaustions.Add(ctx, 1)
}

func (m *Metrics) RecordTokenRenewal(ctx context.Context, kind string) {
	if m == nil || m.tokenRenewals == nil {
		return
	}
	m.tokenRenewals.Add(ctx, 1, metric.WithAttributes(operationAttr(kind)))
}

func (m *Metrics) RecordTOFU(ctx context.Context) {
	if m == nil || m.tofuAcceptances == nil {
		return
	}
	m.tofuAcceptances.Add(ctx, 1)
}

func (m *Metrics) RecordIaCInvocation(ctx context.Context, action string) {
	if m == nil || m.iacInvocations == nil {
		return
	}
	m.iacInvocations.Add(ctx, 1, metric.WithAttributes(operationAttr(action)))
}

func (m *Metrics) RecordRKE2NodeInstall(ctx context.Context, role string) {
	if m == nil || m.rke2NodeInstalls == nil {
		return
	}
	m.rke2NodeInstalls.Add(ctx, 1, metric.WithAttributes(operationAttr(role)))
}

func (m *Metrics) RecordObjectStoreUserOp(ctx context.Context, op string) {
	if m == nil || m.objectStoreUserOps == nil {
		return
	}
	m.objectStoreUserOps.Add(ctx, 1, metric.WithAttributes(operationAttr(op)))
}
