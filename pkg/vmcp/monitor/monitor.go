// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package monitor is the monitoring sink of the mesh gateway core. For every
// completed tools/call it emits a duration histogram, request/error
// counters and a span, and writes a structured record to storage. Storage
// write failures are logged and never surface to the caller.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/storage"
)

// instrumentationName identifies this instrumentation package.
const instrumentationName = "github.com/stacklok/mcpmesh/pkg/vmcp/monitor"

// toolCallDurationBuckets are the histogram boundaries for tool call
// durations, in seconds.
var toolCallDurationBuckets = []float64{
	0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120, 300,
}

// Monitor emits metrics, spans and storage records for tool calls.
type Monitor struct {
	tracer          trace.Tracer
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	callDuration    metric.Float64Histogram
	store           storage.Monitoring
	dbWritesEnabled bool
	now             func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Monitor) {
		m.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Monitor) {
		m.registerInstruments(mp.Meter(instrumentationName))
	}
}

// New creates a Monitor. store may be nil when no record persistence is
// wanted; dbWritesEnabled gates storage writes while metrics always emit.
func New(store storage.Monitoring, dbWritesEnabled bool, opts ...Option) *Monitor {
	m := &Monitor{
		tracer:          otel.GetTracerProvider().Tracer(instrumentationName),
		store:           store,
		dbWritesEnabled: dbWritesEnabled,
		now:             time.Now,
	}
	m.registerInstruments(otel.GetMeterProvider().Meter(instrumentationName))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) registerInstruments(meter metric.Meter) {
	m.requestCounter, _ = meter.Int64Counter(
		"mcpmesh_tool_calls",
		metric.WithDescription("Total number of downstream tool calls"),
	)
	m.errorCounter, _ = meter.Int64Counter(
		"mcpmesh_tool_call_errors",
		metric.WithDescription("Total number of failed downstream tool calls"),
	)
	m.callDuration, _ = meter.Float64Histogram(
		"mcpmesh_tool_call_duration",
		metric.WithDescription("Duration of downstream tool calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(toolCallDurationBuckets...),
	)
}

// Call tracks one in-flight tools/call. It is created by Begin and finished
// by exactly one of End or Abandon.
type Call struct {
	monitor *Monitor
	conn    *vmcp.Connection
	info    *vmcp.RequestInfo

	toolName string
	input    map[string]any
	meta     map[string]any

	span    trace.Span
	started time.Time

	once sync.Once
}

// Begin opens a span for a tools/call and records its start time. The
// request info is captured from the context at call start so the record is
// attributed even if the context is gone by completion.
func (m *Monitor) Begin(ctx context.Context, conn *vmcp.Connection, toolName string, input map[string]any) (context.Context, *Call) {
	info, _ := vmcp.RequestInfoFromContext(ctx)

	ctx, span := m.tracer.Start(ctx, "mcp.tools/call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.method", "tools/call"),
			attribute.String("mcp.tool.name", toolName),
			attribute.String("connection.id", conn.ID),
		),
	)
	if info != nil && info.RequestID != "" {
		span.SetAttributes(attribute.String("request.id", info.RequestID))
	}

	return ctx, &Call{
		monitor:  m,
		conn:     conn,
		info:     info,
		toolName: toolName,
		input:    input,
		meta:     ExtractMeta(input),
		span:     span,
		started:  m.now(),
	}
}

// End completes the call: histogram sample, counters, span end, and one
// storage record. errCode/errMessage describe a JSON-RPC fault when set.
func (c *Call) End(ctx context.Context, output any, isError bool, errCode int, errMessage string) {
	c.once.Do(func() {
		duration := c.monitor.now().Sub(c.started)

		status := "success"
		if isError {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("connection.id", c.conn.ID),
			attribute.String("tool.name", c.toolName),
			attribute.String("status", status),
		)
		c.monitor.callDuration.Record(ctx, duration.Seconds(), attrs)
		c.monitor.requestCounter.Add(ctx, 1, attrs)
		if isError {
			c.monitor.errorCounter.Add(ctx, 1, attrs)
			c.span.SetStatus(codes.Error, errMessage)
			if errCode != 0 {
				c.span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", errCode))
			}
			if errMessage != "" {
				c.span.SetAttributes(attribute.String("error.message", errMessage))
			}
		} else {
			c.span.SetStatus(codes.Ok, "")
		}
		c.span.End()

		c.writeRecord(ctx, output, isError, errMessage, duration)
	})
}

// Abandon ends the span without a histogram sample or storage record. Used
// when the transport closes or the caller cancels before a response.
func (c *Call) Abandon(reason string) {
	c.once.Do(func() {
		c.span.SetAttributes(attribute.Bool("transport.closed", true))
		if reason != "" {
			c.span.SetAttributes(attribute.String("abandon.reason", reason))
		}
		c.span.End()
	})
}

func (c *Call) writeRecord(ctx context.Context, output any, isError bool, errMessage string, duration time.Duration) {
	if c.monitor.store == nil || !c.monitor.dbWritesEnabled {
		return
	}
	if c.info == nil || c.info.OrganizationID == "" {
		// No organization in context; nothing to attribute the record to.
		return
	}

	properties := make(map[string]any, len(c.meta))
	for k, v := range c.info.Properties {
		properties[k] = v
	}
	for k, v := range c.meta {
		properties[k] = v
	}

	record := &storage.ToolCallRecord{
		OrganizationID:  c.info.OrganizationID,
		ConnectionID:    c.conn.ID,
		ConnectionTitle: c.conn.Title,
		ToolName:        c.toolName,
		Input:           c.input,
		Output:          output,
		IsError:         isError,
		ErrorMessage:    errMessage,
		DurationMS:      duration.Milliseconds(),
		Timestamp:       c.started,
		UserID:          c.info.UserID,
		RequestID:       c.info.RequestID,
		UserAgent:       c.info.UserAgent,
		VirtualMCPID:    c.info.VirtualMCPID,
		Properties:      properties,
	}

	// Fire-and-forget: a failed write must never surface to the caller.
	if err := c.monitor.store.Log(ctx, record); err != nil {
		logger.Warnf("Failed to write monitoring record for tool %s: %v", c.toolName, err)
	}
}
