// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "aleutian-dialog"

// Environment variables selecting the trace exporter. With neither set, span
// creation stays a no-op through the global provider and costs nothing.
const (
	envOTLPEndpoint = "DIALOG_OTLP_ENDPOINT"
	envTraceStdout  = "DIALOG_TRACE_STDOUT"
)

// setupObservability installs the OTel trace and metric providers.
//
// Description:
//
//	Traces go to an OTLP/gRPC collector when DIALOG_OTLP_ENDPOINT is set, or
//	to stdout when DIALOG_TRACE_STDOUT=true (a debugging aid, pretty-printed
//	and verbose). Metrics always get a Prometheus reader feeding the default
//	registry, so /metrics serves both the promauto counters the packages
//	register directly and anything recorded through the OTel meter API.
//
// Outputs:
//
//	shutdown - Flushes and stops the installed providers. Always non-nil.
//	error - Non-nil if an explicitly requested exporter could not be built.
func setupObservability(ctx context.Context, logger *slog.Logger) (func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	exporter, err := buildTraceExporter(ctx)
	if err != nil {
		return shutdown, err
	}
	if exporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
		logger.Info("trace exporter installed")
	}

	promExporter, err := otelprom.New()
	if err != nil {
		return shutdown, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	shutdowns = append(shutdowns, mp.Shutdown)

	return shutdown, nil
}

// buildTraceExporter picks the span exporter from environment. Returns
// (nil, nil) when tracing is not requested.
func buildTraceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if endpoint := os.Getenv(envOTLPEndpoint); endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP trace exporter for %q: %w", endpoint, err)
		}
		return exporter, nil
	}

	if v := os.Getenv(envTraceStdout); v == "1" || v == "true" {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		return exporter, nil
	}

	return nil, nil
}
