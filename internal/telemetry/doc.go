// Package telemetry wraps OpenTelemetry SDK initialization, giving the
// assistant a single TracerProvider/MeterProvider setup. When telemetry
// is disabled, noop providers are used and nothing connects out.
package telemetry
