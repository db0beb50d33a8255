package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_LoginFailureSpike(t *testing.T) {
	var alerts []AlertEvent
	m := newMetricsCollector(func(ev AlertEvent) {
		alerts = append(alerts, ev)
	})
	m.loginThreshold = 3

	m.recordEvent(AuditLoginFailure)
	m.recordEvent(AuditWebAuthnLoginFailure)
	assert.Empty(t, alerts, "below threshold")

	m.recordEvent(AuditLoginFailure)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)

	// The window resets after an alert so one spike alerts once.
	m.recordEvent(AuditLoginFailure)
	assert.Len(t, alerts, 1)
}

func TestMetricsCollector_MFAFailureSpike(t *testing.T) {
	var alerts []AlertEvent
	m := newMetricsCollector(func(ev AlertEvent) {
		alerts = append(alerts, ev)
	})
	m.mfaThreshold = 2

	m.recordEvent(AuditMFAVerifyFailure)
	m.recordEvent(AuditMFAVerifyFailure)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMFAFailureSpike, alerts[0].Type)
}

func TestMetricsCollector_IgnoresUnrelatedEvents(t *testing.T) {
	var alerts []AlertEvent
	m := newMetricsCollector(func(ev AlertEvent) {
		alerts = append(alerts, ev)
	})
	m.loginThreshold = 1

	m.recordEvent(AuditLoginSuccess)
	m.recordEvent(AuditLogout)
	assert.Empty(t, alerts)
}

func TestMetricsCollector_NilSafe(t *testing.T) {
	var m *metricsCollector
	m.recordEvent(AuditLoginFailure) // must not panic
}
