// Package triage routes a free-text complaint to a clinic. It defines the
// Engine (red flags, retrieval, model call, repair, resolution, gating and
// confidence blending), the Service that fronts it (ids, escalation
// notifications, access checks) and the Provider contract for model backends.
package triage
