// Package api exposes the ArcFlow REST surface: procurement orchestration,
// document intent extraction, gated settlement, and history lookups.
package api
