// Package glowly provides on-device face analysis for a beauty camera:
// a model registry with lazy, single-flight loading and memory-driven
// eviction, a bounded inference pool, a still-image analysis pipeline, a
// real-time face tracker and a feedback-driven recommender.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Orchestrator - Applications create one with
//     New, supplying a FaceDetector, call Initialize to load the model
//     catalog and then Analyze, BatchAnalyze, StartRealTime or Recommend.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach the
//     "models", "analyze", "track", "feedback" and "config" commands to
//     their Cobra root command.
//
// # Thread Safety
//
// The Orchestrator and its components are safe for concurrent use.
// Snapshots such as Metrics, Models and Tracker().Tracks are replaced
// wholesale and never observed half-updated.
//
// # Models
//
// Each catalog entry has a priority and an essential flag. Essential models
// are never evicted; the others are unloaded least-recently-used first when
// the PressureSource reports pressure at or above the configured threshold.
// Catalog entries without an implementation fail to load with
// ErrPlaceholderModel, which callers can tell apart from real failures.
//
// # Errors
//
// Operations return sentinel errors that can be checked with errors.Is.
// Describe maps any error to a user-facing message and a Recovery hint.
package glowly
