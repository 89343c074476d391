// Package gantry provides a declarative CI pipeline engine.
//
// The engine executes pipelines defined declaratively (for example in YAML
// or JSONC) and comes with pluggable service layers such as:
//
//   - scheduler – job ordering, matrix expansion and condition evaluation
//   - processor – step execution over a worker pool
//   - executor  – step execution through pluggable actions
//   - approval  – optional human-in-the-loop gates
//   - history   – SQLite-backed record of finished runs
//
// Gantry is designed to be embedded in host applications. End-users
// typically interact with the engine via the high-level Service facade
// exposed by the root package:
//
//	srv := gantry.New()
//	rt  := srv.Runtime()
//	ctx := srv.NewContext(context.Background())
//	_ = rt.Start(ctx)
//	pipeline, _ := rt.LoadPipeline(ctx, "pipeline.yaml")
//	_, wait, _ := rt.StartRun(ctx, pipeline, nil)
//	out, _ := wait(ctx, time.Minute)
//
// For more details see the README and individual sub-packages.
package gantry
