// Package metrics exports hub activity as Prometheus metrics.
//
// Metrics implements hub.Observer; set it as the hub's observer and
// expose Handler on an HTTP endpoint:
//
//	m, _ := metrics.New(metrics.DefaultConfig())
//	cfg.Observer = m
//	h, _ := hub.New(cfg)
//	m.Track(h)
//	go m.Serve(ctx)
//
// A disabled Metrics accepts every call and records nothing.
package metrics
