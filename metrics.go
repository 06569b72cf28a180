package swarmcheck

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessions *prometheus.CounterVec
	verdicts *prometheus.CounterVec
	batches  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmcheck",
			Name:      "sessions_total",
			Help:      "Tracker sessions by outcome",
		},
			[]string{"outcome"}), // ok | timeout | protocol | error
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmcheck",
			Name:      "verdicts_total",
			Help:      "Infohash verdicts by status",
		},
			[]string{"status"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcheck",
			Name:      "batches_total",
			Help:      "Batches scraped against every tracker",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.sessions, err = register(reg, m.sessions); err != nil {
		return nil, err
	}
	if m.verdicts, err = register(reg, m.verdicts); err != nil {
		return nil, err
	}
	if m.batches, err = register(reg, m.batches); err != nil {
		return nil, err
	}
	return m, nil
}

// Another Checker on the same registry gets the existing collectors.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}
