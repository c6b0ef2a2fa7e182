package usecase

import domrepo "FinScan/internal/domain/repository"

type nopMetrics struct{}

func (nopMetrics) RecordScan(string, int, int, int, float64) {}
func (nopMetrics) RecordAggregation(string, string)          {}
func (nopMetrics) RecordCacheLookup(bool)                    {}
func (nopMetrics) RecordError(string)                        {}
func (nopMetrics) RecordLatency(string, float64)             {}

func orNopMetrics(m domrepo.Metrics) domrepo.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
