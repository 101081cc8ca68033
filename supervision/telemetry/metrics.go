// Package telemetry exposes prometheus metrics for the supervision api.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OverviewMetric  = promauto.NewSummary(prometheus.SummaryOpts{Name: "supervision_overview", Help: "User overview aggregations"})
	MapUploadMetric = promauto.NewSummary(prometheus.SummaryOpts{Name: "supervision_map_upload", Help: "Map image uploads"})

	DeviceErrorsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supervision_device_errors_recorded",
		Help: "Device error reports recorded",
	})

	AccessGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supervision_access_grants",
		Help: "Access grant operations by outcome",
	}, []string{"outcome"})

	StorageFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supervision_storage_free_bytes",
		Help: "Free bytes on the map image volume",
	})

	StorageTotalBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supervision_storage_total_bytes",
		Help: "Total bytes on the map image volume",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
