package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithRegistry(registry), WithNamespace("test"))

		Convey("When a successful run is observed", func() {
			start := time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)
			m.ObserveRun(database.RunReport{
				StartedAt: start, FinishedAt: start.Add(42 * time.Second),
				Status: database.RunSuccess, Candidates: 20, Fresh: 12, Analyzed: 11, Passed: 4, Selected: 3, Delivered: 3,
			})

			Convey("Then run counters and stage gauges reflect it", func() {
				So(testutil.ToFloat64(m.runs.WithLabelValues(database.RunSuccess)), ShouldEqual, 1)
				So(testutil.ToFloat64(m.papers.WithLabelValues("fresh")), ShouldEqual, 12)
				So(testutil.ToFloat64(m.papers.WithLabelValues("delivered")), ShouldEqual, 3)
				So(testutil.ToFloat64(m.deliveredTotal), ShouldEqual, 3)
				So(testutil.ToFloat64(m.lastSuccess), ShouldEqual, float64(start.Add(42*time.Second).Unix()))
			})
		})

		Convey("When a failed run is observed", func() {
			m.ObserveRun(database.RunReport{Status: database.RunFailed})

			Convey("Then the last success time is untouched", func() {
				So(testutil.ToFloat64(m.runs.WithLabelValues(database.RunFailed)), ShouldEqual, 1)
				So(testutil.ToFloat64(m.lastSuccess), ShouldEqual, 0)
			})
		})

		Convey("When analysis failures and stage timings are recorded", func() {
			m.AnalysisFailed()
			m.AnalysisFailed()
			m.ObserveStage("ANALYZE", 3*time.Second)

			Convey("Then they are gathered from the registry", func() {
				So(testutil.ToFloat64(m.analysisFailures), ShouldEqual, 2)
				n, err := testutil.GatherAndCount(registry, "test_stage_duration_seconds")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When no pushgateway is configured", func() {
			Convey("Then Push is a no-op", func() {
				So(m.Push(context.Background()), ShouldBeNil)
			})
		})
	})

	Convey("Given two managers with default registries", t, func() {
		Convey("Then constructing both does not panic", func() {
			So(func() {
				NewManager()
				NewManager()
			}, ShouldNotPanic)
		})
	})
}

func TestPush(t *testing.T) {
	Convey("Given a pushgateway", t, func() {
		var gotPath, gotMethod string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath, gotMethod = r.URL.Path, r.Method
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		m := NewManager(WithPushgateway(ts.URL, "digest"))
		m.AnalysisFailed()

		Convey("When pushing", func() {
			err := m.Push(context.Background())

			Convey("Then metrics are PUT under the job", func() {
				So(err, ShouldBeNil)
				So(gotMethod, ShouldEqual, http.MethodPut)
				So(gotPath, ShouldEqual, "/metrics/job/digest")
			})
		})
	})

	Convey("Given an unreachable pushgateway", t, func() {
		m := NewManager(WithPushgateway("http://127.0.0.1:1", ""))

		Convey("Then Push reports ErrPushFailed", func() {
			So(errors.Is(m.Push(context.Background()), ErrPushFailed), ShouldBeTrue)
		})
	})
}
