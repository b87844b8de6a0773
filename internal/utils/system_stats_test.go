package utils

import (
	"context"
	"errors"
	"testing"

	"face-attendance/internal/core/processor"
	"face-attendance/internal/integrations/facerecognition"

	. "github.com/smartystreets/goconvey/convey"
)

type stubProvider struct {
	facerecognition.Provider
	name facerecognition.ProviderType
	up   bool
}

func (s stubProvider) Name() facerecognition.ProviderType { return s.name }

func (s stubProvider) IsAvailable(context.Context) bool { return s.up }

type pendingCount struct {
	n   int64
	err error
}

func (p pendingCount) CountPendingOperations(context.Context) (int64, error) { return p.n, p.err }

func TestGetSystemStats(t *testing.T) {
	Convey("Stats include the recognition pool", t, func() {
		pool := processor.NewWorkerPool(2, 5)
		defer pool.Shutdown()

		stats := GetSystemStats(pool)
		So(stats.RecognitionWorkers, ShouldEqual, 2)
		So(stats.SearchQueueSize, ShouldEqual, 5)
		So(stats.NumCPU, ShouldBeGreaterThan, 0)
	})
}

func TestCollectStatus(t *testing.T) {
	ctx := context.Background()

	Convey("Given an active provider that is down", t, func() {
		m := facerecognition.NewProviderManager()
		m.RegisterProvider(stubProvider{name: facerecognition.ProviderRekognition})
		m.RegisterProvider(stubProvider{name: facerecognition.ProviderCompreFace, up: true})
		m.SetActiveProvider(facerecognition.ProviderRekognition)

		status := CollectStatus(ctx, m, pendingCount{n: 3}, nil)

		Convey("The report names it unavailable and counts the queue", func() {
			So(status.Provider, ShouldEqual, facerecognition.ProviderRekognition)
			So(status.ProviderAvailable, ShouldBeFalse)
			So(status.AvailableProviders, ShouldResemble, []facerecognition.ProviderType{facerecognition.ProviderCompreFace})
			So(*status.PendingOperations, ShouldEqual, 3)
			So(status.System, ShouldNotBeNil)
		})
	})

	Convey("Without sources the report is still complete", t, func() {
		status := CollectStatus(ctx, nil, pendingCount{err: errors.New("locked")}, nil)
		So(status.AvailableProviders, ShouldBeEmpty)
		So(status.PendingOperations, ShouldBeNil)
		So(status.ProviderAvailable, ShouldBeFalse)
	})
}
