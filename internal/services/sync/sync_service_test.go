package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"face-attendance/config"
	"face-attendance/internal/db"
	"face-attendance/internal/db/repository"
	"face-attendance/internal/integrations/facerecognition"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeEnroller struct {
	err     error
	deleted []string
}

func (f *fakeEnroller) IndexFace(context.Context, []byte, string, string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeEnroller) DeleteIdentity(_ context.Context, _ string, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func newRepo(t *testing.T) *repository.SQLiteRepository {
	t.Helper()
	conn, err := db.Open(db.MemoryDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewSQLiteRepository(conn)
}

func TestProcessPending(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	Convey("Given a queued identity deletion", t, func() {
		repo := newRepo(t)
		enroller := &fakeEnroller{}
		svc := NewService(repo, enroller, config.SyncConfig{
			MaxRetries:               3,
			RetryInitialDelaySeconds: 10,
			RetryBackoffFactor:       2,
			RetryMaxDelaySeconds:     15,
			RetentionDays:            7,
		}, nil)
		clock := start
		svc.now = func() time.Time { return clock }

		So(svc.EnqueueDelete(ctx, "students", "Ana_S1"), ShouldBeNil)

		Convey("A reachable capability completes it", func() {
			done, err := svc.ProcessPending(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldEqual, 1)
			So(enroller.deleted, ShouldResemble, []string{"Ana_S1"})

			n, _ := repo.CountPendingOperations(ctx)
			So(n, ShouldEqual, 0)

			Convey("and it is purged once past retention", func() {
				clock = start.AddDate(0, 0, 8)
				purged, err := svc.Purge(ctx)
				So(err, ShouldBeNil)
				So(purged, ShouldEqual, 1)
			})
		})

		Convey("A cancelled deletion is never sent and purged after retention", func() {
			So(svc.CancelDeletes(ctx, "students", "Ana_S1"), ShouldBeNil)

			done, err := svc.ProcessPending(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldEqual, 0)
			So(enroller.deleted, ShouldBeEmpty)

			clock = start.AddDate(0, 0, 6)
			purged, _ := svc.Purge(ctx)
			So(purged, ShouldEqual, 0)

			clock = start.AddDate(0, 0, 8)
			purged, _ = svc.Purge(ctx)
			So(purged, ShouldEqual, 1)
		})

		Convey("Cancelling leaves other keys queued", func() {
			So(svc.CancelDeletes(ctx, "students", "Bob_S2"), ShouldBeNil)
			n, _ := repo.CountPendingOperations(ctx)
			So(n, ShouldEqual, 1)
		})

		Convey("An unavailable capability backs off and finally gives up", func() {
			enroller.err = facerecognition.Unavailable(facerecognition.ProviderCompreFace, "delete", errors.New("down"))

			done, err := svc.ProcessPending(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldEqual, 0)

			// not due before the first delay
			clock = start.Add(5 * time.Second)
			ops, _ := repo.DuePendingOperations(ctx, clock, 10)
			So(ops, ShouldBeEmpty)

			clock = start.Add(10 * time.Second)
			ops, _ = repo.DuePendingOperations(ctx, clock, 10)
			So(ops, ShouldHaveLength, 1)
			So(ops[0].Retries, ShouldEqual, 1)
			So(ops[0].LastError, ShouldContainSubstring, "down")

			_, _ = svc.ProcessPending(ctx)
			clock = clock.Add(15 * time.Second)
			_, _ = svc.ProcessPending(ctx)

			n, _ := repo.CountPendingOperations(ctx)
			So(n, ShouldEqual, 0)
			So(enroller.deleted, ShouldBeEmpty)
		})
	})
}

func TestBackoff(t *testing.T) {
	Convey("The retry delay grows exponentially up to the cap", t, func() {
		svc := NewService(nil, nil, config.SyncConfig{
			RetryInitialDelaySeconds: 30,
			RetryBackoffFactor:       2,
			RetryMaxDelaySeconds:     100,
		}, nil)
		So(svc.backoff(1), ShouldEqual, 30*time.Second)
		So(svc.backoff(2), ShouldEqual, 60*time.Second)
		So(svc.backoff(3), ShouldEqual, 100*time.Second)
	})
}
