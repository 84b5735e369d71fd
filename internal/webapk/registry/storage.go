package registry

import (
	"context"
	"time"

	"github.com/autopeer-io/webapkd/internal/webapk/model"
)

// AppStorage reads and mutates the record of one app. Every mutation is a
// load-modify-put under the app's lock.
type AppStorage struct {
	reg   *Registry
	appID string
}

// AppID returns the app this handle belongs to.
func (s *AppStorage) AppID() string {
	return s.appID
}

// Record returns a snapshot of the stored record.
func (s *AppStorage) Record(ctx context.Context) (*model.UpdateRecord, error) {
	rec, err := s.reg.store.Get(ctx, s.appID)
	if err != nil {
		return nil, notRegistered(s.appID, err)
	}
	return rec, nil
}

// ShouldCheckForUpdate reports whether the manifest is due for a re-fetch:
// a forced update, a shell older than the minimum that was never requested,
// or an elapsed throttle interval.
func (s *AppStorage) ShouldCheckForUpdate(ctx context.Context, shellVersion int) (bool, error) {
	rec, err := s.Record(ctx)
	if err != nil {
		return false, err
	}
	if !s.reg.IsBound(rec.PackageName) {
		return false, nil
	}
	if rec.ShouldForceUpdate {
		return true, nil
	}

	minShell := s.reg.cfg.MinShellVersion
	if shellVersion < minShell && rec.LastRequestedShellVersion < minShell {
		return true, nil
	}

	interval := s.reg.cfg.UpdateInterval
	if rec.RelaxedUpdates {
		interval = s.reg.cfg.RelaxedUpdateInterval
	}
	return s.reg.clock.Since(rec.LastCheckTime) >= interval, nil
}

// UpdateTimeOfLastCheck stamps the last check time with now.
func (s *AppStorage) UpdateTimeOfLastCheck(ctx context.Context) error {
	now := s.reg.clock.Now()
	return s.mutate(ctx, func(rec *model.UpdateRecord) {
		rec.LastCheckTime = now
	})
}

// SetShouldForceUpdate requests (or withdraws) an update on the next check.
// It does nothing for unbound packages.
func (s *AppStorage) SetShouldForceUpdate(ctx context.Context, force bool) error {
	return s.mutate(ctx, func(rec *model.UpdateRecord) {
		if !s.reg.IsBound(rec.PackageName) {
			return
		}
		rec.ShouldForceUpdate = force
	})
}

// SetLastRequestedShellVersion records the shell version an update was
// requested for.
func (s *AppStorage) SetLastRequestedShellVersion(ctx context.Context, version int) error {
	return s.mutate(ctx, func(rec *model.UpdateRecord) {
		rec.LastRequestedShellVersion = version
	})
}

// RecordUpdate stores the outcome of an update attempt. Completion time,
// result and relax flag are written together. The force flag is left alone.
func (s *AppStorage) RecordUpdate(ctx context.Context, result model.InstallResult, relaxUpdates bool) error {
	now := s.reg.clock.Now()
	return s.mutate(ctx, func(rec *model.UpdateRecord) {
		recordUpdate(rec, now, result, relaxUpdates)
	})
}

// FinishUpdate finalizes a delivered (or abandoned) request: the schedule and
// force flags are cleared, the outcome is recorded and the request file is
// deleted.
func (s *AppStorage) FinishUpdate(ctx context.Context, result model.InstallResult, relaxUpdates bool) error {
	now := s.reg.clock.Now()
	var pending string
	err := s.mutate(ctx, func(rec *model.UpdateRecord) {
		pending = rec.PendingUpdateRequestPath
		rec.UpdateScheduled = false
		rec.PendingUpdateRequestPath = ""
		rec.ShouldForceUpdate = false
		recordUpdate(rec, now, result, relaxUpdates)
	})
	if err != nil {
		return err
	}
	if pending != "" {
		if err := s.reg.files.Delete(ctx, pending); err != nil {
			s.reg.log.Error(err, "Failed to delete update request", "app", s.appID, "path", pending)
		}
	}
	return nil
}

// CreateAndSetUpdateRequestFilePath assigns the request file path of the app
// and returns it.
func (s *AppStorage) CreateAndSetUpdateRequestFilePath(ctx context.Context) (string, error) {
	p := s.reg.RequestPath(s.appID)
	err := s.mutate(ctx, func(rec *model.UpdateRecord) {
		rec.PendingUpdateRequestPath = p
	})
	if err != nil {
		return "", err
	}
	return p, nil
}

// DeletePendingUpdateRequestFile removes the request file and forgets its
// path. A scheduled delivery without a request is meaningless, so the
// schedule flag is cleared too.
func (s *AppStorage) DeletePendingUpdateRequestFile(ctx context.Context) error {
	var pending string
	err := s.mutate(ctx, func(rec *model.UpdateRecord) {
		pending = rec.PendingUpdateRequestPath
		rec.PendingUpdateRequestPath = ""
		rec.UpdateScheduled = false
	})
	if err != nil {
		return err
	}
	if pending == "" {
		return nil
	}
	return s.reg.files.Delete(ctx, pending)
}

// SetUpdateScheduled marks a delivery as outstanding. Scheduling requires a
// pending request path.
func (s *AppStorage) SetUpdateScheduled(ctx context.Context, scheduled bool) error {
	return s.mutate(ctx, func(rec *model.UpdateRecord) {
		rec.UpdateScheduled = scheduled
	})
}

func (s *AppStorage) mutate(ctx context.Context, fn func(rec *model.UpdateRecord)) error {
	unlock := s.reg.lock(s.appID)
	defer unlock()

	rec, err := s.reg.store.Get(ctx, s.appID)
	if err != nil {
		return notRegistered(s.appID, err)
	}
	fn(rec)
	return s.reg.store.Put(ctx, rec)
}

func recordUpdate(rec *model.UpdateRecord, now time.Time, result model.InstallResult, relaxUpdates bool) {
	rec.LastCompletionTime = now
	rec.LastRequestSucceeded = result.Succeeded()
	rec.RelaxedUpdates = relaxUpdates
}
