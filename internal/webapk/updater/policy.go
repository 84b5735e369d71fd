package updater

import (
	"context"
	"time"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
)

// PayloadAppID is the task payload key holding the app id.
const PayloadAppID = "appId"

const taskPrefix = "webapk-update/"

// TaskID is the scheduler id of the delivery task of appID. One delivery per
// app is outstanding at a time.
func TaskID(appID string) string {
	return taskPrefix + appID
}

// DeliveryTask describes the delivery of appID's pending request. A forced
// update runs within a minute on any network. An ordinary one waits one to
// twenty-three hours for an unmetered network and a charger.
func DeliveryTask(appID string, forced bool) core.TaskInfo {
	task := core.TaskInfo{
		ID:              TaskID(appID),
		ReplaceExisting: true,
		Payload:         map[string]string{PayloadAppID: appID},
	}
	if forced {
		task.MinDelay = 0
		task.MaxDelay = time.Minute
		return task
	}
	task.MinDelay = time.Hour
	task.MaxDelay = 23 * time.Hour
	task.RequiresUnmeteredNetwork = true
	task.RequiresCharging = true
	return task
}

// ScheduleDelivery queues the delivery of appID's pending request.
func ScheduleDelivery(ctx context.Context, s core.Scheduler, appID string, forced bool) error {
	return s.ScheduleOneOff(ctx, DeliveryTask(appID, forced))
}
