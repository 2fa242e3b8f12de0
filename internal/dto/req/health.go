package req

// HealthQuery selects which dependency checks GET /health runs. Absent
// fields mean the check runs.
type HealthQuery struct {
	Queue     *bool `form:"queue"`
	Datastore *bool `form:"datastore"`
}

func (q HealthQuery) QueueEnabled() bool     { return q.Queue == nil || *q.Queue }
func (q HealthQuery) DatastoreEnabled() bool { return q.Datastore == nil || *q.Datastore }
