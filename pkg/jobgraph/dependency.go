package jobgraph

// DependencyJob is a Job that, once finished, removes one reference from a
// dependent Job. It is a single edge of a job graph.
type DependencyJob struct {
	Job
}

// Initialize binds the job like Job.Initialize. The dependent, if already
// set, is kept.
func (d *DependencyJob) Initialize(owner *Pool, payload func(*Job), initialRefs int64) {
	d.Job.dependency = true
	d.Job.Initialize(owner, payload, initialRefs)
}

// SetDependentJob sets the job released when d finishes. It must be called
// before d's reference count can reach zero.
func (d *DependencyJob) SetDependentJob(target *Job) {
	if target == nil {
		panic(violation(ErrNoDependent, "SetDependentJob(nil)"))
	}
	d.mustBeIdle("SetDependentJob")
	d.Job.dependency = true
	d.Job.dependent = target
}

// Dependent returns the job d releases on completion.
func (d *DependencyJob) Dependent() *Job { return d.Job.dependent }
