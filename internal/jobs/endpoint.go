package jobs

import (
	"context"

	"sysmon/internal/docker"
	"sysmon/internal/job"
)

// EndpointInfo records the runtime's system info once.
type EndpointInfo struct {
	rt  docker.Runtime
	log Log
}

func NewEndpointInfo(rt docker.Runtime, log Log, t Timing) *job.Job {
	return t.build("endpoint_info", EndpointInfoEvery, &EndpointInfo{rt: rt, log: log})
}

func (e *EndpointInfo) Run(ctx context.Context, j *job.Job) error {
	info, err := e.rt.Info(ctx)
	if err != nil {
		return err
	}
	if err := e.log.Extend(KeyEndpoint, info); err != nil {
		return err
	}
	j.Terminate()
	return nil
}
