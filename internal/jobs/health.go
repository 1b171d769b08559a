package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"sysmon/internal/job"
)

// HealthURL is the device health API for target: localhost for unix socket
// targets, the target host otherwise.
func HealthURL(target string, port int) string {
	host := "localhost"
	if !strings.HasPrefix(target, "unix:") {
		host = strings.TrimPrefix(target, "tcp://")
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
}

// DeviceHealth polls the device health API.
type DeviceHealth struct {
	url    string
	client *http.Client
	log    Log
	now    func() time.Time
}

func NewDeviceHealth(url string, timeout time.Duration, log Log, t Timing) *job.Job {
	return t.build("device_health", DeviceHealthEvery, &DeviceHealth{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
		now:    time.Now,
	})
}

func (d *DeviceHealth) Run(ctx context.Context, _ *job.Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return errors.Wrap(err, "health request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", d.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.Newf("GET %s: %s", d.url, resp.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return errors.Wrap(err, "decode health response")
	}
	if data == nil {
		data = map[string]any{}
	}
	data["time"] = unixSeconds(d.now())
	return d.log.Extend(KeyHealth, []any{data})
}
