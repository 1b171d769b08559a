package jobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"sysmon/internal/job"
	logx "sysmon/pkg/logx"
)

// Publish outcomes. They double as archive statuses.
const (
	OutcomePublished = "published"
	OutcomeRejected  = "rejected"
	OutcomeGaveUp    = "failed"
)

// PublishResult describes how a publish attempt series ended.
type PublishResult struct {
	Outcome  string
	Code     int
	Message  string
	Attempts int
}

// PublisherConfig wires a Publisher.
type PublisherConfig struct {
	URL       string
	AppID     string
	AppSecret string
	Database  string

	Key   string
	Value []byte // JSON document

	Retries    int
	RetryEvery time.Duration
	Timeout    time.Duration

	Logger   logx.Logger
	OnResult func(PublishResult)
}

// Publisher uploads the session log to the log API. Transport errors are
// logged and retried on the next period; any response from the server ends
// the job.
type Publisher struct {
	cfg    PublisherConfig
	client *http.Client

	mu       sync.Mutex
	attempts int
}

func NewPublisher(cfg PublisherConfig) *job.Job {
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	p := &Publisher{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	return job.New("publisher", cfg.RetryEvery, p)
}

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *Publisher) Run(ctx context.Context, j *job.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := p.cfg.Logger

	if p.attempts >= p.cfg.Retries {
		log.Warn("giving up on publishing the log", logx.Int("attempts", p.attempts))
		j.Terminate()
		p.finish(PublishResult{Outcome: OutcomeGaveUp, Attempts: p.attempts})
		return nil
	}
	p.attempts++
	log.Info("pushing log to the server",
		logx.Int("attempt", p.attempts), logx.Int("of", p.cfg.Retries), logx.String("key", p.cfg.Key))

	resp, err := p.post(ctx)
	if err != nil {
		log.Error("publish attempt failed", logx.Int("attempt", p.attempts), logx.Err(err))
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("publish attempt failed", logx.Int("attempt", p.attempts), logx.Err(err))
		return nil
	}
	j.Terminate()

	res := PublishResult{Attempts: p.attempts}
	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		res.Outcome, res.Code, res.Message = OutcomeRejected, resp.StatusCode, strings.TrimSpace(string(body))
		log.Error("unexpected response from the server", logx.Int("http_status", resp.StatusCode), logx.String("body", res.Message))
		p.finish(res)
		return nil
	}
	res.Code, res.Message = api.Code, api.Message
	if res.Message == "" {
		res.Message = api.Status
	}
	if api.Code != http.StatusOK {
		res.Outcome = OutcomeRejected
		log.Error("the server rejected the log", logx.Int("code", api.Code), logx.String("message", res.Message))
	} else {
		res.Outcome = OutcomePublished
		log.Info("the server accepted the log", logx.Int("code", api.Code), logx.String("message", res.Message))
	}
	p.finish(res)
	return nil
}

func (p *Publisher) post(ctx context.Context) (*http.Response, error) {
	form := url.Values{}
	form.Set("app_id", p.cfg.AppID)
	form.Set("app_secret", p.cfg.AppSecret)
	form.Set("database", p.cfg.Database)
	form.Set("key", p.cfg.Key)
	form.Set("value", string(p.cfg.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", p.cfg.URL)
	}
	return resp, nil
}

func (p *Publisher) finish(r PublishResult) {
	if p.cfg.OnResult != nil {
		p.cfg.OnResult(r)
	}
}

// Attempts returns how many uploads were tried.
func (p *Publisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
