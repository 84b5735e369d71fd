// Package installer delivers update requests to the external installer over
// MQTT and waits for its verdict.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/internal/pkg/metrics"
	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/internal/webapk/model"
	"github.com/autopeer-io/webapkd/pkg/log"
	"github.com/autopeer-io/webapkd/pkg/mqtt"
	"github.com/autopeer-io/webapkd/pkg/mqtt/topic"
)

// ErrTimeout is returned when the installer did not answer in time.
var ErrTimeout = errors.New("installer did not answer in time")

// DefaultTimeout bounds a single install round trip.
const DefaultTimeout = 10 * time.Minute

// Request is published to {root}/install/request/{appId}.
type Request struct {
	RequestID string `json:"requestId"`
	AppID     string `json:"appId"`
	Blob      []byte `json:"blob"`
}

// Result is published by the installer to {root}/install/result/{appId}.
type Result struct {
	RequestID    string `json:"requestId"`
	Result       string `json:"result"`
	RelaxUpdates bool   `json:"relaxUpdates"`
}

type Options struct {
	QoS     int
	Timeout time.Duration

	// Clock defaults to the real clock.
	Clock clock.WithTicker
}

// MQTTInstaller implements core.Installer over a request/result topic pair.
type MQTTInstaller struct {
	client mqtt.Client
	topics *topic.TopicBuilder
	opts   Options
	log    log.Logger

	mu      sync.Mutex
	pending map[string]chan core.InstallOutcome
}

var _ core.Installer = (*MQTTInstaller)(nil)

func NewMQTTInstaller(client mqtt.Client, topics *topic.TopicBuilder, opts Options, logger log.Logger) *MQTTInstaller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if logger == nil {
		logger = log.WithName("installer")
	}
	return &MQTTInstaller{
		client:  client,
		topics:  topics,
		opts:    opts,
		log:     logger,
		pending: map[string]chan core.InstallOutcome{},
	}
}

// Start subscribes to the result topics. The client must already be started.
func (m *MQTTInstaller) Start(ctx context.Context) error {
	return m.client.Subscribe(ctx, m.topics.InstallResultWildcard(), m.opts.QoS, m.handleResult)
}

// Install publishes request for appID and blocks until the installer answers,
// the timeout expires or ctx is done.
func (m *MQTTInstaller) Install(ctx context.Context, appID string, request []byte) (core.InstallOutcome, error) {
	failure := core.InstallOutcome{Result: model.InstallResultFailure}

	id := uuid.NewString()
	payload, err := json.Marshal(Request{RequestID: id, AppID: appID, Blob: request})
	if err != nil {
		return failure, err
	}

	ch := make(chan core.InstallOutcome, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}()

	start := m.opts.Clock.Now()
	if err := m.client.Publish(ctx, m.topics.InstallRequest(appID), m.opts.QoS, false, payload); err != nil {
		return failure, fmt.Errorf("publish install request: %w", err)
	}
	m.log.Info("Install request published", "app", appID, "requestId", id, "bytes", len(request))

	timer := m.opts.Clock.NewTimer(m.opts.Timeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		metrics.InstallLatency.Observe(m.opts.Clock.Since(start).Seconds())
		return outcome, nil
	case <-timer.C():
		return failure, ErrTimeout
	case <-ctx.Done():
		return failure, ctx.Err()
	}
}

// Pending returns the number of requests waiting for an answer.
func (m *MQTTInstaller) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *MQTTInstaller) handleResult(_ context.Context, t string, payload []byte) {
	appID := m.topics.AppID(topic.SuffixInstallResult, t)

	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		m.log.Error(err, "Malformed install result", "topic", t)
		return
	}
	result, err := model.ParseInstallResult(res.Result)
	if err != nil {
		m.log.Warn("Unknown install result, treating as failure", "app", appID, "result", res.Result)
		result = model.InstallResultFailure
	}

	m.mu.Lock()
	ch, ok := m.pending[res.RequestID]
	m.mu.Unlock()
	if !ok {
		m.log.Debug("Install result for unknown request", "app", appID, "requestId", res.RequestID)
		return
	}

	select {
	case ch <- core.InstallOutcome{Result: result, RelaxUpdates: res.RelaxUpdates}:
	default:
	}
}
