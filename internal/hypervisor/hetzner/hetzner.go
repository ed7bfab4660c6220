// Package hetzner adapts the Hetzner Cloud API to the hypervisor
// contracts. Hetzner "actions" play the role of hypervisor tasks.
package hetzner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/retry"
	"nathanbeddoewebdev/vpsd/internal/services/auth"
)

// ProviderName is the registry key for this adapter.
const ProviderName = "hetzner"

// Task types understood by StartTask.
const (
	TaskStop   = "qmstop"
	TaskStart  = "qmstart"
	TaskClone  = "qmclone"
	TaskBackup = "vzdump"
	TaskReboot = "qmreboot"
)

// Client implements hypervisor.TaskClient, hypervisor.ActionClient and
// hypervisor.UsageClient.
type Client struct {
	client       *hcloud.Client
	retry        retry.Config
	rebuildImage string
}

// Option configures a Client.
type Option func(*Client)

// WithRebuildImage sets the image installed by the clone task.
func WithRebuildImage(name string) Option {
	return func(c *Client) { c.rebuildImage = name }
}

// WithRetry overrides the per-call retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a Client. hcloud options such as WithToken or WithEndpoint
// are applied after the defaults.
func New(hcloudOpts []hcloud.ClientOption, opts ...Option) *Client {
	defaults := []hcloud.ClientOption{
		hcloud.WithApplication("vpsd", "0.1.0"),
	}
	c := &Client{
		client:       hcloud.NewClient(append(defaults, hcloudOpts...)...),
		retry:        retry.DefaultConfig(),
		rebuildImage: "ubuntu-24.04",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds the Hetzner adapter to the hypervisor registry. opts are
// applied to every client the registry builds.
func Register(opts ...Option) {
	hypervisor.Register(ProviderName, func(store auth.Store) (hypervisor.TaskClient, error) {
		token, err := auth.ResolveToken(store, ProviderName)
		if err != nil {
			return nil, fmt.Errorf("hetzner auth: %w", err)
		}
		return New([]hcloud.ClientOption{hcloud.WithToken(token)}, opts...), nil
	})
}

// Configure applies opts to an existing client.
func (c *Client) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// GetTaskStatus maps the Hetzner action with the given id to a task status.
func (c *Client) GetTaskStatus(ctx context.Context, externalTaskID string) (*hypervisor.TaskStatus, error) {
	id, err := strconv.ParseInt(externalTaskID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid action id %q: %w", externalTaskID, hypervisor.ErrMalformedResponse)
	}

	action, err := retry.DoValue(ctx, c.retry, nil, func() (*hcloud.Action, error) {
		a, _, err := c.client.Action.GetByID(ctx, id)
		return a, err
	})
	if err != nil {
		return nil, mapError("get action", err)
	}
	if action == nil {
		return nil, fmt.Errorf("action %d: %w", id, hypervisor.ErrNotFound)
	}
	return toTaskStatus(action), nil
}

// toTaskStatus maps an action onto a TaskStatus. A status this adapter does
// not know is passed through so the monitor fails the task instead of
// retrying it.
func toTaskStatus(a *hcloud.Action) *hypervisor.TaskStatus {
	switch a.Status {
	case hcloud.ActionStatusRunning:
		return &hypervisor.TaskStatus{
			Status:   hypervisor.TaskRunning,
			LogLines: []string{progressLine(a)},
		}
	case hcloud.ActionStatusSuccess:
		return &hypervisor.TaskStatus{
			Status:     hypervisor.TaskStopped,
			ExitStatus: hypervisor.Str(hypervisor.ExitOK),
			LogLines:   []string{progressLine(a)},
		}
	case hcloud.ActionStatusError:
		msg := a.ErrorMessage
		if a.ErrorCode != "" {
			msg = a.ErrorCode + ": " + msg
		}
		if msg == "" {
			msg = "action failed"
		}
		return &hypervisor.TaskStatus{
			Status:     hypervisor.TaskStopped,
			ExitStatus: hypervisor.Str(msg),
		}
	default:
		return &hypervisor.TaskStatus{Status: string(a.Status)}
	}
}

// progressLine renders the integer percentage Hetzner reports as a
// transfer marker so the shared progress parser can read it.
func progressLine(a *hcloud.Action) string {
	return fmt.Sprintf("%s: transferred %d B of 100 B (%d%%)", a.Command, a.Progress, a.Progress)
}

// StartTask starts the Hetzner action equivalent to taskType on the
// server resourceID and returns the action id.
func (c *Client) StartTask(ctx context.Context, resourceID, taskType string) (string, error) {
	serverID, err := strconv.ParseInt(resourceID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid server ID %q: %w", resourceID, err)
	}
	server := &hcloud.Server{ID: serverID}

	var action *hcloud.Action
	switch taskType {
	case TaskStop:
		action, _, err = c.client.Server.Poweroff(ctx, server)
	case TaskStart:
		action, _, err = c.client.Server.Poweron(ctx, server)
	case TaskReboot:
		action, _, err = c.client.Server.Reboot(ctx, server)
	case TaskClone:
		var result hcloud.ServerRebuildResult
		result, _, err = c.client.Server.RebuildWithResult(ctx, server, hcloud.ServerRebuildOpts{
			Image: &hcloud.Image{Name: c.rebuildImage},
		})
		action = result.Action
	case TaskBackup:
		var result hcloud.ServerCreateImageResult
		desc := fmt.Sprintf("vpsd backup %s", time.Now().UTC().Format(time.RFC3339))
		result, _, err = c.client.Server.CreateImage(ctx, server, &hcloud.ServerCreateImageOpts{
			Type:        hcloud.ImageTypeSnapshot,
			Description: &desc,
		})
		action = result.Action
	default:
		return "", fmt.Errorf("%s: %w", taskType, hypervisor.ErrUnsupportedTask)
	}
	if err != nil {
		return "", mapError(taskType, err)
	}
	if action == nil {
		return "", fmt.Errorf("%s returned no action: %w", taskType, hypervisor.ErrMalformedResponse)
	}
	return strconv.FormatInt(action.ID, 10), nil
}

// usageSeries maps Hetzner metric series names onto Usage fields.
var usageSeries = map[string]func(u *hypervisor.Usage, v float64){
	"cpu":                     func(u *hypervisor.Usage, v float64) { u.CPUPercent = v },
	"disk.0.bandwidth.read":   func(u *hypervisor.Usage, v float64) { u.DiskRead = v },
	"disk.0.bandwidth.write":  func(u *hypervisor.Usage, v float64) { u.DiskWrite = v },
	"network.0.bandwidth.in":  func(u *hypervisor.Usage, v float64) { u.NetworkIn = v },
	"network.0.bandwidth.out": func(u *hypervisor.Usage, v float64) { u.NetworkOut = v },
}

// UsageWindow is how far back GetUsage looks for the latest sample.
var UsageWindow = 5 * time.Minute

// GetUsage returns the most recent metric values for the server.
func (c *Client) GetUsage(ctx context.Context, resourceID string) (*hypervisor.Usage, error) {
	serverID, err := strconv.ParseInt(resourceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid server ID %q: %w", resourceID, err)
	}

	end := time.Now().UTC()
	opts := hcloud.ServerGetMetricsOpts{
		Types: []hcloud.ServerMetricType{hcloud.ServerMetricCPU, hcloud.ServerMetricDisk, hcloud.ServerMetricNetwork},
		Start: end.Add(-UsageWindow),
		End:   end,
		Step:  60,
	}

	metrics, err := retry.DoValue(ctx, c.retry, nil, func() (*hcloud.ServerMetrics, error) {
		m, _, err := c.client.Server.GetMetrics(ctx, &hcloud.Server{ID: serverID}, opts)
		return m, err
	})
	if err != nil {
		return nil, mapError("get metrics", err)
	}
	if metrics == nil {
		return nil, fmt.Errorf("server %d: %w", serverID, hypervisor.ErrMalformedResponse)
	}

	usage := &hypervisor.Usage{ResourceID: resourceID, SampledAt: metrics.End}
	for name, values := range metrics.TimeSeries {
		set, ok := usageSeries[name]
		if !ok || len(values) == 0 {
			continue
		}
		last := values[len(values)-1]
		v, err := strconv.ParseFloat(last.Value, 64)
		if err != nil {
			continue
		}
		set(usage, v)
	}
	return usage, nil
}

// mapError translates hcloud errors into hypervisor sentinels.
func mapError(op string, err error) error {
	switch {
	case hcloud.IsError(err, hcloud.ErrorCodeNotFound):
		return fmt.Errorf("%s: %w", op, hypervisor.ErrNotFound)
	case hcloud.IsError(err, hcloud.ErrorCodeUnauthorized):
		return fmt.Errorf("%s: %w", op, hypervisor.ErrUnauthorized)
	case hcloud.IsError(err, hcloud.ErrorCodeRateLimitExceeded):
		return fmt.Errorf("%s: %w", op, hypervisor.ErrRateLimited)
	case retry.IsRetryable(err):
		return fmt.Errorf("%s: %w: %w", op, hypervisor.ErrUnreachable, err)
	}
	var hcErr hcloud.Error
	if errors.As(err, &hcErr) {
		return fmt.Errorf("%s: %s: %s", op, hcErr.Code, hcErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
