package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/codequery-ai/orchestrator/internal/circuitbreaker"
	"github.com/codequery-ai/orchestrator/internal/directory"
)

// RedisChecker checks Redis connectivity through the breaker wrapper.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return false }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Timestamp: start}

	if err := r.wrapper.Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "ping ok"
	}
	result.Duration = time.Since(start)
	return result
}

// ServiceChecker probes an HTTP dependency's health endpoint.
type ServiceChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
	timeout  time.Duration
}

func NewServiceChecker(name, url string, critical bool) *ServiceChecker {
	return &ServiceChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{},
		timeout:  5 * time.Second,
	}
}

func (s *ServiceChecker) Name() string           { return s.name }
func (s *ServiceChecker) IsCritical() bool       { return s.critical }
func (s *ServiceChecker) Timeout() time.Duration { return s.timeout }

func (s *ServiceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: s.name, Critical: s.critical, Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	resp, err := s.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("status %d", resp.StatusCode)
	return result
}

// DirectoryChecker verifies that agent cards are loaded and a planner
// is resolvable.
type DirectoryChecker struct {
	dir     *directory.Directory
	timeout time.Duration
}

func NewDirectoryChecker(dir *directory.Directory) *DirectoryChecker {
	return &DirectoryChecker{dir: dir, timeout: time.Second}
}

func (d *DirectoryChecker) Name() string           { return "directory" }
func (d *DirectoryChecker) IsCritical() bool       { return true }
func (d *DirectoryChecker) Timeout() time.Duration { return d.timeout }

func (d *DirectoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "directory", Critical: true, Timestamp: start}

	cards := d.dir.Cards()
	if len(cards) == 0 {
		result.Status = StatusUnhealthy
		result.Error = "no agent cards loaded"
		result.Duration = time.Since(start)
		return result
	}
	if _, err := d.dir.ResolvePlanner(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d agent cards", len(cards))
	result.Duration = time.Since(start)
	return result
}
